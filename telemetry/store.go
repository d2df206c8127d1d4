package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"healthassist/store"
)

// MaxRecords is the retention cap per user. Older records are dropped first.
const MaxRecords = 500

const subscriberBuffer = 16

var ErrNoUser = errors.New("empty user id")

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRand makes synthetic records reproducible.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.normal = r.NormFloat64 }
}

// Store owns every user's series. Each mutation runs read-modify-evict-persist
// under one lock, and a failed persist rolls the in-memory series back.
type Store struct {
	mu          sync.Mutex
	series      map[string][]Record
	backend     store.Backend
	now         func() time.Time
	normal      func() float64
	subscribers map[string]map[chan Record]struct{}
}

func NewStore(ctx context.Context, backend store.Backend, opts ...Option) (*Store, error) {
	raw, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading telemetry: %w", err)
	}
	series, err := store.Decode[[]Record](raw)
	if err != nil {
		return nil, fmt.Errorf("error decoding telemetry: %w", err)
	}

	s := &Store{
		series:      series,
		backend:     backend,
		now:         time.Now,
		normal:      rand.NormFloat64,
		subscribers: map[string]map[chan Record]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Info("Loaded telemetry", "users", len(series))
	return s, nil
}

func (s *Store) Append(ctx context.Context, userID string, rec Record) (Record, error) {
	if userID == "" {
		return Record{}, ErrNoUser
	}
	rec = rec.clone()
	if err := rec.normalize(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ctx, userID, rec)
}

// AppendSynthetic stores one generated sample for demos and seeding.
func (s *Store) AppendSynthetic(ctx context.Context, userID string) (Record, error) {
	if userID == "" {
		return Record{}, ErrNoUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ctx, userID, synthetic(s.normal))
}

func (s *Store) appendLocked(ctx context.Context, userID string, rec Record) (Record, error) {
	if rec.Timestamp == 0 {
		rec.Timestamp = s.now().Unix()
	}

	prev, existed := s.series[userID]
	next := make([]Record, 0, min(len(prev)+1, MaxRecords))
	if drop := len(prev) + 1 - MaxRecords; drop > 0 {
		next = append(next, prev[drop:]...)
	} else {
		next = append(next, prev...)
	}
	next = append(next, rec)
	s.series[userID] = next

	if err := s.persist(ctx); err != nil {
		if existed {
			s.series[userID] = prev
		} else {
			delete(s.series, userID)
		}
		return Record{}, err
	}

	s.publish(userID, rec)
	return rec.clone(), nil
}

// Read returns the retained series in append order.
func (s *Store) Read(userID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.series[userID]
	out := make([]Record, len(series))
	for i, rec := range series {
		out[i] = rec.clone()
	}
	return out
}

// Clear empties the user's series and reports how many records were removed.
// Clearing an unknown user is a no-op.
func (s *Store) Clear(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.series[userID]
	if !ok {
		return 0, nil
	}
	delete(s.series, userID)

	if err := s.persist(ctx); err != nil {
		s.series[userID] = prev
		return 0, err
	}
	return len(prev), nil
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context) error {
	raw, err := store.Encode(s.series)
	if err != nil {
		return err
	}
	if err := s.backend.Save(ctx, raw); err != nil {
		return fmt.Errorf("error saving telemetry: %w", err)
	}
	return nil
}

// Subscribe delivers every record appended for userID from now on. Slow
// subscribers miss records rather than block appends. Call cancel when done.
func (s *Store) Subscribe(userID string) (<-chan Record, func()) {
	ch := make(chan Record, subscriberBuffer)

	s.mu.Lock()
	if s.subscribers[userID] == nil {
		s.subscribers[userID] = map[chan Record]struct{}{}
	}
	s.subscribers[userID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers[userID], ch)
			if len(s.subscribers[userID]) == 0 {
				delete(s.subscribers, userID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// publish must be called with s.mu held.
func (s *Store) publish(userID string, rec Record) {
	for ch := range s.subscribers[userID] {
		select {
		case ch <- rec.clone():
		default:
			slog.Warn("Dropping telemetry update for slow subscriber", "user_id", userID)
		}
	}
}

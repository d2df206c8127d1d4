package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"healthassist/cryptoutil"
)

const (
	sessionCookieName = "session"
	oneDayInHours     = 24
)

var ErrNoSession = errors.New("no session")

// User is the public identity installed into a session after a local or
// OAuth login.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type Session struct {
	ID        string
	User      *User
	ExpiresAt int64
	pending   *Pending
}

// Pending is an OAuth login waiting for its callback. Verifier is the PKCE
// code verifier, only sent to providers that use PKCE.
type Pending struct {
	State    string
	Provider string
	Verifier string
}

// Manager keeps sessions in memory only; a restart logs everyone out.
type Manager struct {
	mu                      sync.Mutex
	sessions                map[string]*Session
	sessionExpirationInDays int64
	refreshThresholdInDays  int64
	isProd                  bool
	now                     func() time.Time
}

func NewManager(sessionExpirationInDays int64, refreshThresholdInDays int64, isProd bool) *Manager {
	return &Manager{
		sessions:                map[string]*Session{},
		sessionExpirationInDays: sessionExpirationInDays,
		refreshThresholdInDays:  refreshThresholdInDays,
		isProd:                  isProd,
		now:                     time.Now,
	}
}

func (m *Manager) newExpiresAt() int64 {
	return m.now().Add(time.Duration(m.sessionExpirationInDays) * oneDayInHours * time.Hour).Unix()
}

// create must be called with m.mu held.
func (m *Manager) create(w http.ResponseWriter, user *User) (*Session, error) {
	token, err := cryptoutil.Random()
	if err != nil {
		return nil, err
	}
	m.sweep()

	s := &Session{
		ID:        cryptoutil.ID(token),
		User:      user,
		ExpiresAt: m.newExpiresAt(),
	}
	m.sessions[s.ID] = s
	m.SetSessionCookie(w, token, s.ExpiresAt)
	return s, nil
}

// sweep drops expired sessions. Must be called with m.mu held.
func (m *Manager) sweep() {
	now := m.now().Unix()
	for id, s := range m.sessions {
		if now > s.ExpiresAt {
			delete(m.sessions, id)
		}
	}
}

// validate returns the live session for token, refreshing its expiry when it
// is inside the refresh window. Must be called with m.mu held.
func (m *Manager) validate(token string) (s *Session, refreshed bool, err error) {
	if token == "" {
		return nil, false, fmt.Errorf("empty session token")
	}

	s, ok := m.sessions[cryptoutil.ID(token)]
	if !ok {
		return nil, false, ErrNoSession
	}

	now := m.now()
	expiresAt := time.Unix(s.ExpiresAt, 0)
	if now.After(expiresAt) {
		delete(m.sessions, s.ID)
		return nil, false, ErrNoSession
	}

	thresholdDuration := time.Duration(m.refreshThresholdInDays) * oneDayInHours * time.Hour
	if now.After(expiresAt.Add(-thresholdDuration)) {
		s.ExpiresAt = m.newExpiresAt()
		refreshed = true
	}
	return s, refreshed, nil
}

func snapshot(s *Session) *Session {
	out := &Session{ID: s.ID, ExpiresAt: s.ExpiresAt}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// Load resolves the request's session cookie. It returns ErrNoSession when
// there is no live session. A refreshed session gets a new cookie expiry.
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, refreshed, err := m.validate(cookie.Value)
	if err != nil {
		return nil, err
	}
	if refreshed {
		m.SetSessionCookie(w, cookie.Value, s.ExpiresAt)
	}
	return snapshot(s), nil
}

// Ensure returns the id of the caller's session, starting an anonymous one
// if needed. OAuth state needs somewhere to live before anyone is logged in.
func (m *Manager) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if s, _, err := m.validate(cookie.Value); err == nil {
			return s.ID, nil
		}
	}

	s, err := m.create(w, nil)
	if err != nil {
		return "", fmt.Errorf("error creating session: %w", err)
	}
	return s.ID, nil
}

// Login installs user into a fresh session. Any session the request already
// carried is destroyed so a token seen before login is useless after it.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, user User) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		delete(m.sessions, cryptoutil.ID(cookie.Value))
	}

	s, err := m.create(w, &user)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return snapshot(s), nil
}

func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		m.mu.Lock()
		delete(m.sessions, cryptoutil.ID(cookie.Value))
		m.mu.Unlock()
	}
	m.DeleteSessionCookie(w)
}

// IssueState records a fresh OAuth state and code verifier for the session,
// replacing any earlier pending login.
func (m *Manager) IssueState(sessionID, provider string) (Pending, error) {
	state, err := cryptoutil.CreateState()
	if err != nil {
		return Pending{}, err
	}
	verifier, err := cryptoutil.CreateCodeVerifier()
	if err != nil {
		return Pending{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Pending{}, ErrNoSession
	}
	pending := Pending{State: state, Provider: provider, Verifier: verifier}
	s.pending = &pending
	return pending, nil
}

// ConsumeState checks returned against the state last issued to the session
// and clears it whether or not it matched. The pending login is returned on a
// match.
func (m *Manager) ConsumeState(sessionID, returned string) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, found := m.sessions[sessionID]
	if !found || s.pending == nil {
		return Pending{}, false
	}
	pending := *s.pending
	s.pending = nil

	if returned == "" || subtle.ConstantTimeCompare([]byte(pending.State), []byte(returned)) != 1 {
		return Pending{}, false
	}
	return pending, true
}

func (m *Manager) SetSessionCookie(w http.ResponseWriter, token string, expiresAt int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		Secure:   m.isProd,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(expiresAt, 0),
	})
}

func (m *Manager) DeleteSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		Secure:   m.isProd,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

type contextKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}

// UserFromContext returns the logged in user, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *User {
	s, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return s.User
}

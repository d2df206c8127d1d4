package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"healthassist/cryptoutil"
	"healthassist/session"
	"healthassist/store"
)

const MinPasswordLength = 8

var (
	ErrValidation         = errors.New("email and password are required")
	ErrWeakCredential     = errors.New("password is too short")
	ErrConflict           = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Public is the session projection of the account. Local accounts are keyed
// by their normalized email everywhere a user id is needed.
func (a Account) Public() session.User {
	return session.User{ID: a.Email, Email: a.Email, DisplayName: a.DisplayName}
}

// Store owns the email -> account mapping. Every mutation is written through
// to the backend before it returns.
type Store struct {
	mu       sync.Mutex
	accounts map[string]Account
	backend  store.Backend
	now      func() time.Time
}

func NewStore(ctx context.Context, backend store.Backend) (*Store, error) {
	raw, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading accounts: %w", err)
	}
	accounts, err := store.Decode[Account](raw)
	if err != nil {
		return nil, fmt.Errorf("error decoding accounts: %w", err)
	}
	slog.Info("Loaded accounts", "count", len(accounts))
	return &Store{accounts: accounts, backend: backend, now: time.Now}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) Register(ctx context.Context, name, email, password string) (Account, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Account{}, ErrValidation
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return Account{}, ErrWeakCredential
	}

	// Hashing is slow; do it before taking the lock.
	hash, err := cryptoutil.HashPassword(password)
	if err != nil {
		return Account{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[email]; exists {
		return Account{}, ErrConflict
	}

	account := Account{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  name,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	s.accounts[email] = account

	if err := s.persist(ctx); err != nil {
		delete(s.accounts, email)
		return Account{}, err
	}
	return account, nil
}

// unknownAccountHash is compared against when the email is not registered so
// both failure paths cost one bcrypt comparison.
var unknownAccountHash = sync.OnceValue(func() string {
	hash, err := cryptoutil.HashPassword("unknown-account")
	if err != nil {
		slog.Error("Failed to hash placeholder password", "error", err)
	}
	return hash
})

// Authenticate reports ErrInvalidCredentials for both unknown emails and
// wrong passwords.
func (s *Store) Authenticate(_ context.Context, email, password string) (Account, error) {
	account, ok := s.Lookup(email)
	if !ok {
		cryptoutil.VerifyPassword(password, unknownAccountHash())
		return Account{}, ErrInvalidCredentials
	}
	if !cryptoutil.VerifyPassword(password, account.PasswordHash) {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func (s *Store) Lookup(email string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[NormalizeEmail(email)]
	return account, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context) error {
	raw, err := store.Encode(s.accounts)
	if err != nil {
		return err
	}
	if err := s.backend.Save(ctx, raw); err != nil {
		return fmt.Errorf("error saving accounts: %w", err)
	}
	return nil
}

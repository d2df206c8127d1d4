package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthassist/store"
)

func newTestStore(t *testing.T) (*Store, *store.Memory) {
	t.Helper()
	backend := store.NewMemory()
	s, err := NewStore(context.Background(), backend)
	require.NoError(t, err)
	return s, backend
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	account, err := s.Register(ctx, "Ada", "  Ada@Example.com ", "lovelace1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", account.Email)
	assert.Equal(t, "Ada", account.DisplayName)
	assert.NotEmpty(t, account.ID)
	assert.NotEqual(t, "lovelace1", account.PasswordHash)
	assert.Equal(t, 1, backend.Saves())

	got, err := s.Authenticate(ctx, "ADA@example.com", "lovelace1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	public := got.Public()
	assert.Equal(t, "ada@example.com", public.ID)
	assert.Equal(t, "ada@example.com", public.Email)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	_, err := s.Register(ctx, "x", "", "password1")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.Register(ctx, "x", "   ", "password1")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.Register(ctx, "x", "x@example.com", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.Register(ctx, "x", "x@example.com", "short")
	assert.ErrorIs(t, err, ErrWeakCredential)
	// seven characters, fourteen bytes
	_, err = s.Register(ctx, "x", "x@example.com", "ééééééé")
	assert.ErrorIs(t, err, ErrWeakCredential)

	assert.Equal(t, 0, backend.Saves())
	assert.Equal(t, 0, s.Len())
}

func TestRegisterConflict(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Register(ctx, "", "grace@example.com", "hopper123")
	require.NoError(t, err)
	_, err = s.Register(ctx, "", "GRACE@example.com ", "different1")
	assert.ErrorIs(t, err, ErrConflict)

	// the original password still works
	_, err = s.Authenticate(ctx, "grace@example.com", "hopper123")
	assert.NoError(t, err)
}

func TestDisplayNameDefaultsToLocalPart(t *testing.T) {
	s, _ := newTestStore(t)
	account, err := s.Register(context.Background(), " ", "linus@example.com", "torvalds1")
	require.NoError(t, err)
	assert.Equal(t, "linus", account.DisplayName)
}

func TestAuthenticateFailuresLookAlike(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.Register(ctx, "", "ken@example.com", "thompson1")
	require.NoError(t, err)

	_, wrongPassword := s.Authenticate(ctx, "ken@example.com", "thompson2")
	_, unknownEmail := s.Authenticate(ctx, "dmr@example.com", "thompson1")
	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestRegisterRollsBackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)
	backend.Fail(errors.New("disk full"))

	_, err := s.Register(ctx, "", "barbara@example.com", "liskov123")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)

	_, ok := s.Lookup("barbara@example.com")
	assert.False(t, ok)

	backend.Fail(nil)
	_, err = s.Register(ctx, "", "barbara@example.com", "liskov123")
	assert.NoError(t, err)
}

func TestAccountsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	backend, err := store.NewFile(t.TempDir(), "accounts.json")
	require.NoError(t, err)

	s, err := NewStore(ctx, backend)
	require.NoError(t, err)
	_, err = s.Register(ctx, "Edsger", "edsger@example.com", "dijkstra1")
	require.NoError(t, err)

	restarted, err := NewStore(ctx, backend)
	require.NoError(t, err)
	account, err := restarted.Authenticate(ctx, "edsger@example.com", "dijkstra1")
	require.NoError(t, err)
	assert.Equal(t, "Edsger", account.DisplayName)
}

func TestConcurrentRegistrationsOfSameEmail(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Register(ctx, "", "race@example.com", fmt.Sprintf("password-%d", i))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, conflicts)
}

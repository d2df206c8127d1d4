package herr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthassist/accounts"
	"healthassist/auth"
	"healthassist/identity"
	"healthassist/predict"
	"healthassist/store"
	"healthassist/telemetry"
)

func TestFrom(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind Kind
	}{
		{fmt.Errorf("%w: save: disk full", store.ErrStorage), http.StatusInternalServerError, KindStorageFailure},
		{accounts.ErrValidation, http.StatusBadRequest, KindValidation},
		{accounts.ErrWeakCredential, http.StatusBadRequest, KindWeakCredential},
		{accounts.ErrConflict, http.StatusConflict, KindConflict},
		{accounts.ErrInvalidCredentials, http.StatusUnauthorized, KindInvalidCredentials},
		{fmt.Errorf("%w: field", telemetry.ErrInvalidRecord), http.StatusBadRequest, KindValidation},
		{predict.ErrNoSymptoms, http.StatusBadRequest, KindValidation},
		{identity.ErrMismatch, http.StatusUnauthorized, KindUnauthorized},
		{identity.ErrMissing, http.StatusUnauthorized, KindUnauthorized},
		{auth.ErrUnknownProvider, http.StatusNotFound, KindNotFound},
		{auth.ErrStateMismatch, http.StatusBadRequest, KindStateMismatch},
		{auth.ErrProviderError, http.StatusBadRequest, KindProviderError},
		{auth.ErrExchangeFailed, http.StatusInternalServerError, KindExchangeFailed},
		{errors.New("something else"), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			e := From(tt.err, "test")
			require.NotNil(t, e)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.kind, e.Kind)
			assert.ErrorIs(t, e.Err, tt.err)
		})
	}

	assert.Nil(t, From(nil, "test"))
}

func TestStorageFailureHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/track", nil)

	Wrap(func(w http.ResponseWriter, r *http.Request) *Error {
		return From(fmt.Errorf("%w: rename /data/telemetry.json: read-only file system", store.ErrStorage), "appending")
	}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Internal server error","kind":"storage_failure"}`, rec.Body.String())
}

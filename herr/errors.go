package herr

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"healthassist/accounts"
	"healthassist/auth"
	"healthassist/identity"
	"healthassist/predict"
	"healthassist/store"
	"healthassist/telemetry"
)

type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindWeakCredential     Kind = "weak_credential"
	KindConflict           Kind = "conflict"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not_found"
	KindStateMismatch      Kind = "state_mismatch"
	KindProviderError      Kind = "provider_error"
	KindExchangeFailed     Kind = "exchange_failed"
	KindStorageFailure     Kind = "storage_failure"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal"
)

// Error is returned by handlers. Message is sent to the caller, Desc and Err
// are only logged.
type Error struct {
	Err     error
	Kind    Kind
	Message string
	Desc    string
	Code    int
}

type Wrap func(w http.ResponseWriter, r *http.Request) *Error

func (fn Wrap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e := fn(w, r); e != nil {
		Write(w, r, e)
	}
}

// Write logs e and renders it as a JSON error body.
func Write(w http.ResponseWriter, r *http.Request, e *Error) {
	attrs := []any{"kind", e.Kind, "desc", e.Desc, "code", e.Code, "path", r.URL.Path}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	if e.Code >= http.StatusInternalServerError {
		slog.Error("Error in handler", attrs...)
	} else {
		slog.Warn("Error in handler", attrs...)
	}
	JSON(w, e.Code, map[string]string{"error": e.Message, "kind": string(e.Kind)})
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func newError(kind Kind, code int, err error, message, desc string) *Error {
	return &Error{Err: err, Kind: kind, Message: message, Desc: desc, Code: code}
}

func Internal(err error, desc string) *Error {
	return newError(KindInternal, http.StatusInternalServerError, err, "Internal server error", desc)
}

func Storage(err error, desc string) *Error {
	return newError(KindStorageFailure, http.StatusInternalServerError, err, "Internal server error", desc)
}

func BadRequest(err error, message string) *Error {
	return newError(KindValidation, http.StatusBadRequest, err, message, message)
}

func Unauthorized(err error, desc string) *Error {
	return newError(KindUnauthorized, http.StatusUnauthorized, err, "Unauthorized", desc)
}

func NotFound(err error, message string) *Error {
	return newError(KindNotFound, http.StatusNotFound, err, message, message)
}

func TooManyRequests(desc string) *Error {
	return newError(KindRateLimited, http.StatusTooManyRequests, nil, "Too many requests", desc)
}

// From maps a domain error onto the response taxonomy. Anything it does not
// recognise becomes an opaque 500.
func From(err error, desc string) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrStorage):
		return Storage(err, desc)
	case errors.Is(err, accounts.ErrValidation):
		return newError(KindValidation, http.StatusBadRequest, err, "email and password are required", desc)
	case errors.Is(err, accounts.ErrWeakCredential):
		return newError(KindWeakCredential, http.StatusBadRequest, err, "password must be at least 8 characters", desc)
	case errors.Is(err, accounts.ErrConflict):
		return newError(KindConflict, http.StatusConflict, err, "email already registered", desc)
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return newError(KindInvalidCredentials, http.StatusUnauthorized, err, "invalid email or password", desc)
	case errors.Is(err, telemetry.ErrInvalidRecord), errors.Is(err, predict.ErrNoSymptoms), errors.Is(err, predict.ErrInvalidTopK):
		return newError(KindValidation, http.StatusBadRequest, err, err.Error(), desc)
	case errors.Is(err, identity.ErrMismatch), errors.Is(err, identity.ErrMissing):
		return Unauthorized(err, desc)
	case errors.Is(err, auth.ErrUnknownProvider):
		return NotFound(err, "unknown provider")
	case errors.Is(err, auth.ErrStateMismatch):
		return newError(KindStateMismatch, http.StatusBadRequest, err, "invalid OAuth state or missing code", desc)
	case errors.Is(err, auth.ErrProviderError):
		return newError(KindProviderError, http.StatusBadRequest, err, "identity provider returned an error", desc)
	case errors.Is(err, auth.ErrExchangeFailed):
		return newError(KindExchangeFailed, http.StatusInternalServerError, err, "failed to exchange authorization code", desc)
	default:
		return Internal(err, desc)
	}
}

func WS(conn *websocket.Conn, err error, desc string) {
	code := websocket.CloseInternalServerErr
	if errors.Is(err, context.Canceled) {
		code = websocket.CloseGoingAway
	}

	slog.Error("WebSocket error", "desc", desc, "error", err)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, desc))
}

func WSClose(conn *websocket.Conn, desc string) {
	slog.Info("WebSocket closing", "desc", desc)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, desc))
}

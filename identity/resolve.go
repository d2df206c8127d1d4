// Package identity decides which user a request acts for.
//
// A logged in session always wins. An explicit id is only honoured on its own
// when there is no session, and must agree with the session when both are
// present.
package identity

import (
	"errors"
	"net/http"

	"healthassist/session"
)

const (
	Header     = "X-User-Id"
	QueryParam = "user_id"
)

var (
	ErrMismatch = errors.New("explicit user id does not match session")
	ErrMissing  = errors.New("no user id")
)

func Resolve(sessionUser *session.User, explicit string) (string, error) {
	if sessionUser != nil {
		if explicit != "" && explicit != sessionUser.ID {
			return "", ErrMismatch
		}
		return sessionUser.ID, nil
	}
	if explicit == "" {
		return "", ErrMissing
	}
	return explicit, nil
}

// Explicit returns the caller supplied id verbatim, header first.
func Explicit(r *http.Request) string {
	if id := r.Header.Get(Header); id != "" {
		return id
	}
	return r.URL.Query().Get(QueryParam)
}

func FromRequest(r *http.Request) (string, error) {
	return Resolve(session.UserFromContext(r.Context()), Explicit(r))
}

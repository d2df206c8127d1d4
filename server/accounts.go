package server

import (
	"net/http"
	"strings"

	"healthassist/accounts"
	"healthassist/herr"
	"healthassist/metrics"
	"healthassist/session"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	Message string       `json:"message"`
	User    session.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) *herr.Error {
	var req registerRequest
	if e := decodeJSON(w, r, &req); e != nil {
		return e
	}

	account, err := s.accounts.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		metrics.RecordLogin("register", "failure")
		return herr.From(err, "registering account")
	}

	user := account.Public()
	if _, err := s.sessionManager.Login(w, r, user); err != nil {
		return herr.Internal(err, "creating session after registration")
	}
	metrics.RecordLogin("register", "success")

	herr.JSON(w, http.StatusCreated, registerResponse{Message: "registered", User: user})
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) *herr.Error {
	var req loginRequest
	if e := decodeJSON(w, r, &req); e != nil {
		return e
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return herr.From(accounts.ErrValidation, "login without credentials")
	}

	account, err := s.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		metrics.RecordLogin("password", "failure")
		return herr.From(err, "authenticating")
	}

	user := account.Public()
	if _, err := s.sessionManager.Login(w, r, user); err != nil {
		return herr.Internal(err, "creating session after login")
	}
	metrics.RecordLogin("password", "success")

	herr.JSON(w, http.StatusOK, user)
	return nil
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) *herr.Error {
	user := session.UserFromContext(r.Context())
	if user == nil {
		return herr.Unauthorized(nil, "no logged in user")
	}
	herr.JSON(w, http.StatusOK, user)
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) *herr.Error {
	if session.UserFromContext(r.Context()) == nil {
		return herr.Unauthorized(nil, "logout without session")
	}
	s.sessionManager.Logout(w, r)
	herr.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
	return nil
}

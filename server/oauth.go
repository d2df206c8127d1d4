package server

import (
	"net/http"

	"healthassist/auth"
	"healthassist/herr"
	"healthassist/metrics"
	"healthassist/session"
)

func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) *herr.Error {
	provider := r.PathValue("provider")
	if _, err := s.gateway.Provider(provider); err != nil {
		return herr.From(err, "starting OAuth login")
	}

	sessionID, err := s.sessionManager.Ensure(w, r)
	if err != nil {
		return herr.Internal(err, "creating session for OAuth state")
	}
	pending, err := s.sessionManager.IssueState(sessionID, provider)
	if err != nil {
		return herr.Internal(err, "issuing OAuth state")
	}

	authorizationURL, err := s.gateway.AuthorizationURL(pending)
	if err != nil {
		return herr.From(err, "building authorization URL")
	}

	http.Redirect(w, r, authorizationURL, http.StatusFound)
	return nil
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) *herr.Error {
	current, hasSession := session.FromContext(r.Context())

	var provider string
	consume := func(returned string) (session.Pending, bool) {
		if !hasSession {
			return session.Pending{}, false
		}
		pending, ok := s.sessionManager.ConsumeState(current.ID, returned)
		provider = pending.Provider
		return pending, ok
	}

	user, err := s.gateway.Complete(r.Context(), auth.CallbackFromQuery(r.URL.Query()), consume)
	if err != nil {
		metrics.RecordLogin(loginMethod(provider), "failure")
		return herr.From(err, "completing OAuth callback")
	}

	if _, err := s.sessionManager.Login(w, r, user); err != nil {
		return herr.Internal(err, "creating session after OAuth login")
	}
	metrics.RecordLogin(provider, "success")

	http.Redirect(w, r, s.cfg.PostLoginRedirect, http.StatusFound)
	return nil
}

func loginMethod(provider string) string {
	if provider == "" {
		return "oauth"
	}
	return provider
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"healthassist/cryptoutil"
	"healthassist/session"
)

const maxProfileBytes = 1 << 20

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrStateMismatch   = errors.New("oauth state mismatch or missing code")
	ErrProviderError   = errors.New("oauth provider error")
	ErrExchangeFailed  = errors.New("oauth code exchange failed")
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Callback is what the provider sends back to the redirect URL.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

func CallbackFromQuery(q url.Values) Callback {
	return Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// ConsumeFunc validates and clears the state stored for the caller's session.
// It returns the pending login the state was issued for.
type ConsumeFunc func(returnedState string) (session.Pending, bool)

type Gateway struct {
	providers   map[string]Provider
	callbackURL string
	client      *http.Client
}

// NewGateway registers the given providers. Providers without a client id are
// skipped, so an unconfigured provider behaves like an unknown one.
func NewGateway(callbackURL string, timeout time.Duration, providers ...Provider) *Gateway {
	g := &Gateway{
		providers:   map[string]Provider{},
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: timeout},
	}
	for _, p := range providers {
		if p.ClientID == "" {
			slog.Warn("OAuth provider not configured", "provider", p.Name)
			continue
		}
		g.providers[p.Name] = p
	}
	return g
}

func (g *Gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// AuthorizationURL returns where to send the browser to start the pending
// login.
func (g *Gateway) AuthorizationURL(pending session.Pending) (string, error) {
	p, err := g.Provider(pending.Provider)
	if err != nil {
		return "", err
	}

	authorizationURL, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", fmt.Errorf("error parsing %s authorization URL: %w", p.Name, err)
	}

	query := authorizationURL.Query()
	query.Set("state", pending.State)
	query.Set("client_id", p.ClientID)
	query.Set("redirect_uri", g.callbackURL)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(p.Scopes, p.ScopeSeparator))
	for k, v := range p.AuthParams {
		query.Set(k, v)
	}
	if p.PKCE {
		if pending.Verifier == "" {
			return "", fmt.Errorf("%s requires a PKCE code verifier", p.Name)
		}
		query.Set("code_challenge", cryptoutil.CreateS256CodeChallenge(pending.Verifier))
		query.Set("code_challenge_method", "S256")
	}
	authorizationURL.RawQuery = query.Encode()

	return authorizationURL.String(), nil
}

// Complete runs the callback half of the flow. The pending state is consumed
// before anything else so every callback, good or bad, ends the attempt.
func (g *Gateway) Complete(ctx context.Context, cb Callback, consume ConsumeFunc) (session.User, error) {
	pending, ok := consume(cb.State)

	if cb.Error != "" {
		return session.User{}, fmt.Errorf("%w: %s %s", ErrProviderError, cb.Error, cb.ErrorDescription)
	}
	if !ok || cb.Code == "" {
		return session.User{}, ErrStateMismatch
	}

	p, err := g.Provider(pending.Provider)
	if err != nil {
		return session.User{}, err
	}
	return g.Exchange(ctx, p, cb.Code, pending.Verifier)
}

// Exchange trades code for an access token and maps the provider profile to
// a session user. verifier is ignored for providers without PKCE.
func (g *Gateway) Exchange(ctx context.Context, p Provider, code, verifier string) (session.User, error) {
	accessToken, err := g.exchangeCode(ctx, p, code, verifier)
	if err != nil {
		return session.User{}, fmt.Errorf("%w: %s: %w", ErrExchangeFailed, p.Name, err)
	}

	profile, err := g.fetchProfile(ctx, p, accessToken)
	if err != nil {
		return session.User{}, fmt.Errorf("%w: %s: %w", ErrProviderError, p.Name, err)
	}

	return mapProfile(p, profile)
}

func (g *Gateway) exchangeCode(ctx context.Context, p Provider, code, verifier string) (string, error) {
	formData := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {g.callbackURL},
		"client_id":     {p.ClientID},
		"client_secret": {p.ClientSecret},
	}
	if p.PKCE {
		formData.Set("code_verifier", verifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("error creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	tokenResp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error executing token request: %w", err)
	}
	defer tokenResp.Body.Close()

	if tokenResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", tokenResp.StatusCode)
	}

	var tokenRespData tokenResponse
	if err := json.NewDecoder(io.LimitReader(tokenResp.Body, maxProfileBytes)).Decode(&tokenRespData); err != nil {
		return "", fmt.Errorf("error decoding token response: %w", err)
	}
	if tokenRespData.AccessToken == "" {
		return "", errors.New("token response has no access token")
	}
	return tokenRespData.AccessToken, nil
}

func (g *Gateway) fetchProfile(ctx context.Context, p Provider, accessToken string) (gjson.Result, error) {
	userReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("error creating user info request: %w", err)
	}
	userReq.Header.Set("Authorization", "Bearer "+accessToken)
	userReq.Header.Set("Accept", "application/json")

	userResp, err := g.client.Do(userReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("error executing user info request: %w", err)
	}
	defer userResp.Body.Close()

	if userResp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("user info endpoint returned status %d", userResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(userResp.Body, maxProfileBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("error reading user info response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("user info response is not valid JSON")
	}
	return gjson.ParseBytes(body), nil
}

func mapProfile(p Provider, profile gjson.Result) (session.User, error) {
	id := strings.TrimSpace(profile.Get(p.Fields.ID).String())
	if id == "" {
		return session.User{}, fmt.Errorf("%w: %s profile has no id", ErrProviderError, p.Name)
	}

	email := strings.ToLower(strings.TrimSpace(profile.Get(p.Fields.Email).String()))
	if email != "" && p.Fields.Verified != "" && !profile.Get(p.Fields.Verified).Bool() {
		return session.User{}, fmt.Errorf("%w: %s email %s not verified", ErrProviderError, p.Name, email)
	}

	name := strings.TrimSpace(profile.Get(p.Fields.Name).String())
	if name == "" {
		if local, _, found := strings.Cut(email, "@"); found && local != "" {
			name = local
		} else {
			name = id
		}
	}

	if email == "" {
		email = fmt.Sprintf("%s@%s.oauth.local", id, p.Name)
	}

	return session.User{ID: email, Email: email, DisplayName: name}, nil
}

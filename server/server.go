package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"healthassist/accounts"
	"healthassist/auth"
	"healthassist/config"
	"healthassist/herr"
	"healthassist/metrics"
	mw "healthassist/middleware"
	"healthassist/predict"
	"healthassist/session"
	"healthassist/store"
	"healthassist/telemetry"
	"healthassist/ws"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg            *config.Config
	db             *store.SQLiteDB
	backends       []store.Backend
	accounts       *accounts.Store
	telemetry      *telemetry.Store
	sessionManager *session.Manager
	gateway        *auth.Gateway
	proxies        []netip.Prefix
	predict        *predict.Service
	ws             *ws.WS
}

type Option func(*options)

type options struct {
	providers []auth.Provider
	telemetry []telemetry.Option
}

// WithProviders replaces the Google and Facebook descriptors built from the
// configuration.
func WithProviders(providers ...auth.Provider) Option {
	return func(o *options) { o.providers = providers }
}

func WithTelemetryOptions(opts ...telemetry.Option) Option {
	return func(o *options) { o.telemetry = opts }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	o := options{
		providers: []auth.Provider{
			auth.Google(cfg.GoogleClientID, cfg.GoogleClientSecret),
			auth.Facebook(cfg.FacebookClientID, cfg.FacebookClientSecret),
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	proxies, err := cfg.Proxies()
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, proxies: proxies}
	if err := s.openStores(ctx, o.telemetry); err != nil {
		s.Close()
		return nil, err
	}

	knowledge, err := predict.LoadKnowledge(cfg.KnowledgePath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading knowledge base: %w", err)
	}

	s.sessionManager = session.NewManager(cfg.SessionExpirationDays, cfg.SessionRefreshDays, cfg.IsProd())
	s.gateway = auth.NewGateway(cfg.CallbackURL(), cfg.OAuthTimeout, o.providers...)
	s.predict = predict.NewService(knowledge, knowledge, cfg.PredictTimeout)
	s.ws = ws.New(s.telemetry, cfg.Origins())
	return s, nil
}

func (s *Server) openStores(ctx context.Context, telemetryOpts []telemetry.Option) error {
	if s.cfg.StoreDriver == "sqlite" {
		db, err := store.OpenSQLite(s.cfg.SQLitePath)
		if err != nil {
			return err
		}
		s.db = db
	}

	accountsBackend, err := store.Open(s.cfg.StoreDriver, s.cfg.DataDir, s.db, "accounts")
	if err != nil {
		return err
	}
	s.backends = append(s.backends, accountsBackend)

	telemetryBackend, err := store.Open(s.cfg.StoreDriver, s.cfg.DataDir, s.db, "telemetry")
	if err != nil {
		return err
	}
	s.backends = append(s.backends, telemetryBackend)

	if s.accounts, err = accounts.NewStore(ctx, accountsBackend); err != nil {
		return err
	}
	if s.telemetry, err = telemetry.NewStore(ctx, telemetryBackend, telemetryOpts...); err != nil {
		return err
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/symptoms", herr.Wrap(s.handleSymptoms))
	mux.Handle("POST /api/predict", herr.Wrap(s.handlePredict))

	mux.Handle("POST /api/register", herr.Wrap(s.handleRegister))
	mux.Handle("POST /api/login", herr.Wrap(s.handleLogin))
	mux.Handle("GET /api/user", herr.Wrap(s.handleUser))
	mux.Handle("GET /api/logout", herr.Wrap(s.handleLogout))

	// The literal callback path is more specific than the provider wildcard.
	mux.Handle("GET /oauth/callback", herr.Wrap(s.handleOAuthCallback))
	mux.Handle("GET /oauth/{provider}", herr.Wrap(s.handleOAuthLogin))

	mux.Handle("POST /api/track", herr.Wrap(s.handleTrack))
	mux.Handle("POST /api/track/sample", herr.Wrap(s.handleTrackSample))
	mux.Handle("GET /api/track/series", herr.Wrap(s.handleTrackSeries))
	mux.Handle("POST /api/track/clear", herr.Wrap(s.handleTrackClear))
	mux.Handle("GET /api/track/stream", herr.Wrap(s.ws.Handle))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		herr.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mw.Chain(
		mux,
		mw.Recover(),
		mw.RateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.proxies),
		mw.Logger(),
		mw.CORS(s.cfg.Origins()),
		mw.Session(s.sessionManager),
		mw.Metrics(),
	)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server is listening", "addr", s.cfg.Addr, "env", s.cfg.Env, "store", s.cfg.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

func (s *Server) Close() error {
	var errs []error
	for _, b := range s.backends {
		errs = append(errs, b.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

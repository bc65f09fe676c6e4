// ABOUTME: Gateway orchestrator wiring registry, profiles, and the collaboration pipeline.
// ABOUTME: Manages the HTTP server, registry sweeper, and graceful shutdown.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/concord-agents/concord-gateway/internal/agent"
	"github.com/concord-agents/concord-gateway/internal/auth"
	"github.com/concord-agents/concord-gateway/internal/classify"
	"github.com/concord-agents/concord-gateway/internal/collab"
	"github.com/concord-agents/concord-gateway/internal/config"
	"github.com/concord-agents/concord-gateway/internal/dedupe"
	"github.com/concord-agents/concord-gateway/internal/profile"
	"github.com/concord-agents/concord-gateway/internal/registry"
	"github.com/concord-agents/concord-gateway/internal/selector"
	"github.com/concord-agents/concord-gateway/internal/telemetry"
)

// Gateway orchestrates the concord-gateway server components: the agent
// registry, the preference store, the collaboration middleware, and the
// HTTP API that exposes them.
type Gateway struct {
	config     *config.Config
	registry   *registry.Registry
	profiles   profile.Store
	middleware *collab.Middleware
	classifier classify.Classifier
	sink       telemetry.Sink
	dedupe     *dedupe.Cache[*agent.Reply]
	httpServer *http.Server
	logger     *slog.Logger

	sweeperStop chan struct{}
}

// defaultHeartbeatExpiry applies when registry.heartbeat_expiry is unset.
const defaultHeartbeatExpiry = 90 * time.Second

// initProfiles creates the profile store based on config and environment.
func initProfiles(cfg *config.Config) (profile.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CONCORD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := profile.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing profile store: %w", err)
	}
	return s, nil
}

// initSink creates the telemetry sink based on config.
func initSink(cfg *config.Config, logger *slog.Logger) telemetry.Sink {
	if !cfg.Telemetry.Enabled {
		return telemetry.NopSink{}
	}
	buffer := cfg.Telemetry.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	return telemetry.NewHTTPSink(cfg.Telemetry.Endpoint, buffer, logger)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	profiles, err := initProfiles(cfg)
	if err != nil {
		return nil, err
	}

	expiry := cfg.Registry.HeartbeatExpiry
	if expiry <= 0 {
		expiry = defaultHeartbeatExpiry
	}
	reg := registry.New(expiry, logger.With("component", "registry"))

	invoker := selector.NewClient(0)
	middleware := collab.New(profiles, reg, invoker, collab.Config{
		SelectorTimeout: cfg.Collab.SelectorTimeout,
		RequestDeadline: cfg.Collab.RequestDeadline,
	}, logger)

	gw := &Gateway{
		config:      cfg,
		registry:    reg,
		profiles:    profiles,
		middleware:  middleware,
		classifier:  classify.NewKeywordClassifier(&storeDirectory{profiles: profiles}),
		sink:        initSink(cfg, logger),
		dedupe:      dedupe.New[*agent.Reply](5*time.Minute, 100_000),
		logger:      logger.With("component", "gateway"),
		sweeperStop: make(chan struct{}),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerAPIRoutes registers API routes with or without auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"/api/register":  g.handleRegister,
		"/api/heartbeat": g.handleHeartbeat,
		"/api/agents":    g.handleAgents,
		"/api/agents/":   g.handleAgentByID,
		"/api/profiles/": g.handleProfile,
		"/api/handle":    g.handleMessage,
	}

	if g.config.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		middleware := auth.HTTPAuthMiddleware(verifier)
		for path, handler := range routes {
			mux.Handle(path, middleware(handler))
		}
		g.logger.Info("HTTP auth middleware enabled")
		return
	}

	for path, handler := range routes {
		mux.HandleFunc(path, handler)
	}
	g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	g.startSweeper()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startSweeper runs the registry sweeper in the background using configured
// intervals, defaulting to a one-minute cadence with a five-minute grace.
func (g *Gateway) startSweeper() {
	interval := g.config.Registry.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	grace := g.config.Registry.SweepGrace
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	go g.registry.RunSweeper(interval, grace, g.sweeperStop)
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	close(g.sweeperStop)
	g.dedupe.Close()
	g.sink.Close()

	if err := g.profiles.Close(); err != nil {
		errs = append(errs, fmt.Errorf("profile store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one selector agent is live.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	agents := g.registry.List()
	live := 0
	for _, a := range agents {
		if a.Healthy(g.registry.Expiry(), time.Now()) {
			live++
		}
	}
	if live == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", live)
}

// storeDirectory resolves collaborator names against the profile store.
// A name resolves when a profile exists under the lowercased name.
type storeDirectory struct {
	profiles profile.Store
}

func (d *storeDirectory) ResolveName(ctx context.Context, name string) (profile.Identity, bool) {
	id := profile.Identity(name)
	if _, err := d.profiles.Get(ctx, id); err != nil {
		return "", false
	}
	return id, true
}

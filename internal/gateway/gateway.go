// Package gateway provides the admin HTTP server: health, metrics, live
// sessions, blacklist management and a websocket stream of session
// lifecycle events. It binds to loopback unless told otherwise.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/pelican/internal/dispatch"
	"github.com/flemzord/pelican/internal/moderator"
	"golang.org/x/time/rate"
)

// ErrNoBind is returned by Start when no listen address is configured.
var ErrNoBind = errors.New("gateway: no bind address configured")

// Dispatcher is the part of the dispatch loop the gateway exposes.
type Dispatcher interface {
	Builders() []dispatch.BuilderInfo
	Sessions() []dispatch.SessionInfo
	RequestRemoval(builderID string, id int64, reason string) bool
	Offset() int
	PendingEvents() int
	Subscribe(obs dispatch.Observer) (cancel func())
}

// Blacklist is the moderator surface managed over HTTP.
type Blacklist interface {
	Entries() []moderator.Entry
	Blacklist(ctx context.Context, id int64, reason string) error
	Unblacklist(ctx context.Context, id int64) (bool, error)
}

// Deps are the collaborators served by the gateway. Blacklist and Metrics
// are optional.
type Deps struct {
	Dispatcher Dispatcher
	Blacklist  Blacklist
	Metrics    http.Handler
	Logger     *slog.Logger
}

// Gateway is the admin HTTP server.
type Gateway struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	hub       *hub
	limiter   *rate.Limiter
	server    *http.Server
	startedAt time.Time
	now       func() time.Time
}

// New creates a gateway and subscribes its event hub to the dispatcher.
func New(cfg Config, deps Deps) *Gateway {
	cfg.defaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		config:  cfg,
		deps:    deps,
		logger:  logger,
		hub:     newHub(logger),
		limiter: rate.NewLimiter(rate.Limit(cfg.AuthRate), int(cfg.AuthRate)+1),
		now:     time.Now,
	}
	g.startedAt = g.now()
	if deps.Dispatcher != nil {
		g.hub.cancel = deps.Dispatcher.Subscribe(g.hub.publish)
	}
	if !cfg.Auth.IsConfigured() {
		logger.Warn("gateway: no auth configured, admin endpoints disabled")
	}
	return g
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	if g.config.Bind == "" {
		return ErrNoBind
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.Handler(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	go func() {
		g.logger.Info("gateway: listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: serve error", "error", err)
		}
	}()

	return nil
}

// Stop disconnects event subscribers and shuts the server down gracefully
// within the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	g.hub.close()
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway: shutting down")
	return g.server.Shutdown(shutdownCtx)
}

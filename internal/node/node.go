// Package node assembles an action-serving process: the frozen registry,
// the sealed dispatcher with every handler bound, the transport server and
// the admin HTTP router.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/actionrpc/internal/action"
	"github.com/danmuck/actionrpc/internal/config"
	"github.com/danmuck/actionrpc/internal/connector"
	"github.com/danmuck/actionrpc/internal/inference"
	"github.com/danmuck/actionrpc/internal/observability"
	"github.com/danmuck/actionrpc/internal/transport"
)

const kind = "actiond"

// Node owns one process's action surface.
type Node struct {
	cfg       config.Config
	transport transport.Config
	logger    zerolog.Logger

	registry   *action.Registry
	dispatcher *action.Dispatcher
	models     *inference.MemoryModelStore
	jobs       *connector.MemorySyncJobStore
	server     *transport.Server

	router   *gin.Engine
	appeared time.Time
	ready    atomic.Bool
}

// New builds every component; nothing listens until Run.
func New(cfg config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tc, err := cfg.TransportConfig()
	if err != nil {
		return nil, err
	}
	if err := tc.ValidateServerTransport(); err != nil {
		return nil, err
	}

	logger := observability.InitLogger(kind).With().Str("node", cfg.Node.Name).Logger()
	observability.RegisterMetrics()

	registry := action.NewRegistry().MustRegister(
		inference.GetModelAction,
		connector.DeleteSyncJobAction,
	).Freeze()
	dispatcher := action.NewDispatcher(registry,
		action.WithObserver(observability.DispatchMetrics{}),
		action.WithLogger(logger),
	)

	n := &Node{
		cfg:        cfg,
		transport:  tc,
		logger:     logger,
		registry:   registry,
		dispatcher: dispatcher,
		models:     inference.NewMemoryModelStore(),
		jobs:       connector.NewMemorySyncJobStore(),
		appeared:   time.Now(),
	}
	if err := inference.Bind(dispatcher, n.models); err != nil {
		return nil, err
	}
	if err := connector.Bind(dispatcher, n.jobs); err != nil {
		return nil, err
	}
	dispatcher.Seal()

	n.server = transport.NewServer(tc, dispatcher, transport.WithServerFrameObserver(observability.FrameMetrics{}))
	n.router = n.newRouter()
	return n, nil
}

func (n *Node) NodeID() string {
	return n.cfg.Node.Name
}

func (n *Node) Kind() string {
	return kind
}

func (n *Node) HTTPRouter() *gin.Engine {
	return n.router
}

func (n *Node) Dispatcher() *action.Dispatcher {
	return n.dispatcher
}

// Models is the store behind the inference get action.
func (n *Node) Models() *inference.MemoryModelStore {
	return n.models
}

// SyncJobs is the store behind the connector sync job delete action.
func (n *Node) SyncJobs() *connector.MemorySyncJobStore {
	return n.jobs
}

func (n *Node) Ready() bool {
	return n.ready.Load()
}

func (n *Node) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(n.logger))
	r.Use(observability.RequestMetricsMiddleware(n.cfg.Node.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(n.cfg.Admin.CorsOrigins),
		AllowMethods: []string{"GET", "DELETE"},
		AllowHeaders: []string{"Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	n.registerRoutes(r)
	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

// Run serves the transport listener and the admin router until ctx is done
// or either fails.
func (n *Node) Run(ctx context.Context) error {
	ln, err := n.server.Listen(n.cfg.Transport.Addr)
	if err != nil {
		return err
	}
	adminLn, err := net.Listen("tcp", n.cfg.Admin.Addr)
	if err != nil {
		_ = ln.Close()
		return err
	}
	return n.serve(ctx, ln, adminLn)
}

func (n *Node) serve(ctx context.Context, ln, adminLn net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	admin := &http.Server{Handler: n.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 2)
	go func() {
		errCh <- n.server.Serve(ctx, ln)
	}()
	go func() {
		if err := admin.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	n.ready.Store(true)
	n.logger.Info().
		Str("transport_addr", ln.Addr().String()).
		Str("admin_addr", adminLn.Addr().String()).
		Str("version", n.transport.Version.String()).
		Int("actions", n.registry.Len()).
		Msg("node ready")

	var first error
	select {
	case <-ctx.Done():
	case first = <-errCh:
	}
	n.ready.Store(false)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := admin.Shutdown(shutdownCtx); err != nil && first == nil {
		first = err
	}
	n.logger.Info().Msg("node stopped")
	return first
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/payload-masker/internal/audit"
	"github.com/raaihank/payload-masker/internal/cache"
	"github.com/raaihank/payload-masker/internal/clientip"
	"github.com/raaihank/payload-masker/internal/config"
	"github.com/raaihank/payload-masker/internal/logger"
	"github.com/raaihank/payload-masker/internal/masking"
	"github.com/raaihank/payload-masker/internal/metrics"
	"github.com/raaihank/payload-masker/internal/ratelimit"
	"github.com/raaihank/payload-masker/internal/web"
	"github.com/raaihank/payload-masker/internal/websocket"
	"go.uber.org/zap"
)

const statusInterval = 15 * time.Second

// ResultCache is the read-through cache consulted before masking
type ResultCache interface {
	Get(ctx context.Context, fingerprint, payload string) (*cache.Entry, bool)
	Store(ctx context.Context, fingerprint, payload string, entry *cache.Entry) error
}

// AuditStore persists one record per masking call
type AuditStore interface {
	Insert(ctx context.Context, record *audit.Record) error
	GetStats(ctx context.Context) (*audit.Stats, error)
}

// Option configures optional server dependencies
type Option func(*Server)

// WithCache enables the result cache
func WithCache(c ResultCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithAudit enables the audit trail
func WithAudit(a AuditStore) Option {
	return func(s *Server) { s.audit = a }
}

// WithMetrics sets the metrics registry. A private registry is used otherwise.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported by /info
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server represents the masking HTTP service
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	engLog   *zap.Logger
	engine   atomic.Pointer[masking.Engine]
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub
	limiter  *ratelimit.Limiter
	clientIP *clientip.Resolver
	metrics  *metrics.Registry
	cache    ResultCache
	audit    AuditStore
	version  string

	startedAt time.Time
	requests  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Server, error) {
	if err := masking.ValidateConfig(cfg.Masking); err != nil {
		return nil, fmt.Errorf("invalid masking configuration: %w", err)
	}

	resolver, err := clientip.NewResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	server := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		engLog:    log.WithComponent("masking").Logger,
		router:    mux.NewRouter(),
		limiter:   ratelimit.New(cfg.RateLimit),
		clientIP:  resolver,
		version:   "dev",
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.metrics == nil {
		server.metrics = metrics.NewRegistry()
	}

	engine := masking.NewEngine(cfg.Masking, server.engLog)
	server.engine.Store(engine)
	server.metrics.RecordConfigReload(nil, len(engine.RuleTypes()))

	if cfg.WebSocket.Enabled {
		server.wsHub = websocket.NewHub(&websocket.HubConfig{
			Username:        cfg.WebSocket.Username,
			Password:        cfg.WebSocket.Password,
			MaxConnections:  cfg.WebSocket.MaxConnections,
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			PingInterval:    cfg.WebSocket.PingInterval,
			PongTimeout:     cfg.WebSocket.PongTimeout,
			WriteTimeout:    cfg.WebSocket.WriteTimeout,
			MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
			AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
			ClientIP:        resolver.ClientIP,
		}, log.WithComponent("websocket").Logger)
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.metricsMiddleware)

	// Liveness and info
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods("GET")
	}

	if s.wsHub != nil {
		// Dashboard and its live feed share the websocket credentials
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
		s.router.Handle("/", s.basicAuth(http.HandlerFunc(web.ServeDashboard))).Methods("GET")
		s.router.Handle("/dashboard", s.basicAuth(http.HandlerFunc(web.ServeDashboard))).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/audit/stats", s.handleAuditStats).Methods("GET")

	mask := api.PathPrefix("/mask").Subrouter()
	mask.Use(s.rateLimitMiddleware)
	mask.HandleFunc("", s.handleMask).Methods("POST")
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Engine returns the engine currently serving requests
func (s *Server) Engine() *masking.Engine {
	return s.engine.Load()
}

// Reload rebuilds the masking engine from cfg and swaps it in. Requests in
// flight finish on the engine they started with.
func (s *Server) Reload(cfg masking.Config) error {
	if err := masking.ValidateConfig(cfg); err != nil {
		s.metrics.RecordConfigReload(err, 0)
		s.logger.Error("Rejected masking configuration reload", zap.Error(err))
		s.broadcast(websocket.EventTypeConfigReload, "", websocket.ConfigReloadEvent{Error: err.Error()})
		return err
	}

	engine := masking.NewEngine(cfg, s.engLog)
	previous := s.engine.Swap(engine)

	ruleTypes := len(engine.RuleTypes())
	s.metrics.RecordConfigReload(nil, ruleTypes)
	if previous != nil && previous.Fingerprint() == engine.Fingerprint() {
		s.logger.Debug("Masking configuration unchanged")
	} else {
		s.logger.Info("Masking configuration reloaded",
			zap.Int("rule_types", ruleTypes),
			zap.Int("namespace_mappings", engine.NamespaceMappings()),
		)
	}
	s.broadcast(websocket.EventTypeConfigReload, "", websocket.ConfigReloadEvent{
		Fingerprint:       engine.Fingerprint(),
		RuleTypes:         ruleTypes,
		NamespaceMappings: engine.NamespaceMappings(),
	})
	return nil
}

// Start starts the background workers and the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting payload masker server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("rule_types", len(s.Engine().RuleTypes())),
		zap.Bool("cache", s.cache != nil),
		zap.Bool("audit", s.audit != nil),
		zap.Bool("websocket", s.wsHub != nil),
	)

	s.startBackground()
	return s.server.ListenAndServe()
}

func (s *Server) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.limiter.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.reportStatus(ctx)
	}()

	if s.wsHub != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.wsHub.Run(ctx)
		}()
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping payload masker server")
	err := s.server.Shutdown(ctx)
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	return err
}

// reportStatus periodically publishes a status event to dashboard clients
func (s *Server) reportStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clients := 0
			if s.wsHub != nil {
				clients = s.wsHub.ClientCount()
			}
			s.metrics.WebSocketConnections.Set(float64(clients))
			s.broadcast(websocket.EventTypeSystemStatus, "", websocket.SystemStatusEvent{
				Status:           "healthy",
				Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
				TotalRequests:    s.requests.Load(),
				RuleTypes:        len(s.Engine().RuleTypes()),
				ConnectedClients: clients,
			})
		}
	}
}

func (s *Server) broadcast(eventType websocket.EventType, requestID string, data interface{}) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		RequestID: requestID,
	})
}

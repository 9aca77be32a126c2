package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"livepoll/internal/middleware"
	"livepoll/pkg/interfaces"
	"livepoll/pkg/response"
	"livepoll/pkg/types"
)

const (
	healthTimeout      = 5 * time.Second
	defaultResultLimit = 50
	maxResultLimit     = 500
)

// Session is the read side of the coordinator the HTTP API exposes.
type Session interface {
	CurrentPoll() (types.ActivePoll, bool)
	History() []types.PollResult
	Roster() []types.Participant
	GetStats() map[string]int
}

// Connections reports transport statistics.
type Connections interface {
	GetStats() map[string]int
}

// HealthChecker is any dependency /health should probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	Components  map[string]string `json:"components"`
	Connections map[string]int    `json:"connections"`
	Session     map[string]int    `json:"session"`
}

type Option func(*Server)

// WithArchive enables /api/results and probes the archive on /health.
func WithArchive(archive interfaces.ResultArchive) Option {
	return func(s *Server) {
		s.archive = archive
		if archive != nil {
			s.checks["database"] = archive
		}
	}
}

// WithHealthCheck adds a named dependency to /health.
func WithHealthCheck(name string, checker HealthChecker) Option {
	return func(s *Server) { s.checks[name] = checker }
}

func WithCORSOrigins(origins string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server serves the read-only HTTP API and mounts the websocket endpoint.
// Every state change happens over the websocket; nothing here writes.
type Server struct {
	session     Session
	connections Connections
	websocket   http.Handler
	archive     interfaces.ResultArchive
	checks      map[string]HealthChecker
	corsOrigins string
	logger      *zap.Logger
	startedAt   time.Time
	now         func() time.Time
	engine      *gin.Engine
}

// NewServer builds the router. ws is mounted at /ws.
func NewServer(session Session, connections Connections, ws http.Handler, opts ...Option) *Server {
	s := &Server{
		session:     session,
		connections: connections,
		websocket:   ws,
		checks:      make(map[string]HealthChecker),
		corsOrigins: "*",
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()

	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(middleware.CORS(s.corsOrigins))
	s.engine.Use(middleware.Logger(s.logger))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthCheck)

	api := s.engine.Group("/api")
	{
		api.GET("/poll", s.currentPoll)
		api.GET("/history", s.history)
		api.GET("/results", s.results)
		api.GET("/roster", s.roster)
	}

	if s.websocket != nil {
		s.engine.GET("/ws", gin.WrapH(s.websocket))
	}
}

// ServeHTTP lets the server be used directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// GET /health
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	healthy := true
	components := make(map[string]string, len(s.checks))
	for name, checker := range s.checks {
		if err := checker.HealthCheck(ctx); err != nil {
			healthy = false
			components[name] = "error: " + err.Error()
			continue
		}
		components[name] = "healthy"
	}

	now := s.now()
	health := HealthResponse{
		Status:      "healthy",
		Timestamp:   now,
		Uptime:      now.Sub(s.startedAt).Round(time.Second).String(),
		Components:  components,
		Connections: s.connections.GetStats(),
		Session:     s.session.GetStats(),
	}
	if !healthy {
		health.Status = "unhealthy"
		response.ServiceUnavailable(c, "one or more components are unhealthy", health)
		return
	}
	response.OK(c, health)
}

// GET /api/poll
func (s *Server) currentPoll(c *gin.Context) {
	poll, ok := s.session.CurrentPoll()
	if !ok {
		response.NotFound(c, "no active poll")
		return
	}
	response.OK(c, poll)
}

// GET /api/history
func (s *Server) history(c *gin.Context) {
	response.OK(c, s.session.History())
}

// GET /api/results?limit=N
func (s *Server) results(c *gin.Context) {
	if s.archive == nil {
		response.ServiceUnavailable(c, "result archive is disabled", nil)
		return
	}

	limit := defaultResultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxResultLimit {
			response.BadRequest(c, "limit must be between 1 and "+strconv.Itoa(maxResultLimit))
			return
		}
		limit = n
	}

	results, err := s.archive.ListResults(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list archived results", zap.Error(err))
		response.Internal(c, "failed to list results")
		return
	}
	response.OK(c, results)
}

// GET /api/roster
func (s *Server) roster(c *gin.Context) {
	response.OK(c, s.session.Roster())
}

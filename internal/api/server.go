// Package api exposes the recorded call log and the replay engine over
// HTTP. Read endpoints serve rehydrated views from the query service;
// replay endpoints drive the engine. Responses share one envelope:
// {"status": "ok", "data": ...} or {"status": "error", "error": "..."}.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/roach88/retrace/internal/policy"
	"github.com/roach88/retrace/internal/query"
	"github.com/roach88/retrace/internal/replay"
	"github.com/roach88/retrace/internal/store"
)

// Server is the HTTP surface over one store.
type Server struct {
	queries *query.Service
	store   *store.Store
	engine  *replay.Engine
	policy  *policy.Policy
	log     *slog.Logger
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithPolicy makes named replay plans available to the replay
// endpoints.
func WithPolicy(pol *policy.Policy) Option {
	return func(s *Server) { s.policy = pol }
}

// WithEngine enables the replay endpoints. Without an engine they
// answer 503.
func WithEngine(eng *replay.Engine) Option {
	return func(s *Server) { s.engine = eng }
}

// NewServer builds the router over a store.
func NewServer(st *store.Store, opts ...Option) *Server {
	s := &Server{
		queries: query.New(st),
		store:   st,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	s.router = router

	router.GET("/healthz", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.GET("/calls", s.handleListCalls)
		v1.GET("/calls/:id", s.handleGetCall)
		v1.GET("/calls/:id/snapshots", s.handleCallSnapshots)
		v1.GET("/objects/:key/history", s.handleObjectHistory)
		v1.POST("/calls/:id/replay", s.handleReplayCall)
		v1.POST("/replay/sequence", s.handleReplaySequence)
		v1.DELETE("/calls/:id", s.handleDeleteCall)
	}

	return s
}

// Handler returns the router for mounting or testing.
func (s *Server) Handler() *gin.Engine { return s.router }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.Info("api listening", "addr", addr)
	return s.router.Run(addr)
}

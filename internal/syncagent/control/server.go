// Package control serves the sync agent's loopback HTTP surface: local
// applications queue mutations through it and operators inspect the queue.
package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/metrics"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/middleware"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/offline"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/syncagent/config"
)

// Queue is satisfied by *offline.Queue.
type Queue interface {
	AddOfflineOperation(ctx context.Context, opType offline.OperationType, entity offline.Entity, data map[string]any) (string, error)
	RequestSync() bool
	Stats() offline.SyncStats
	DeadLetters() []offline.Operation
	RequeueDeadLetter(ctx context.Context, id string) (bool, error)
	DiscardDeadLetter(ctx context.Context, id string) (bool, error)
	Cached(ctx context.Context, entity offline.Entity) ([]map[string]any, error)
}

type Server struct {
	engine *gin.Engine
	server *http.Server
	queue  Queue
	log    zerolog.Logger
}

// NewServer builds the control server. A nil gatherer disables the scrape
// endpoint.
func NewServer(cfg *config.Config, queue Queue, log zerolog.Logger, gatherer prometheus.Gatherer) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
	)

	s := &Server{
		engine: engine,
		queue:  queue,
		log:    log,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Control.Host, cfg.Control.Port),
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	if cfg.Metrics.Enabled && gatherer != nil {
		engine.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler(gatherer)))
	}

	engine.POST("/operations", s.addOperation)
	engine.POST("/sync", s.sync)
	engine.GET("/stats", s.stats)
	engine.GET("/cache/:entity", s.cached)
	engine.GET("/dead-letters", s.deadLetters)
	engine.POST("/dead-letters/:id/requeue", s.requeue)
	engine.DELETE("/dead-letters/:id", s.discard)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("control server starting")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("control server shutting down")
	return s.server.Shutdown(ctx)
}

type operationRequest struct {
	Type   string         `json:"type" binding:"required"`
	Entity string         `json:"entity" binding:"required"`
	Data   map[string]any `json:"data"`
}

func (s *Server) addOperation(c *gin.Context) {
	var req operationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_payload")
		return
	}

	opType, err := offline.ParseOperationType(req.Type)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_operation")
		return
	}
	entity, err := offline.ParseEntity(req.Entity)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_operation")
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}

	id, err := s.queue.AddOfflineOperation(c.Request.Context(), opType, entity, req.Data)
	switch {
	case errors.Is(err, offline.ErrInvalidOperation):
		writeError(c, http.StatusBadRequest, "invalid_operation")
		return
	case err != nil:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("queue operation failed")
		writeError(c, http.StatusInternalServerError, "queue_failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) sync(c *gin.Context) {
	if !s.queue.RequestSync() {
		writeError(c, http.StatusServiceUnavailable, "offline")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sync_started"})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.Stats())
}

func (s *Server) cached(c *gin.Context) {
	entity, err := offline.ParseEntity(c.Param("entity"))
	if err != nil {
		writeError(c, http.StatusNotFound, "unknown_entity")
		return
	}
	records, err := s.queue.Cached(c.Request.Context(), entity)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("read cache failed")
		writeError(c, http.StatusInternalServerError, "cache_unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) deadLetters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.queue.DeadLetters()})
}

func (s *Server) requeue(c *gin.Context) {
	s.resolveDeadLetter(c, s.queue.RequeueDeadLetter)
}

func (s *Server) discard(c *gin.Context) {
	s.resolveDeadLetter(c, s.queue.DiscardDeadLetter)
}

func (s *Server) resolveDeadLetter(c *gin.Context, fn func(context.Context, string) (bool, error)) {
	ok, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("op_id", c.Param("id")).Msg("dead letter update failed")
		writeError(c, http.StatusInternalServerError, "queue_failed")
		return
	}
	if !ok {
		writeError(c, http.StatusNotFound, "operation_not_found")
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

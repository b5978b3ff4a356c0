package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"aegis/internal/event"
	"aegis/internal/pipeline"
	"aegis/internal/source"
	"aegis/internal/store"
	"aegis/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SourceFactory opens a fresh frame source for a new monitoring
// session. Each start gets its own source; the session closes it.
type SourceFactory func(ctx context.Context) (source.FrameSource, error)

// Server exposes the HTTP control surface: session commands, event
// queries and the live WebSocket feed.
type Server struct {
	baseCtx   context.Context
	session   *pipeline.Session
	store     store.EventStore
	newSource SourceFactory
	wsHandler *ws.Handler
	logger    *zap.Logger
}

// NewServer wires the control surface. baseCtx bounds the lifetime of
// monitoring sessions started over HTTP: a session must outlive the
// request that started it, but not the process shutdown.
func NewServer(baseCtx context.Context, session *pipeline.Session, eventStore store.EventStore,
	newSource SourceFactory, wsHandler *ws.Handler, logger *zap.Logger) *Server {

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		baseCtx:   baseCtx,
		session:   session,
		store:     eventStore,
		newSource: newSource,
		wsHandler: wsHandler,
		logger:    logger,
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	if s.wsHandler != nil {
		r.GET("/ws", gin.WrapH(s.wsHandler))
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/monitor/start", s.handleStart)
		apiGroup.POST("/monitor/stop", s.handleStop)
		apiGroup.POST("/monitor/privacy", s.handlePrivacy)
		apiGroup.POST("/monitor/analyze", s.handleForceAnalyze)
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/events", s.handleEvents)
		apiGroup.GET("/events/stats", s.handleStats)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStart(c *gin.Context) {
	if s.session.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "monitoring already running"})
		return
	}

	src, err := s.newSource(s.baseCtx)
	if err != nil {
		s.logger.Error("failed to open frame source", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if err := s.session.Start(s.baseCtx, src); err != nil {
		src.Close()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) handleStop(c *gin.Context) {
	s.session.Stop()
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) handlePrivacy(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.session.SetPrivacyMode(req.Enabled)
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) handleForceAnalyze(c *gin.Context) {
	if err := s.session.ForceAnalyze(); err != nil {
		status := http.StatusConflict
		if errors.Is(err, pipeline.ErrNotRunning) {
			status = http.StatusPreconditionFailed
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "analysis requested"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be within 1..200"})
			return
		}
		limit = parsed
	}

	events, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("event query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event query failed"})
		return
	}
	if events == nil {
		events = []*event.ThreatEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error("stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

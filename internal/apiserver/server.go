// Package apiserver is the thin HTTP/RPC surrogate spec.md places out of
// scope: a gin router exposing schedule submission, terminal-status
// polling, a websocket progress stream, health, and metrics. It carries
// no auth and no multi-project coordination logic — both remain non-goals.
package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/artemis/schema-migrate/internal/config"
	"github.com/artemis/schema-migrate/internal/migration"
	"github.com/artemis/schema-migrate/internal/observability"
	"github.com/artemis/schema-migrate/internal/persistence"
	"github.com/artemis/schema-migrate/internal/schemamodel"
	"github.com/artemis/schema-migrate/internal/supervisor"
	"github.com/artemis/schema-migrate/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the HTTP surface wired to a Supervisor and a persistence
// store for terminal-status lookups.
type Server struct {
	config      *config.Config
	supervisor  *supervisor.Supervisor
	store       persistence.Store
	logger      *observability.Logger
	health      *observability.HealthChecker
	hub         *Hub
	router      *gin.Engine
}

// NewServer wires a Server over an already-constructed Supervisor and
// Store, registers its routes, and returns it ready to Start.
func NewServer(cfg *config.Config, sup *supervisor.Supervisor, store persistence.Store, logger *observability.Logger, health *observability.HealthChecker) *Server {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:     cfg,
		supervisor: sup,
		store:      store,
		logger:     logger,
		health:     health,
		hub:        NewHub(logger.Logger),
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())

	r.GET("/healthz", s.health.HealthHandler())
	r.GET("/readyz", s.health.ReadyHandler())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	projects := r.Group("/projects")
	{
		projects.POST("/:id/schedule", s.scheduleMigration)
		projects.GET("/:id/migrations/:revision", s.getMigration)
		projects.GET("/:id/progress", s.handleProgress)
	}

	s.router = r
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/readyz" {
			c.Next()
			return
		}
		c.Next()
		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
		)
	}
}

// scheduleRequestBody is the JSON body for POST /projects/:id/schedule.
type scheduleRequestBody struct {
	Schema json.RawMessage             `json:"schema"`
	Steps  []schemamodel.MigrationStep `json:"steps"`
}

func (s *Server) scheduleMigration(c *gin.Context) {
	projectID := c.Param("id")

	var body scheduleRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	schema, err := schemamodel.NewSchema(body.Schema)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schema: " + err.Error()})
		return
	}

	mig, err := s.supervisor.Schedule(c.Request.Context(), projectID, worker.ScheduleRequest{
		Schema: schema,
		Steps:  body.Steps,
	})
	if err != nil {
		if errors.Is(err, migration.ErrDeploymentInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"projectId": mig.ProjectID,
		"revision":  mig.Revision,
		"status":    mig.Status,
	})
}

func (s *Server) getMigration(c *gin.Context) {
	projectID := c.Param("id")
	revision, err := strconv.ParseInt(c.Param("revision"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid revision"})
		return
	}

	mig, err := s.store.GetMigration(c.Request.Context(), projectID, revision)
	if errors.Is(err, persistence.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "migration not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projectId": mig.ProjectID,
		"revision":  mig.Revision,
		"status":    mig.Status,
		"createdAt": mig.CreatedAt,
	})
}

func (s *Server) handleProgress(c *gin.Context) {
	projectID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade progress websocket", zap.Error(err))
		return
	}

	client := &progressClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		projectID: projectID,
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastMigrationEvent notifies every progress subscriber for
// projectID of a terminal status, for callers that observe a worker's
// completion. Nothing in this repository calls it.
func (s *Server) BroadcastMigrationEvent(projectID string, revision int64, status string) {
	s.hub.BroadcastMigrationEvent(projectID, revision, status)
}

// Start runs the progress hub and blocks serving HTTP on cfg.HTTPAddr.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("starting HTTP server", zap.String("addr", s.config.HTTPAddr))
	return s.router.Run(s.config.HTTPAddr)
}

// Stop stops the progress hub. The underlying http.Server is managed by
// the caller via gin's Run, so Stop here only tears down the hub.
func (s *Server) Stop() {
	s.logger.Info("stopping HTTP server")
	s.hub.Stop()
}

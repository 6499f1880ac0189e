package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"streamocr-worker-go/internal/api/handlers"
	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/services/frames"
	"streamocr-worker-go/internal/services/recognition"
	"streamocr-worker-go/internal/services/results"
	"streamocr-worker-go/internal/services/source"
)

// Dependencies are the services the API exposes
type Dependencies struct {
	Manager *source.Manager
	Results *results.Store
	Jobs    handlers.JobLister
	ExecLog *logging.ExecutionLog
	Engines *recognition.Registry
	Source  frames.Source
	Events  http.Handler // WebSocket status stream; optional
}

type Server struct {
	config *config.Config
	deps   Dependencies
	router *gin.Engine
	server *http.Server

	healthHandler   *handlers.HealthHandler
	sourceHandler   *handlers.SourceHandler
	snapshotHandler *handlers.SnapshotHandler
	ocrHandler      *handlers.OcrHandler
	systemHandler   *handlers.SystemHandler
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	return &Server{
		config:          cfg,
		deps:            deps,
		router:          router,
		healthHandler:   handlers.NewHealthHandler(cfg.WorkerID, cfg.Version, func() int { return len(deps.Manager.List()) }),
		sourceHandler:   handlers.NewSourceHandler(deps.Manager),
		snapshotHandler: handlers.NewSnapshotHandler(deps.Manager, deps.Source, cfg.AcquireTimeout, cfg.JPEGQuality),
		ocrHandler:      handlers.NewOcrHandler(deps.Manager, deps.Results, deps.Jobs, deps.ExecLog),
		systemHandler:   handlers.NewSystemHandler(cfg.WorkerID, deps.Engines.IDs),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()

	s.setupRoutes()

	s.setupSwagger()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	return nil
}

func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting StreamOCR Worker API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping StreamOCR Worker API")
	return s.server.Shutdown(ctx)
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

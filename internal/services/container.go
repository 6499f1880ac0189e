package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/models"
	"streamocr-worker-go/internal/services/events"
	"streamocr-worker-go/internal/services/frames"
	"streamocr-worker-go/internal/services/health"
	"streamocr-worker-go/internal/services/messaging"
	"streamocr-worker-go/internal/services/recognition"
	"streamocr-worker-go/internal/services/results"
	"streamocr-worker-go/internal/services/scheduler"
	"streamocr-worker-go/internal/services/source"
	"streamocr-worker-go/internal/settings"
	"streamocr-worker-go/internal/storage"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config    *config.Config
	DB        *sql.DB
	Source    frames.Source
	Engines   *recognition.Registry
	Bridge    *recognition.Bridge
	Results   *results.Store
	ExecLog   *logging.ExecutionLog
	Hub       *events.Hub
	Messaging *messaging.Service // nil unless NATS is enabled and reachable
	Health    *health.Service    // nil unless the gRPC health service is enabled
	Scheduler *scheduler.Scheduler
	Manager   *source.Manager
}

// NewServiceContainer creates every service and loads the persisted sources
func NewServiceContainer(ctx context.Context, cfg *config.Config) (*ServiceContainer, error) {
	db, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	sc := &ServiceContainer{
		Config:  cfg,
		DB:      db,
		Source:  frames.NewCaptureSource(cfg),
		Engines: recognition.DefaultRegistry(cfg),
		Bridge: recognition.NewBridge(cfg.OcrWorkers, cfg.OcrQueueSize, cfg.OcrTimeout, cfg.OcrShutdownTimeout,
			logging.NewServiceLogger(cfg, "recognition")),
		Results: results.NewStore(db, logging.NewServiceLogger(cfg, "results")),
	}

	// The manager is created last; earlier services reach it through these closures
	sc.ExecLog = logging.NewExecutionLog(db, func(id string) bool {
		return sc.Manager != nil && sc.Manager.Has(id)
	}, logging.NewServiceLogger(cfg, "execlog"))
	sc.Hub = events.NewHub(sc.statusSnapshot, logging.NewServiceLogger(cfg, "events"))

	observers := models.Observers{sc.Hub}
	if cfg.NatsEnabled {
		if msg, err := messaging.NewService(cfg); err != nil {
			log.Warn().Err(err).Str("url", cfg.NatsURL).Msg("NATS unavailable, events stay local")
		} else {
			sc.Messaging = msg
			observers = append(observers, msg)
		}
	}
	if cfg.GRPCHealthEnabled {
		sc.Health = health.NewService(logging.NewServiceLogger(cfg, "health"))
		observers = append(observers, sc.Health)
	}

	sc.Scheduler, err = scheduler.New(cfg, func(ctx context.Context, id string) error {
		_, err := sc.Manager.RunOcr(ctx, id)
		return err
	}, logging.NewServiceLogger(cfg, "scheduler"))
	if err != nil {
		db.Close()
		return nil, err
	}

	sc.Manager = source.NewManager(cfg, source.Deps{
		Source:   sc.Source,
		Bridge:   sc.Bridge,
		Engines:  sc.Engines,
		Results:  sc.Results,
		ExecLog:  sc.ExecLog,
		Observer: observers,
	}, sc.Scheduler, settings.NewStore(cfg.SourcesFile), logging.NewServiceLogger(cfg, "sources"))

	if err := sc.Manager.LoadAll(); err != nil {
		sc.Bridge.Shutdown()
		db.Close()
		return nil, err
	}
	return sc, nil
}

// Start begins cron triggering and, when enabled, serves gRPC health
func (sc *ServiceContainer) Start() {
	sc.Scheduler.Start()
	if sc.Health != nil {
		go func() {
			if err := sc.Health.Serve(sc.Config.GRPCHealthPort); err != nil {
				log.Error().Err(err).Msg("gRPC health service stopped")
			}
		}()
	}
}

// statusSnapshot is sent to each new WebSocket client
func (sc *ServiceContainer) statusSnapshot() []models.SourceEvent {
	if sc.Manager == nil {
		return nil
	}
	now := time.Now().UTC()
	handlers := sc.Manager.List()
	out := make([]models.SourceEvent, 0, len(handlers))
	for _, h := range handlers {
		running := h.OcrRunning()
		out = append(out, models.SourceEvent{
			Type:       models.EventTypeStatus,
			SourceID:   h.ID(),
			Status:     h.Status(),
			OcrRunning: &running,
			Timestamp:  now,
		})
	}
	return out
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	var errs []error
	if err := sc.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	sc.Hub.Close()
	sc.Bridge.Shutdown()
	sc.Manager.Shutdown()
	if sc.Health != nil {
		sc.Health.Shutdown()
	}
	if sc.Messaging != nil {
		if err := sc.Messaging.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := sc.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

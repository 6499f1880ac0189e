package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"streamocr-worker-go/internal/config"
)

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("worker_id", cfg.WorkerID).Str("service", service).Logger()
}

func WithSource(base zerolog.Logger, sourceID string) zerolog.Logger {
	return base.With().Str("source_id", sourceID).Logger()
}

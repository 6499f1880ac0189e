package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Storage
	DataDir      string
	SourcesFile  string // YAML document with every SourceConfig
	DatabasePath string // SQLite database for results and execution logs

	// Thumbnails
	ThumbnailDir     string
	ThumbnailTTL     time.Duration
	ThumbnailWidth   int
	ThumbnailQuality int

	// Frame acquisition
	FrameCacheTTL  time.Duration
	AcquireTimeout time.Duration
	RTSPTransport  string
	JPEGQuality    int
	OverlayColor   string

	// Recognition bridge
	OcrWorkers         int
	OcrQueueSize       int
	OcrTimeout         time.Duration
	OcrShutdownTimeout time.Duration
	OcrDefaultEngine   string
	TesseractLanguage  string

	// Scheduler
	SchedulerTimezone   string
	ScheduledRunTimeout time.Duration

	// NATS (for status events)
	// Default: nats://localhost:4222 (works with Docker Compose setup)
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	EventsSubject      string

	// gRPC health service
	GRPCHealthEnabled bool
	GRPCHealthPort    int

	// Swagger Configuration
	SwaggerHost string
	SwaggerPort int

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", "worker-1"),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// Storage
		DataDir:      dataDir,
		SourcesFile:  getEnv("SOURCES_FILE", filepath.Join(dataDir, "sources.yaml")),
		DatabasePath: getEnv("DATABASE_PATH", filepath.Join(dataDir, "ocr.db")),

		// Thumbnails
		ThumbnailDir:     getEnv("THUMBNAIL_DIR", filepath.Join(dataDir, "thumbnails")),
		ThumbnailTTL:     getEnvDuration("THUMBNAIL_TTL", 5*time.Minute),
		ThumbnailWidth:   getEnvInt("THUMBNAIL_WIDTH", 320),
		ThumbnailQuality: getEnvInt("THUMBNAIL_QUALITY", 75),

		// Frame acquisition
		FrameCacheTTL:  getEnvDuration("FRAME_CACHE_TTL", 60*time.Second),
		AcquireTimeout: getEnvDuration("ACQUIRE_TIMEOUT", 15*time.Second),
		RTSPTransport:  getEnv("RTSP_TRANSPORT", "tcp"),
		JPEGQuality:    getEnvInt("JPEG_QUALITY", 90),
		OverlayColor:   getEnv("OVERLAY_COLOR", "#00FF00"),

		// Recognition bridge
		OcrWorkers:         getEnvInt("OCR_WORKERS", 1),
		OcrQueueSize:       getEnvInt("OCR_QUEUE_SIZE", 64),
		OcrTimeout:         getEnvDuration("OCR_TIMEOUT", 60*time.Second),
		OcrShutdownTimeout: getEnvDuration("OCR_SHUTDOWN_TIMEOUT", 2*time.Second),
		OcrDefaultEngine:   getEnv("OCR_DEFAULT_ENGINE", "tesseract"),
		TesseractLanguage:  getEnv("TESSERACT_LANGUAGE", "eng"),

		// Scheduler
		SchedulerTimezone:   getEnv("SCHEDULER_TIMEZONE", "Local"),
		ScheduledRunTimeout: getEnvDuration("SCHEDULED_RUN_TIMEOUT", 2*time.Minute),

		// NATS
		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		EventsSubject:      getEnv("EVENTS_SUBJECT", "streamocr.events"),

		// gRPC health
		GRPCHealthEnabled: getEnvBool("GRPC_HEALTH_ENABLED", false),
		GRPCHealthPort:    getEnvInt("GRPC_HEALTH_PORT", 50051),

		// Swagger
		SwaggerHost: getEnv("SWAGGER_HOST", "localhost"),
		SwaggerPort: getEnvInt("SWAGGER_PORT", 8000),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	// If running in Docker, use service name; otherwise use localhost
	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}

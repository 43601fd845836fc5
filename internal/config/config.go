package config

import (
	"os"
	"strconv"
	"time"

	"github.com/dunamismax/logomark/internal/domain"
	"github.com/hibiken/asynq"
)

type Config struct {
	Watermark  domain.WatermarkConfig
	Rasterizer string
	Queue      QueueConfig
	Worker     WorkerConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	Webhook    WebhookConfig
	Telemetry  TelemetryConfig
	Metrics    MetricsConfig
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
}

// StorageConfig enables the bucket mirror only when Bucket is set.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

// DatabaseConfig selects the Postgres run ledger; an empty DSN keeps runs in
// memory.
type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	URL           string
	SigningSecret string
	MaxAttempts   int
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type MetricsConfig struct {
	Textfile string
	Addr     string
}

func Load() Config {
	return Config{
		Watermark: domain.WatermarkConfig{
			InputDir:        env("LOGOMARK_INPUT_DIR", "posts/"),
			OutputDir:       env("LOGOMARK_OUTPUT_DIR", "posts_with_logo/"),
			LogoPath:        env("LOGOMARK_LOGO", "logo.svg"),
			SizeRatio:       envFloat("LOGOMARK_SIZE_RATIO", 0.1),
			Opacity:         envFloat("LOGOMARK_OPACITY", 0.7),
			MarginPx:        envInt("LOGOMARK_MARGIN", 20),
			CornerRadiusPx:  envInt("LOGOMARK_CORNER_RADIUS", 20),
			MaskShape:       env("LOGOMARK_SHAPE", domain.MaskShapeCircle),
			Naming:          env("LOGOMARK_NAMING", domain.NamingPNG),
			JPEGQuality:     envInt("LOGOMARK_JPEG_QUALITY", domain.DefaultJPEGQuality),
			LogoRasterWidth: envInt("LOGOMARK_LOGO_WIDTH", 0),
			KeepLogoAlpha:   envBool("LOGOMARK_KEEP_LOGO_ALPHA", false),
			ContinueOnError: envBool("LOGOMARK_CONTINUE_ON_ERROR", false),
		},
		Rasterizer: env("LOGOMARK_RASTERIZER", "oksvg"),
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "logomark"),
		},
		Worker: WorkerConfig{
			Concurrency:     envInt("WORKER_CONCURRENCY", 1),
			ShutdownTimeout: envDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("LOGOMARK_S3_BUCKET", ""),
			Prefix:    env("LOGOMARK_S3_PREFIX", "watermarked"),
			Region:    env("MINIO_REGION", ""),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			URL:           env("WEBHOOK_URL", ""),
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
			MaxAttempts:   envInt("WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Metrics: MetricsConfig{
			Textfile: env("METRICS_TEXTFILE", ""),
			Addr:     env("WORKER_METRICS_ADDR", ":9464"),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

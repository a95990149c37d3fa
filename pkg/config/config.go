package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures the full runtime configuration for the scormflow service.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Pipeline PipelineConfig
	Trigger  TriggerConfig
	Tracing  TracingConfig
	Upload   UploadConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"scormflow-ingestion"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Brokers           []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	NotificationTopic string        `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"scormflow.bucket-notifications"`
	ConsumerGroup     string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"scormflow-ingestion"`
	JobsTopic         string        `env:"KAFKA_JOBS_TOPIC" envDefault:"scormflow.jobs"`
	Retries           int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec  string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize         int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout      time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
	MaxWait           time.Duration `env:"KAFKA_MAX_WAIT" envDefault:"500ms"`
}

type StorageConfig struct {
	Provider      string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint      string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region        string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket        string `env:"STORAGE_BUCKET" envDefault:"scormflow"`
	AccessKey     string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey     string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL        bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
	PublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL"`
}

type DatabaseConfig struct {
	JobsStore string        `env:"JOBS_STORE" envDefault:"postgres"`
	URL       string        `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/scormflow?sslmode=disable"`
	Migrate   bool          `env:"DATABASE_MIGRATE" envDefault:"true"`
	CacheTTL  time.Duration `env:"JOBS_CACHE_TTL" envDefault:"30s"`
}

type PipelineConfig struct {
	PackagePrefix     string        `env:"PIPELINE_PACKAGE_PREFIX" envDefault:"scorm-packages/"`
	ExtractPrefix     string        `env:"PIPELINE_EXTRACT_PREFIX" envDefault:"scorm-extracted"`
	ImportPrefix      string        `env:"PIPELINE_IMPORT_PREFIX" envDefault:"course-imports/"`
	ExportPrefix      string        `env:"PIPELINE_EXPORT_PREFIX" envDefault:"course-exports"`
	ScratchDir        string        `env:"PIPELINE_SCRATCH_DIR"`
	UploadConcurrency int           `env:"PIPELINE_UPLOAD_CONCURRENCY" envDefault:"16"`
	CacheControl      string        `env:"PIPELINE_CACHE_CONTROL" envDefault:"public, max-age=31536000"`
	ExportURLExpiry   time.Duration `env:"EXPORT_URL_EXPIRY" envDefault:"15m"`
}

type TriggerConfig struct {
	Source          string `env:"TRIGGER_SOURCE" envDefault:"kafka"`
	GCPProjectID    string `env:"GCP_PROJECT_ID"`
	GCPSubscription string `env:"GCP_SUBSCRIPTION_ID"`
	GCPCredentials  string `env:"GCP_CREDENTIALS_FILE"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=scormflow"`
}

type UploadConfig struct {
	MaxSizeBytes      int64 `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"2147483648"`
	MultipartMemBytes int64 `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"52428800"`
}

// Load reads an optional .env file and parses environment variables into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return Parse()
}

// Parse parses the current environment into Config without touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Storage.PublicBaseURL == "" {
		scheme := "http"
		if cfg.Storage.UseSSL {
			scheme = "https"
		}
		cfg.Storage.PublicBaseURL = scheme + "://" + cfg.Storage.Endpoint + "/" + cfg.Storage.Bucket
	}
	return cfg, nil
}

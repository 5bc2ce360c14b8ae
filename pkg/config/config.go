package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for an EvidenceFlow service.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
	Upload   UploadConfig
	Pipeline PipelineConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"evidenceflow-pipeline"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	BundleTopic      string        `env:"KAFKA_BUNDLE_TOPIC" envDefault:"evidenceflow.bundles"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"evidenceflow-bundles"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=evidenceflow"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9102"`
}

type UploadConfig struct {
	MaxSizeBytes      int64 `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"10737418240"`
	MultipartMemBytes int64 `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"52428800"`
}

// PipelineConfig holds the knobs for a pipeline run. All of them are fixed at
// pipeline construction and never mutated mid-run.
type PipelineConfig struct {
	IntervalSeconds float64       `env:"PIPELINE_INTERVAL_SECONDS" envDefault:"2"`
	MaxFrames       int           `env:"PIPELINE_MAX_FRAMES" envDefault:"20"`
	StartOffset     float64       `env:"PIPELINE_START_OFFSET" envDefault:"0"`
	Concurrency     int           `env:"PIPELINE_CONCURRENCY" envDefault:"4"`
	StageTimeout    time.Duration `env:"PIPELINE_STAGE_TIMEOUT" envDefault:"5m"`
	MaxRetries      int           `env:"PIPELINE_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay  time.Duration `env:"PIPELINE_RETRY_BASE_DELAY" envDefault:"500ms"`
	FFprobePath     string        `env:"PIPELINE_FFPROBE_PATH" envDefault:"ffprobe"`
	FFmpegPath      string        `env:"PIPELINE_FFMPEG_PATH" envDefault:"ffmpeg"`
	SceneThreshold  float64       `env:"PIPELINE_SCENE_THRESHOLD" envDefault:"0.4"`
	WorkDir         string        `env:"PIPELINE_WORK_DIR" envDefault:"/tmp/evidenceflow"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

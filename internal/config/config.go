package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API        APIConfig
	Queue      QueueConfig
	Worker     WorkerConfig
	Provider   ProviderConfig
	S3         S3Config
	Cloudinary CloudinaryConfig
	Optimize   OptimizeConfig
	AltText    AltTextConfig
	Webhook    WebhookConfig
	Database   DatabaseConfig
	Telemetry  TelemetryConfig
}

type APIConfig struct {
	Addr            string
	RateLimit       int
	RateLimitWindow time.Duration
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
	Concurrency   int
	MaxActiveJobs int
	DownloadDir   string
	LocalImageDir string
	MetricsAddr   string
}

// ProviderConfig selects the storage backend. Type is "s3", "cloudinary",
// or "auto" to detect from whichever credentials are present.
type ProviderConfig struct {
	Type string
}

type S3Config struct {
	Endpoint         string
	AccessKey        string
	SecretKey        string
	Bucket           string
	CloudFrontDomain string
	Region           string
	UseSSL           bool
}

func (c S3Config) Configured() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

func (c CloudinaryConfig) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

type OptimizeConfig struct {
	Quality     int
	MaxWidth    int
	SmartFormat bool
}

type AltTextConfig struct {
	APIKey     string
	BaseURL    string
	Keywords   string
	WebhookURL string
}

type WebhookConfig struct {
	SigningSecret string
}

// DatabaseConfig selects the persistence backend. With an empty DSN the
// services run on the in-memory job store and the JSON file ledger at
// LedgerPath.
type DatabaseConfig struct {
	DSN        string
	LedgerPath string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:            env("IMAGESHIP_API_ADDR", ":8080"),
			RateLimit:       envInt("API_RATE_LIMIT", 60),
			RateLimitWindow: time.Duration(envInt("API_RATE_WINDOW_SECONDS", 60)) * time.Second,
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			DownloadDir:   env("WORKER_DOWNLOAD_DIR", "./.imageship-downloads"),
			LocalImageDir: env("LOCAL_IMAGE_DIR", "./data/local_images"),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9090"),
		},
		Provider: ProviderConfig{
			Type: env("IMAGESHIP_PROVIDER", "auto"),
		},
		S3: S3Config{
			Endpoint:         env("S3_ENDPOINT", "s3.amazonaws.com"),
			AccessKey:        env("AWS_ACCESS_KEY", ""),
			SecretKey:        env("AWS_SECRET_KEY", ""),
			Bucket:           env("S3_BUCKET", ""),
			CloudFrontDomain: env("CLOUDFRONT_DOMAIN", ""),
			Region:           env("AWS_REGION", "us-east-1"),
			UseSSL:           envBool("S3_USE_SSL", true),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: env("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    env("CLOUDINARY_API_KEY", ""),
			APISecret: env("CLOUDINARY_API_SECRET", ""),
			Folder:    env("CLOUDINARY_FOLDER", "images"),
		},
		Optimize: OptimizeConfig{
			Quality:     envInt("IMAGE_QUALITY", 82),
			MaxWidth:    envInt("IMAGE_MAX_WIDTH", 0),
			SmartFormat: envBool("SMART_FORMAT", true),
		},
		AltText: AltTextConfig{
			APIKey:     env("ALTTEXT_AI_API_KEY", ""),
			BaseURL:    env("ALTTEXT_AI_BASE_URL", "https://alttext.ai/api/v1"),
			Keywords:   env("ALTTEXT_AI_KEYWORDS", ""),
			WebhookURL: env("ALTTEXT_AI_WEBHOOK_URL", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
		},
		Database: DatabaseConfig{
			DSN:        env("POSTGRES_DSN", ""),
			LedgerPath: env("UPLOAD_LEDGER_PATH", "./data/uploaded_files.json"),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTLP_INSECURE", false),
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

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

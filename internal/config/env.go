package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	EmbedGemini = "gemini"
	EmbedHTTP   = "http"
)

type Config struct {
	StoreDriver string `toml:"store_driver"`
	DatabaseURL string `toml:"database_url"`
	SslCertPath string `toml:"ssl_cert_path"`

	AwsAccessKey string `toml:"aws_access_key"`
	AwsSecretKey string `toml:"aws_secret_key"`
	AwsRegion    string `toml:"aws_region"`
	BucketName   string `toml:"bucket_name"`
	S3Endpoint   string `toml:"s3_endpoint"` // MinIO or other S3 compatible endpoint

	EmbedProvider   string  `toml:"embed_provider"`
	AIAPIKey        string  `toml:"gemini_api_key"`
	EmbedModel      string  `toml:"embed_model"`
	EmbedServiceURL string  `toml:"embed_service_url"`
	EmbedServiceKey string  `toml:"embed_service_key"`
	EmbedRPS        float64 `toml:"embed_rps"`
	EmbedBurst      int     `toml:"embed_burst"`

	ConverterURL   string `toml:"converter_url"`
	ConverterToken string `toml:"converter_token"`
	CrawlerURL     string `toml:"crawler_url"`
	CrawlerToken   string `toml:"crawler_token"`

	PollIntervalSec int `toml:"poll_interval_seconds"`
	PollAttempts    int `toml:"poll_attempts"`
	PageConcurrency int `toml:"page_concurrency"`
	IngestWorkers   int `toml:"ingest_workers"`
	ChunkSize       int `toml:"chunk_size"`
	ChunkOverlap    int `toml:"chunk_overlap"`

	JWTSecret string `toml:"jwt_secret"`
	Port      string `toml:"port"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

func defaults() *Config {
	return &Config{
		StoreDriver:     StorePostgres,
		AwsRegion:       "us-east-2",
		EmbedProvider:   EmbedGemini,
		EmbedModel:      "text-embedding-004",
		EmbedRPS:        5,
		EmbedBurst:      5,
		PollIntervalSec: 10,
		PollAttempts:    60,
		PageConcurrency: 2,
		IngestWorkers:   4,
		ChunkSize:       1000,
		ChunkOverlap:    200,
		Port:            "8080",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadConfig loads the .env file, then the optional TOML file named by
// CONFIG_FILE, then the environment. Later sources win.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SslCertPath = getEnv("SSL_CERT_PATH", cfg.SslCertPath)
	cfg.AwsAccessKey = getEnv("AWS_ACCESS_KEY", cfg.AwsAccessKey)
	cfg.AwsSecretKey = getEnv("AWS_SECRET_KEY", cfg.AwsSecretKey)
	cfg.AwsRegion = getEnv("AWS_REGION", cfg.AwsRegion)
	cfg.BucketName = getEnv("BUCKET_NAME", cfg.BucketName)
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.EmbedProvider = getEnv("EMBED_PROVIDER", cfg.EmbedProvider)
	cfg.AIAPIKey = getEnv("GEMINI_API_KEY", cfg.AIAPIKey)
	cfg.EmbedModel = getEnv("EMBED_MODEL", cfg.EmbedModel)
	cfg.EmbedServiceURL = getEnv("EMBED_SERVICE_URL", cfg.EmbedServiceURL)
	cfg.EmbedServiceKey = getEnv("EMBED_SERVICE_KEY", cfg.EmbedServiceKey)
	cfg.EmbedRPS = getEnvFloat("EMBED_RPS", cfg.EmbedRPS)
	cfg.EmbedBurst = getEnvInt("EMBED_BURST", cfg.EmbedBurst)
	cfg.ConverterURL = getEnv("CONVERTER_URL", cfg.ConverterURL)
	cfg.ConverterToken = getEnv("CONVERTER_TOKEN", cfg.ConverterToken)
	cfg.CrawlerURL = getEnv("CRAWLER_URL", cfg.CrawlerURL)
	cfg.CrawlerToken = getEnv("CRAWLER_TOKEN", cfg.CrawlerToken)
	cfg.PollIntervalSec = getEnvInt("CRAWL_POLL_INTERVAL_SECONDS", cfg.PollIntervalSec)
	cfg.PollAttempts = getEnvInt("CRAWL_POLL_ATTEMPTS", cfg.PollAttempts)
	cfg.PageConcurrency = getEnvInt("CRAWL_PAGE_CONCURRENCY", cfg.PageConcurrency)
	cfg.IngestWorkers = getEnvInt("INGEST_WORKERS", cfg.IngestWorkers)
	cfg.ChunkSize = getEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL not set"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not postgres or memory", c.StoreDriver))
	}

	switch c.EmbedProvider {
	case EmbedGemini:
		if c.AIAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	case EmbedHTTP:
		if c.EmbedServiceURL == "" {
			errs = append(errs, errors.New("EMBED_SERVICE_URL not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMBED_PROVIDER %q is not gemini or http", c.EmbedProvider))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET not set"))
	}
	if c.BucketName != "" && c.AwsRegion == "" {
		errs = append(errs, errors.New("AWS_REGION not set"))
	}
	if c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP %d must be smaller than CHUNK_SIZE %d", c.ChunkOverlap, c.ChunkSize))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config value is not a number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	MusicServer     string        `env:"MUSIC_SERVER" envDefault:"http://120.48.77.142:3200/"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	UpstreamRPS     float64       `env:"UPSTREAM_RPS" envDefault:"5"`

	TargetSizeBytes int64         `env:"TARGET_SIZE_BYTES" envDefault:"5242880"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	KeepSource      bool          `env:"KEEP_SOURCE" envDefault:"false"`
	WorkDir         string        `env:"WORK_DIR" envDefault:"./work"`
	OutputDir       string        `env:"OUTPUT_DIR" envDefault:"./output"`

	Workers    int           `env:"WORKERS" envDefault:"2"`
	QueueSize  int           `env:"QUEUE_SIZE" envDefault:"16"`
	JobTimeout time.Duration `env:"JOB_TIMEOUT" envDefault:"5m"`

	OutputRetention time.Duration `env:"OUTPUT_RETENTION" envDefault:"24h"`
	OutputMaxMB     int           `env:"OUTPUT_MAX_MB" envDefault:"0"`

	S3 S3Config `envPrefix:"S3_"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken      string   `env:"AUTH_TOKEN"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"20"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the optional S3-compatible artifact backend.
// The backend is disabled while Bucket is empty.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	LocalCache    bool          `env:"LOCAL_CACHE" envDefault:"true"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
	UploadWorkers int           `env:"UPLOAD_WORKERS" envDefault:"2"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	MusicServer string
	WorkDir     string
	OutputDir   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.MusicServer != "" {
		cfg.MusicServer = overrides.MusicServer
	}
	if overrides.WorkDir != "" {
		cfg.WorkDir = overrides.WorkDir
	}
	if overrides.OutputDir != "" {
		cfg.OutputDir = overrides.OutputDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TargetSizeBytes <= 0 {
		return fmt.Errorf("TARGET_SIZE_BYTES must be positive, got %d", c.TargetSizeBytes)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("QUEUE_SIZE must not be negative, got %d", c.QueueSize)
	}
	if c.UpstreamRPS < 0 {
		return fmt.Errorf("UPSTREAM_RPS must not be negative, got %g", c.UpstreamRPS)
	}
	return nil
}

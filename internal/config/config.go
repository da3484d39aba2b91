package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exporthaven/forecaster/internal/artifacts"
	"github.com/exporthaven/forecaster/internal/domain/forecast"
	"github.com/exporthaven/forecaster/internal/models/holtwinters"
)

// Config is the complete forecaster configuration, built once at startup
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Training  TrainingConfig  `yaml:"training"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// ArtifactsConfig holds artifact cache and remote store settings
type ArtifactsConfig struct {
	CacheDir     string        `yaml:"cache_dir"`
	BaseURL      string        `yaml:"base_url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxBytes     int64         `yaml:"max_bytes"`
	RPS          float64       `yaml:"rps"`
	Burst        int           `yaml:"burst"`
	Breaker      BreakerConfig `yaml:"breaker"`
	Redis        RedisConfig   `yaml:"redis"`
}

// BreakerConfig configures the remote store circuit breaker
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	Timeout             time.Duration `yaml:"timeout"`
	Interval            time.Duration `yaml:"interval"`
}

// RedisConfig configures the optional shared blob tier
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	DB      int           `yaml:"db"`
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`
}

// ForecastConfig holds serving settings
type ForecastConfig struct {
	TopK           int           `yaml:"top_k"`
	Workers        int           `yaml:"workers"`
	BundleCacheTTL time.Duration `yaml:"bundle_cache_ttl"`
}

// TrainingConfig holds offline pipeline settings
type TrainingConfig struct {
	Source          string        `yaml:"source"` // csv or postgres
	CSVPath         string        `yaml:"csv_path"`
	DSN             string        `yaml:"dsn"`
	Query           string        `yaml:"query"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	MinObservations int           `yaml:"min_observations"`
	TrainRatio      float64       `yaml:"train_ratio"`
	Period          int           `yaml:"period"`
	Strip           string        `yaml:"strip"`
	OutputDir       string        `yaml:"output_dir"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console or json
}

// Default returns the built-in configuration
func Default() Config {
	fetch := artifacts.DefaultFetcherConfig()
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           5001,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 45 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Artifacts: ArtifactsConfig{
			CacheDir:     artifacts.DefaultCacheDir,
			BaseURL:      artifacts.DefaultBaseURL,
			FetchTimeout: fetch.Timeout,
			MaxBytes:     fetch.MaxBytes,
			RPS:          fetch.RPS,
			Burst:        fetch.Burst,
			Breaker: BreakerConfig{
				ConsecutiveFailures: fetch.BreakerFailures,
				Timeout:             fetch.BreakerTimeout,
				Interval:            fetch.BreakerInterval,
			},
			Redis: RedisConfig{
				Prefix: "forecaster:artifact:",
			},
		},
		Forecast: ForecastConfig{
			TopK:    forecast.DefaultTopK,
			Workers: 4,
		},
		Training: TrainingConfig{
			Source:          "csv",
			CSVPath:         "Interpolated_Dataset_yyyy_mm_dd.csv",
			Query:           "SELECT date, country, name, value FROM trade_observations ORDER BY date",
			QueryTimeout:    5 * time.Minute,
			MinObservations: 30,
			TrainRatio:      0.8,
			Period:          holtwinters.DefaultPeriod,
			Strip:           string(holtwinters.StripValues),
			OutputDir:       "artifacts_out",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads path over the defaults; an empty path returns the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("FORECASTER_BASE_URL"); v != "" {
		c.Artifacts.BaseURL = v
	}
	if v := os.Getenv("FORECASTER_CACHE_DIR"); v != "" {
		c.Artifacts.CacheDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Artifacts.Redis.Enabled = true
		c.Artifacts.Redis.Addr = v
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		c.Training.DSN = v
	}
	return nil
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server request_timeout cannot be negative")
	}

	if c.Artifacts.CacheDir == "" {
		return fmt.Errorf("artifacts cache_dir cannot be empty")
	}
	if !strings.HasPrefix(c.Artifacts.BaseURL, "http://") && !strings.HasPrefix(c.Artifacts.BaseURL, "https://") {
		return fmt.Errorf("artifacts base_url must be an http(s) URL, got %q", c.Artifacts.BaseURL)
	}
	if !strings.HasSuffix(c.Artifacts.BaseURL, "/") {
		return fmt.Errorf("artifacts base_url must end with '/', got %q", c.Artifacts.BaseURL)
	}
	if c.Artifacts.FetchTimeout <= 0 {
		return fmt.Errorf("artifacts fetch_timeout must be positive, got %s", c.Artifacts.FetchTimeout)
	}
	if c.Artifacts.RPS < 0 {
		return fmt.Errorf("artifacts rps cannot be negative, got %f", c.Artifacts.RPS)
	}
	if c.Artifacts.Breaker.ConsecutiveFailures == 0 {
		return fmt.Errorf("artifacts breaker consecutive_failures must be positive")
	}
	if c.Artifacts.Redis.Enabled && c.Artifacts.Redis.Addr == "" {
		return fmt.Errorf("artifacts redis addr is required when enabled")
	}

	if c.Forecast.TopK <= 0 {
		return fmt.Errorf("forecast top_k must be positive, got %d", c.Forecast.TopK)
	}
	if c.Forecast.Workers <= 0 {
		return fmt.Errorf("forecast workers must be positive, got %d", c.Forecast.Workers)
	}
	if c.Forecast.BundleCacheTTL < 0 {
		return fmt.Errorf("forecast bundle_cache_ttl cannot be negative")
	}

	if err := c.Training.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}

	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log format must be auto, console or json, got %q", c.Log.Format)
	}

	return nil
}

// Validate ensures the training configuration is consistent
func (t *TrainingConfig) Validate() error {
	switch t.Source {
	case "csv", "postgres":
	default:
		return fmt.Errorf("source must be csv or postgres, got %q", t.Source)
	}
	if t.TrainRatio <= 0 || t.TrainRatio > 1 {
		return fmt.Errorf("train_ratio must be in (0,1], got %f", t.TrainRatio)
	}
	if t.MinObservations < 2*t.Period {
		return fmt.Errorf("min_observations (%d) must cover two seasons of period %d", t.MinObservations, t.Period)
	}
	// Series at the minimum must still leave two seasons after the split
	if train := int(float64(t.MinObservations) * t.TrainRatio); train < 2*t.Period {
		return fmt.Errorf("min_observations (%d) leaves %d training points at train_ratio %.2f, fewer than two seasons of period %d",
			t.MinObservations, train, t.TrainRatio, t.Period)
	}
	if _, err := holtwinters.ParseStripPolicy(t.Strip); err != nil {
		return err
	}
	return nil
}

// FetcherConfig converts the artifact settings for the remote fetcher
func (a ArtifactsConfig) FetcherConfig() artifacts.FetcherConfig {
	return artifacts.FetcherConfig{
		Timeout:         a.FetchTimeout,
		MaxBytes:        a.MaxBytes,
		RPS:             a.RPS,
		Burst:           a.Burst,
		BreakerFailures: a.Breaker.ConsecutiveFailures,
		BreakerTimeout:  a.Breaker.Timeout,
		BreakerInterval: a.Breaker.Interval,
	}
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

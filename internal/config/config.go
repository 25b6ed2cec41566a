// Package config loads process configuration from config.yaml, .env and
// HMO_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// Config is the main application configuration struct.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Index      IndexConfig      `mapstructure:"index"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	Version     string        `mapstructure:"version"`
	HealthProbe time.Duration `mapstructure:"health_probe_timeout"`
}

// Addr returns host:port for the HTTP listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LLMConfig struct {
	Provider           string        `mapstructure:"provider"`
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"`
	APIVersion         string        `mapstructure:"api_version"`
	Timeout            time.Duration `mapstructure:"timeout"`
	PlannerTemperature float64       `mapstructure:"planner_temperature"` // 0..0.1
}

// Settings converts to the domain LLM settings
func (c LLMConfig) Settings() *domain.LLMSettings {
	return &domain.LLMSettings{
		Provider:   domain.AIProvider(c.Provider),
		Model:      c.Model,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		APIVersion: c.APIVersion,
		Timeout:    c.Timeout,
	}
}

type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	APIVersion string        `mapstructure:"api_version"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Settings converts to the domain embedding settings
func (c EmbeddingConfig) Settings() *domain.EmbeddingSettings {
	return &domain.EmbeddingSettings{
		Provider:   domain.AIProvider(c.Provider),
		Model:      c.Model,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		APIVersion: c.APIVersion,
		Dimensions: c.Dimensions,
		Timeout:    c.Timeout,
	}
}

// Index backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendVespa    = "vespa"
)

type IndexConfig struct {
	Backend         string        `mapstructure:"backend"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	PostgresURL     string        `mapstructure:"postgres_url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	VespaURL        string        `mapstructure:"vespa_url"`
	VespaConfigURL  string        `mapstructure:"vespa_config_url"`
	VespaDeploy     bool          `mapstructure:"vespa_deploy"` // Push the schema on startup
}

// RedisConfig is optional; an empty URL disables the Redis lock.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type RetrievalConfig struct {
	TopK       int `mapstructure:"top_k"`
	MaxHistory int `mapstructure:"max_history"`
}

type ResilienceConfig struct {
	MaxConcurrentCalls int64         `mapstructure:"max_concurrent_calls"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"` // 0 disables pacing
	VerifyModels       bool          `mapstructure:"verify_models"`
}

type IngestionConfig struct {
	KnowledgeDir string        `mapstructure:"knowledge_dir"`
	BatchSize    int           `mapstructure:"batch_size"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	Watch        bool          `mapstructure:"watch"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks every section and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if err := c.LLM.Settings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("llm.provider %q: %w", c.LLM.Provider, err))
	}
	if c.LLM.PlannerTemperature < 0 || c.LLM.PlannerTemperature > 0.1 {
		errs = append(errs, fmt.Errorf("llm.planner_temperature %v must be within [0, 0.1]", c.LLM.PlannerTemperature))
	}
	if err := c.Embedding.Settings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("embedding.provider %q: %w", c.Embedding.Provider, err))
	}

	switch c.Index.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Index.SQLitePath == "" {
			errs = append(errs, errors.New("index.sqlite_path is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.Index.PostgresURL == "" {
			errs = append(errs, errors.New("index.postgres_url is required for the postgres backend"))
		}
	case BackendVespa:
		if c.Index.VespaURL == "" {
			errs = append(errs, errors.New("index.vespa_url is required for the vespa backend"))
		}
		if c.Index.VespaDeploy && c.Index.VespaConfigURL == "" {
			errs = append(errs, errors.New("index.vespa_config_url is required when index.vespa_deploy is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.backend %q must be memory, sqlite, postgres or vespa", c.Index.Backend))
	}

	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}
	if c.Retrieval.MaxHistory < 0 {
		errs = append(errs, errors.New("retrieval.max_history must not be negative"))
	}
	if c.Resilience.MaxConcurrentCalls <= 0 {
		errs = append(errs, errors.New("resilience.max_concurrent_calls must be positive"))
	}
	if c.Resilience.MaxAttempts <= 0 {
		errs = append(errs, errors.New("resilience.max_attempts must be positive"))
	}
	if c.Resilience.InitialBackoff > c.Resilience.MaxBackoff {
		errs = append(errs, errors.New("resilience.initial_backoff exceeds max_backoff"))
	}
	if c.Resilience.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("resilience.requests_per_second must not be negative"))
	}
	if c.Ingestion.BatchSize <= 0 || c.Ingestion.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("ingestion.batch_size %d must be between 1 and 100", c.Ingestion.BatchSize))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HMO_LLM_API_KEY
const EnvPrefix = "HMO"

// Load reads configuration. path names an explicit config file; when empty
// config.yaml is looked up in ./ and ./configs and may be absent.
func Load(path string) (*Config, error) {
	loadEnvFile(".env")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env lists arrive comma-separated and untrimmed
	cfg.Server.CORSOrigins = splitList(strings.Join(cfg.Server.CORSOrigins, ","))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadEnvFile loads a dotenv file when present. Existing environment
// variables win.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.version", "dev")
	v.SetDefault("server.health_probe_timeout", "5s")

	v.SetDefault("llm.provider", "azure")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.api_version", "2024-02-01")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.planner_temperature", 0)

	v.SetDefault("embedding.provider", "azure")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.api_version", "2024-02-01")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.timeout", "60s")

	v.SetDefault("index.backend", BackendSQLite)
	v.SetDefault("index.sqlite_path", "./data/index.db")
	v.SetDefault("index.postgres_url", "")
	v.SetDefault("index.max_open_conns", 25)
	v.SetDefault("index.max_idle_conns", 5)
	v.SetDefault("index.conn_max_lifetime", "5m")
	v.SetDefault("index.vespa_url", "")
	v.SetDefault("index.vespa_config_url", "http://localhost:19071")
	v.SetDefault("index.vespa_deploy", false)

	v.SetDefault("redis.url", "")

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.max_history", 15)

	v.SetDefault("resilience.max_concurrent_calls", 10)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff", "2s")
	v.SetDefault("resilience.max_backoff", "10s")
	v.SetDefault("resilience.requests_per_second", 0)
	v.SetDefault("resilience.verify_models", false)

	v.SetDefault("ingestion.knowledge_dir", "./knowledge")
	v.SetDefault("ingestion.batch_size", 100)
	v.SetDefault("ingestion.lock_ttl", "10m")
	v.SetDefault("ingestion.watch", false)
	v.SetDefault("ingestion.debounce", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

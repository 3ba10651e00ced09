package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for easydata-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Engine database configuration (PostgreSQL, holds audit records)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (schema cache, context store, change notifications)
	Redis RedisConfig `yaml:"redis"`

	// Credential vault configuration
	Vault VaultConfig `yaml:"vault"`

	// Backend application API (database ownership lookups)
	Backend BackendConfig `yaml:"backend"`

	// Session management configuration
	Session SessionConfig `yaml:"session"`

	// Schema cache configuration
	SchemaCache SchemaCacheConfig `yaml:"schema_cache"`

	// Context router configuration
	Router RouterConfig `yaml:"router"`

	// Planner collaborator configuration
	Planner PlannerConfig `yaml:"planner"`

	// Credential encryption key for in-memory connection credentials.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds the engine's own PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"easydata"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"easydata_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// URL returns a PostgreSQL connection string.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// VaultConfig holds the external credential vault configuration.
type VaultConfig struct {
	// BaseURL of the secret-store API that serves per-user datasource credentials.
	BaseURL string `yaml:"base_url" env:"VAULT_BASE_URL" env-default:"http://localhost:4000"`
	// APIToken authenticates this engine against the vault.
	APIToken string `yaml:"-" env:"VAULT_API_TOKEN"` // Secret - not in YAML
	// TimeoutSeconds bounds each vault lookup.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"VAULT_TIMEOUT_SECONDS" env-default:"10"`
}

// BackendConfig holds the main application API configuration. The engine
// asks it which databases a user owns.
type BackendConfig struct {
	// BaseURL of the backend application API.
	BaseURL string `yaml:"base_url" env:"BACKEND_BASE_URL" env-default:"http://localhost:8080"`
	// APIToken authenticates this engine against the backend.
	APIToken string `yaml:"-" env:"BACKEND_API_TOKEN"` // Secret - not in YAML
	// TimeoutSeconds bounds each ownership lookup.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"BACKEND_TIMEOUT_SECONDS" env-default:"10"`
}

// SessionConfig holds session manager settings.
type SessionConfig struct {
	// TTLMinutes is how long a session token stays valid after creation.
	TTLMinutes int `yaml:"ttl_minutes" env:"SESSION_TTL_MINUTES" env-default:"30"`
}

// SchemaCacheConfig holds schema cache settings.
type SchemaCacheConfig struct {
	// TTLSeconds is how long a cached schema snapshot is served without re-introspection.
	TTLSeconds int `yaml:"ttl_seconds" env:"SCHEMA_CACHE_TTL_SECONDS" env-default:"3600"`
	// Channel is the pub/sub channel carrying schema change notifications.
	Channel string `yaml:"channel" env:"SCHEMA_CHANGE_CHANNEL" env-default:"schema.changed"`
}

// RouterConfig holds context router settings. The scoring weights are
// configurable; the defaults keep an explicit textual match dominant over
// recency history.
type RouterConfig struct {
	// ContextTTLSeconds is how long a user's database context survives without updates.
	ContextTTLSeconds int `yaml:"context_ttl_seconds" env:"ROUTER_CONTEXT_TTL_SECONDS" env-default:"600"`
	// RecentQueryDepth bounds the per-user recent-query log used for scoring.
	RecentQueryDepth int `yaml:"recent_query_depth" env:"ROUTER_RECENT_QUERY_DEPTH" env-default:"20"`
	// ExactNameWeight scores an exact database-name match in the task text.
	ExactNameWeight float64 `yaml:"exact_name_weight" env:"ROUTER_EXACT_NAME_WEIGHT" env-default:"10"`
	// NameWeight scores a database-name substring match.
	NameWeight float64 `yaml:"name_weight" env:"ROUTER_NAME_WEIGHT" env-default:"5"`
	// ConnectionNameWeight scores a connection-name substring match.
	ConnectionNameWeight float64 `yaml:"connection_name_weight" env:"ROUTER_CONNECTION_NAME_WEIGHT" env-default:"4"`
	// EngineTypeWeight scores an engine-type mention ("postgres", "mongodb").
	EngineTypeWeight float64 `yaml:"engine_type_weight" env:"ROUTER_ENGINE_TYPE_WEIGHT" env-default:"3"`
	// HistoryBoostPerUse is added per recent use of a database.
	HistoryBoostPerUse float64 `yaml:"history_boost_per_use" env:"ROUTER_HISTORY_BOOST_PER_USE" env-default:"1"`
	// HistoryBoostCap bounds the total history contribution so recency can
	// never outweigh an explicit textual match.
	HistoryBoostCap float64 `yaml:"history_boost_cap" env:"ROUTER_HISTORY_BOOST_CAP" env-default:"4"`
}

// PlannerConfig holds planning collaborator settings.
type PlannerConfig struct {
	// Provider selects the LLM backend: "anthropic" or "openai".
	Provider string `yaml:"provider" env:"PLANNER_PROVIDER" env-default:"anthropic"`
	// Model is the model identifier passed to the provider.
	Model string `yaml:"model" env:"PLANNER_MODEL" env-default:"claude-sonnet-4-20250514"`
	// APIKey authenticates against the provider.
	APIKey string `yaml:"-" env:"PLANNER_API_KEY"` // Secret - not in YAML
	// TimeoutSeconds bounds each planner call.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"PLANNER_TIMEOUT_SECONDS" env-default:"30"`
	// SubQueryTimeoutSeconds bounds each fan-out sub-query execution.
	SubQueryTimeoutSeconds int `yaml:"sub_query_timeout_seconds" env:"PLANNER_SUB_QUERY_TIMEOUT_SECONDS" env-default:"15"`
}

// Load reads configuration from config.yaml (if present) with environment
// variable overrides, or from the environment alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.CredentialsKey == "" {
		return fmt.Errorf("CREDENTIALS_KEY must be set")
	}
	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("session ttl_minutes must be positive, got %d", c.Session.TTLMinutes)
	}
	if c.SchemaCache.TTLSeconds <= 0 {
		return fmt.Errorf("schema_cache ttl_seconds must be positive, got %d", c.SchemaCache.TTLSeconds)
	}
	if c.Router.HistoryBoostCap >= c.Router.ExactNameWeight {
		return fmt.Errorf("router history_boost_cap (%v) must stay below exact_name_weight (%v)",
			c.Router.HistoryBoostCap, c.Router.ExactNameWeight)
	}
	switch c.Planner.Provider {
	case "anthropic", "openai", "":
	default:
		return fmt.Errorf("unknown planner provider %q", c.Planner.Provider)
	}
	return nil
}

// Package config loads hindsight configuration from environment
// variables with sane defaults, optionally overlaid by a YAML file.
// Precedence, lowest to highest: defaults, YAML file, environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Task    TaskConfig    `yaml:"task"`
	Engine  EngineConfig  `yaml:"engine"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. ":memory:" gives an ephemeral store.
	Path string `yaml:"path"`

	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
}

// LLMConfig configures the text generation and embedding providers.
type LLMConfig struct {
	// Provider is "ollama" or "openai".
	Provider string `yaml:"provider"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Model is the default completion model; MemoryModel and
	// ReflectModel override it per scope when set.
	Model        string `yaml:"model"`
	MemoryModel  string `yaml:"memory_model"`
	ReflectModel string `yaml:"reflect_model"`

	EmbedModel     string `yaml:"embed_model"`
	EmbedDimension int    `yaml:"embed_dimension"`
	EmbedCacheSize int    `yaml:"embed_cache_size"`

	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// TaskConfig configures the background task backend.
type TaskConfig struct {
	// Backend is "queue" (default) or "inline".
	Backend string `yaml:"backend"`

	BatchSize     int           `yaml:"batch_size"`
	BatchInterval time.Duration `yaml:"batch_interval"`
}

// EngineConfig holds the memory engine tunables. The defaults are the
// values the engine was calibrated with; override with care.
type EngineConfig struct {
	// TemporalWindow is the span around a unit's occurrence inside which
	// temporal links are formed.
	TemporalWindow time.Duration `yaml:"temporal_window"`

	// SemanticTopK and SemanticThreshold bound semantic link formation:
	// at most TopK neighbors, each with similarity at or above the
	// threshold.
	SemanticTopK      int     `yaml:"semantic_top_k"`
	SemanticThreshold float64 `yaml:"semantic_threshold"`

	// DedupThreshold is the cosine similarity above which an incoming
	// fact is treated as a duplicate of a stored one.
	DedupThreshold float64 `yaml:"dedup_threshold"`

	// GraphDecay attenuates activation per hop during recall expansion.
	GraphDecay float64 `yaml:"graph_decay"`

	// ConsolidationThreshold is the number of new units per entity that
	// triggers an observation refresh.
	ConsolidationThreshold int `yaml:"consolidation_threshold"`
}

// LoadConfig builds the configuration. If path is non-empty, or the
// HINDSIGHT_CONFIG environment variable names a file, that YAML file is
// overlaid on the defaults before environment variables are applied.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("HINDSIGHT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "./hindsight.db",
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			BaseURL:        "",
			Model:          "",
			EmbedModel:     "",
			EmbedDimension: 0,
			EmbedCacheSize: 4096,
		},
		Task: TaskConfig{
			Backend:       "queue",
			BatchSize:     10,
			BatchInterval: time.Second,
		},
		Engine: EngineConfig{
			TemporalWindow:         24 * time.Hour,
			SemanticTopK:           5,
			SemanticThreshold:      0.7,
			DedupThreshold:         0.95,
			GraphDecay:             0.7,
			ConsolidationThreshold: 10,
		},
	}
}

// applyEnv overrides fields from HINDSIGHT_-prefixed environment variables.
func (c *Config) applyEnv() {
	c.Storage.Backend = getEnv("HINDSIGHT_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Path = getEnv("HINDSIGHT_SQLITE_PATH", c.Storage.Path)
	c.Storage.DSN = getEnv("HINDSIGHT_POSTGRES_DSN", c.Storage.DSN)

	c.LLM.Provider = getEnv("HINDSIGHT_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = getEnv("HINDSIGHT_LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("HINDSIGHT_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("HINDSIGHT_LLM_MODEL", c.LLM.Model)
	c.LLM.MemoryModel = getEnv("HINDSIGHT_LLM_MEMORY_MODEL", c.LLM.MemoryModel)
	c.LLM.ReflectModel = getEnv("HINDSIGHT_LLM_REFLECT_MODEL", c.LLM.ReflectModel)
	c.LLM.EmbedModel = getEnv("HINDSIGHT_EMBED_MODEL", c.LLM.EmbedModel)
	c.LLM.EmbedDimension = getEnvInt("HINDSIGHT_EMBED_DIMENSION", c.LLM.EmbedDimension)
	c.LLM.EmbedCacheSize = getEnvInt("HINDSIGHT_EMBED_CACHE_SIZE", c.LLM.EmbedCacheSize)
	c.LLM.RequestsPerSecond = getEnvFloat("HINDSIGHT_LLM_RPS", c.LLM.RequestsPerSecond)

	c.Task.Backend = getEnv("HINDSIGHT_TASK_BACKEND", c.Task.Backend)
	c.Task.BatchSize = getEnvInt("HINDSIGHT_TASK_BATCH_SIZE", c.Task.BatchSize)
	c.Task.BatchInterval = getEnvDuration("HINDSIGHT_TASK_BATCH_INTERVAL", c.Task.BatchInterval)

	c.Engine.TemporalWindow = getEnvDuration("HINDSIGHT_TEMPORAL_WINDOW", c.Engine.TemporalWindow)
	c.Engine.SemanticTopK = getEnvInt("HINDSIGHT_SEMANTIC_TOP_K", c.Engine.SemanticTopK)
	c.Engine.SemanticThreshold = getEnvFloat("HINDSIGHT_SEMANTIC_THRESHOLD", c.Engine.SemanticThreshold)
	c.Engine.DedupThreshold = getEnvFloat("HINDSIGHT_DEDUP_THRESHOLD", c.Engine.DedupThreshold)
	c.Engine.GraphDecay = getEnvFloat("HINDSIGHT_GRAPH_DECAY", c.Engine.GraphDecay)
	c.Engine.ConsolidationThreshold = getEnvInt("HINDSIGHT_CONSOLIDATION_THRESHOLD", c.Engine.ConsolidationThreshold)
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage backend sqlite requires a path")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage backend postgres requires a DSN")
		}
	default:
		return fmt.Errorf("config: unsupported storage backend: %q", c.Storage.Backend)
	}

	switch c.Task.Backend {
	case "queue", "inline":
	default:
		return fmt.Errorf("config: unsupported task backend: %q", c.Task.Backend)
	}

	if c.Engine.SemanticThreshold < 0 || c.Engine.SemanticThreshold > 1 {
		return fmt.Errorf("config: semantic_threshold must be in [0, 1], got %g", c.Engine.SemanticThreshold)
	}
	if c.Engine.DedupThreshold < 0 || c.Engine.DedupThreshold > 1 {
		return fmt.Errorf("config: dedup_threshold must be in [0, 1], got %g", c.Engine.DedupThreshold)
	}
	if c.Engine.GraphDecay <= 0 || c.Engine.GraphDecay > 1 {
		return fmt.Errorf("config: graph_decay must be in (0, 1], got %g", c.Engine.GraphDecay)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("30s", "1h")
// or returns a default value. Unparseable values fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "dqinsight.yaml"

// Config holds all dqinsight configuration.
type Config struct {
	// HTTP route layer
	Server ServerConfig `yaml:"server"`

	// LLM provider
	LLM LLMConfig `yaml:"llm"`

	// Retry schedules for the two call modes
	Retry RetryConfig `yaml:"retry"`

	// Dataset file shared with the provider
	Dataset DatasetConfig `yaml:"dataset"`

	// File-reference cache backend
	Cache CacheConfig `yaml:"cache"`

	// Trace persistence
	Trace TraceConfig `yaml:"trace"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxQueryLength int    `yaml:"max_query_length"`
}

// DatasetConfig points at the local dataset uploaded as file context.
type DatasetConfig struct {
	Path     string `yaml:"path"`
	MIMEType string `yaml:"mime_type"`
	TTL      string `yaml:"ttl"`   // reuse window for an uploaded file
	Watch    bool   `yaml:"watch"` // invalidate the cached upload when the file changes
}

// CacheConfig selects where file references are kept.
type CacheConfig struct {
	Backend string      `yaml:"backend"` // memory, redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the shared redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// TraceConfig configures the SQLite trace store.
type TraceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    "15s",
			WriteTimeout:   "5m",
			MaxQueryLength: 2000,
		},

		LLM: LLMConfig{
			Provider:   ProviderGemini,
			Model:      "gemini-2.5-flash",
			Timeout:    "120s",
			SchemaMode: SchemaModeNative,
		},

		Retry: RetryConfig{
			CodeExecution: RetryPolicyConfig{
				MaxAttempts: 3,
				Delays:      []string{"1s", "2s", "4s", "8s", "16s"},
			},
			Structured: RetryPolicyConfig{
				MaxAttempts: 5,
				Delays:      []string{"1s", "2s", "4s", "8s", "16s"},
			},
		},

		Dataset: DatasetConfig{
			MIMEType: "text/csv",
			TTL:      "47h",
		},

		Cache: CacheConfig{
			Backend: CacheMemory,
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "dqinsight:dataset:file",
			},
		},

		Trace: TraceConfig{
			Enabled:      true,
			DatabasePath: "data/traces.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// A Gemini key wins; OpenAI is only selected when no Gemini key exists.
	gemini := os.Getenv("GEMINI_API_KEY")
	if gemini == "" {
		gemini = os.Getenv("GOOGLE_API_KEY")
	}
	if gemini != "" {
		c.LLM.APIKey = gemini
		c.LLM.Provider = ProviderGemini
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = ProviderOpenAI
	}

	if model := os.Getenv("DQ_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("DQ_DATASET_PATH"); path != "" {
		c.Dataset.Path = path
	}
	if addr := os.Getenv("DQ_REDIS_ADDR"); addr != "" {
		c.Cache.Redis.Addr = addr
		c.Cache.Backend = CacheRedis
	}
	if level := os.Getenv("DQ_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	port := s.Port
	if port == 0 {
		port = 8080
	}
	return s.Host + ":" + strconv.Itoa(port)
}

// GetReadTimeout returns the server read timeout as a duration.
func (s ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(s.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the server write timeout as a duration.
func (s ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(s.WriteTimeout, 5*time.Minute)
}

// GetTTL returns how long an uploaded dataset reference is reused.
// Provider-hosted files expire after 48h; the default leaves an hour of margin.
func (d DatasetConfig) GetTTL() time.Duration {
	return parseDuration(d.TTL, 47*time.Hour)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate validates the configuration. An empty API key is accepted:
// calls then fail with a configuration error at request time.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !contains(ValidSchemaModes, c.LLM.SchemaMode) {
		return fmt.Errorf("invalid schema mode: %s (valid: %v)", c.LLM.SchemaMode, ValidSchemaModes)
	}
	if c.Cache.Backend != CacheMemory && c.Cache.Backend != CacheRedis {
		return fmt.Errorf("invalid cache backend: %s (valid: [%s %s])", c.Cache.Backend, CacheMemory, CacheRedis)
	}
	if c.Cache.Backend == CacheRedis && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required for the redis backend")
	}
	if err := c.Retry.CodeExecution.validate("retry.code_execution"); err != nil {
		return err
	}
	if err := c.Retry.Structured.validate("retry.structured"); err != nil {
		return err
	}
	if c.Server.MaxQueryLength < 0 {
		return fmt.Errorf("server.max_query_length must be >= 0")
	}
	if c.Trace.Enabled && c.Trace.DatabasePath == "" {
		return fmt.Errorf("trace.database_path is required when tracing is enabled")
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

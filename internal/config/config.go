package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the datagate API configuration.
type Config struct {
	HTTP      HTTPConfig                `yaml:"http"`
	Auth      AuthConfig                `yaml:"auth"`
	Schema    SchemaConfig              `yaml:"schema"`
	Cache     CacheConfig               `yaml:"cache"`
	Engine    EngineConfig              `yaml:"engine"`
	Instances map[string]InstanceConfig `yaml:"instances"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// SchemaConfig points at the collection definition tree
// (<dir>/<instance>/<database>/<collection>.yaml).
type SchemaConfig struct {
	Dir string `yaml:"dir"`
}

// CacheConfig holds read-result cache settings.
type CacheConfig struct {
	Driver   string   `yaml:"driver"` // none, memory, redis (default: none)
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// EngineConfig holds cross-backend engine settings.
type EngineConfig struct {
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	DefaultChunkSize  int `yaml:"default_chunk_size"`
	// MaxConcurrentPerBackend bounds in-flight storage calls per adapter.
	MaxConcurrentPerBackend int `yaml:"max_concurrent_per_backend"`
}

// InstanceConfig groups the databases of one logical instance.
type InstanceConfig struct {
	Databases map[string]DatabaseConfig `yaml:"databases"`
}

// DatabaseConfig holds the storage backend of one database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory, mongo, postgres
	URI    string `yaml:"uri"`
	// Database is the backend-side database name; defaults to the logical name.
	Database string `yaml:"database"`
	// MaxConcurrent overrides engine.max_concurrent_per_backend for this database.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Schema.Dir == "" {
		c.Schema.Dir = "schemas"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "none"
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 60
	}
	if c.Engine.RequestTimeoutSec <= 0 {
		c.Engine.RequestTimeoutSec = 30
	}
	if c.Engine.DefaultChunkSize <= 0 {
		c.Engine.DefaultChunkSize = 1000
	}
	if c.Engine.MaxConcurrentPerBackend <= 0 {
		c.Engine.MaxConcurrentPerBackend = 16
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("cache.driver must be none, memory or redis, got %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "redis" && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required for the redis driver")
	}
	if len(c.Instances) == 0 {
		return fmt.Errorf("at least one instance is required")
	}
	for instance, ic := range c.Instances {
		if len(ic.Databases) == 0 {
			return fmt.Errorf("instances.%s has no databases", instance)
		}
		for database, dc := range ic.Databases {
			switch dc.Driver {
			case "memory":
			case "mongo", "postgres":
				if dc.URI == "" {
					return fmt.Errorf("instances.%s.databases.%s.uri is required for driver %q",
						instance, database, dc.Driver)
				}
			default:
				return fmt.Errorf("instances.%s.databases.%s.driver must be memory, mongo or postgres, got %q",
					instance, database, dc.Driver)
			}
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

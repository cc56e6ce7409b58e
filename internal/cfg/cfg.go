// Package cfg loads the serving daemon's configuration from an optional
// YAML file with environment-variable overrides. A .env file in the working
// directory is honored for local development.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string
	ModelsDir    string
	DataDir      string
	AuditEnabled bool
	CacheSize    int
	CacheTTL     time.Duration
	LogLevel     string
	PrettyLogs   bool
}

type ConfigFile struct {
	Server struct {
		ListenAddr string `yaml:"listenAddr"`
	} `yaml:"server"`

	Model struct {
		ModelsDir string `yaml:"modelsDir"`
	} `yaml:"model"`

	Audit struct {
		Enabled  bool   `yaml:"enabled"`
		DataPath string `yaml:"dataPath"`
	} `yaml:"audit"`

	Cache struct {
		Size int    `yaml:"size"`
		TTL  string `yaml:"ttl"`
	} `yaml:"cache"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

// Load resolves settings in order: .env file, then the YAML file named by
// NOVA_CONFIG (if set), then environment variables overriding both.
func Load() (Settings, error) {
	// Missing .env is fine; it only exists in dev setups.
	_ = godotenv.Load()

	if configPath := os.Getenv("NOVA_CONFIG"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cacheTTL, err := time.ParseDuration(config.Cache.TTL)
	if err != nil {
		cacheTTL = 5 * time.Minute
	}

	settings := Settings{
		ListenAddr:   getEnvOrDefault("NOVA_LISTEN_ADDR", config.Server.ListenAddr),
		ModelsDir:    getEnvOrDefault("NOVA_MODELS_DIR", config.Model.ModelsDir),
		DataDir:      getEnvOrDefault("NOVA_DATA_DIR", config.Audit.DataPath),
		AuditEnabled: getBoolOrDefault("NOVA_AUDIT_ENABLED", config.Audit.Enabled),
		CacheSize:    getIntOrDefault("NOVA_CACHE_SIZE", config.Cache.Size),
		CacheTTL:     getDurationOrDefault("NOVA_CACHE_TTL", cacheTTL),
		LogLevel:     getEnvOrDefault("NOVA_LOG_LEVEL", config.Logging.Level),
		PrettyLogs:   getBoolOrDefault("NOVA_LOG_PRETTY", config.Logging.Pretty),
	}
	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ListenAddr:   getEnvOrDefault("NOVA_LISTEN_ADDR", ":8000"),
		ModelsDir:    getEnvOrDefault("NOVA_MODELS_DIR", "model_output"),
		DataDir:      os.Getenv("NOVA_DATA_DIR"), // optional
		AuditEnabled: getBoolOrDefault("NOVA_AUDIT_ENABLED", false),
		CacheSize:    getIntOrDefault("NOVA_CACHE_SIZE", 1024),
		CacheTTL:     getDurationOrDefault("NOVA_CACHE_TTL", 5*time.Minute),
		LogLevel:     getEnvOrDefault("NOVA_LOG_LEVEL", "info"),
		PrettyLogs:   getBoolOrDefault("NOVA_LOG_PRETTY", false),
	}
	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func applyDefaults(s *Settings) {
	if s.ListenAddr == "" {
		s.ListenAddr = ":8000"
	}
	if s.ModelsDir == "" {
		s.ModelsDir = "model_output"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = 5 * time.Minute
	}
}

func validateSettings(s *Settings) error {
	if s.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative, got %d", s.CacheSize)
	}
	if s.CacheTTL < 0 {
		return fmt.Errorf("cache TTL must not be negative, got %s", s.CacheTTL)
	}
	switch s.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("unknown log level %q", s.LogLevel)
	}
	if s.AuditEnabled && s.DataDir == "" {
		return fmt.Errorf("audit is enabled but no data directory is set")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

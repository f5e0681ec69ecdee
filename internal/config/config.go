package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds the service settings.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	StoreBackend    string        `yaml:"store_backend"`
	DatabaseURL     string        `yaml:"database_url"`
	SolarAPIKey     string        `yaml:"solar_api_key"`
	SolarBaseURL    string        `yaml:"solar_base_url"`
	SolarModel      string        `yaml:"solar_model"`
	SolarTimeout    time.Duration `yaml:"solar_timeout"`
	ModelPath       string        `yaml:"model_path"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	JWTSecret       string        `yaml:"auth_jwt_secret"`
	AlertWebhookURL string        `yaml:"alert_webhook_url"`
	AlertTemplate   string        `yaml:"alert_template"`
	AlertCooldown   time.Duration `yaml:"alert_cooldown"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	LogLevel        string        `yaml:"log_level"`
}

// Load reads settings from the environment, then overlays the YAML file
// named by CONFIG_FILE when set.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8000"),
		StoreBackend:    getenvDefault("STORE_BACKEND", StorePostgres),
		DatabaseURL:     getenvDefault("DATABASE_URL", defaultDatabaseURL()),
		SolarAPIKey:     os.Getenv("SOLAR_API_KEY"),
		SolarBaseURL:    getenvDefault("SOLAR_BASE_URL", ""),
		SolarModel:      getenvDefault("SOLAR_MODEL", ""),
		SolarTimeout:    getenvDuration("SOLAR_TIMEOUT", 30*time.Second),
		ModelPath:       getenvDefault("MODEL_PATH", "failure_model.json"),
		MaxUploadBytes:  getenvInt64Default("MAX_UPLOAD_BYTES", 32<<20),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", ""),
		AlertWebhookURL: getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertTemplate:   getenvDefault("ALERT_TEMPLATE", ""),
		AlertCooldown:   getenvDuration("ALERT_COOLDOWN", 0),
		PublicBaseURL:   getenvDefault("PUBLIC_BASE_URL", ""),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable fallback.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the %s store", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("config: HTTP_ADDR is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func defaultDatabaseURL() string {
	return fmt.Sprintf("postgres://admin:password@%s:5432/askup_voc", getenvDefault("DB_HOST", "localhost"))
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt64Default(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

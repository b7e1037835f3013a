package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Planner  PlannerConfig  `yaml:"planner"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EnableCORS    bool          `yaml:"enable_cors"`
	EnableMetrics bool          `yaml:"enable_metrics"`
}

// LedgerConfig holds inventory ledger behavior settings.
//
// AllowNegativeStock reproduces the permissive mode of the legacy
// system: consumption never checks on-hand quantity and stock may go
// below zero. With the default (false) every decrement is a conditional
// update that fails with ErrInsufficientStock instead.
type LedgerConfig struct {
	AllowNegativeStock bool   `yaml:"allow_negative_stock"`
	DefaultWarehouse   string `yaml:"default_warehouse"`
	BulkSheetName      string `yaml:"bulk_sheet_name"`
}

// PlannerConfig holds recompute worker settings.
type PlannerConfig struct {
	QueueSize int     `yaml:"queue_size"`
	IVARate   float64 `yaml:"iva_rate"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// Load loads configuration from environment variables. When
// CONFIG_FILE is set the YAML file is read first and environment
// variables override its values.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.API.Port = getEnvAsInt("API_PORT", cfg.API.Port)
	cfg.API.ReadTimeout = getEnvAsDuration("API_READ_TIMEOUT", cfg.API.ReadTimeout)
	cfg.API.WriteTimeout = getEnvAsDuration("API_WRITE_TIMEOUT", cfg.API.WriteTimeout)
	cfg.API.IdleTimeout = getEnvAsDuration("API_IDLE_TIMEOUT", cfg.API.IdleTimeout)
	cfg.API.EnableCORS = getEnvAsBool("API_ENABLE_CORS", cfg.API.EnableCORS)
	cfg.API.EnableMetrics = getEnvAsBool("API_ENABLE_METRICS", cfg.API.EnableMetrics)

	cfg.Ledger.AllowNegativeStock = getEnvAsBool("LEDGER_ALLOW_NEGATIVE_STOCK", cfg.Ledger.AllowNegativeStock)
	cfg.Ledger.DefaultWarehouse = getEnv("LEDGER_DEFAULT_WAREHOUSE", cfg.Ledger.DefaultWarehouse)
	cfg.Ledger.BulkSheetName = getEnv("LEDGER_BULK_SHEET_NAME", cfg.Ledger.BulkSheetName)

	cfg.Planner.QueueSize = getEnvAsInt("PLANNER_QUEUE_SIZE", cfg.Planner.QueueSize)
	cfg.Planner.IVARate = getEnvAsFloat("PLANNER_IVA_RATE", cfg.Planner.IVARate)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "inventario",
			Password: "password",
			DBName:   "inventario_db",
			SSLMode:  "disable",
		},
		API: APIConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
			EnableCORS:    true,
			EnableMetrics: true,
		},
		Ledger: LedgerConfig{
			AllowNegativeStock: false,
			DefaultWarehouse:   "ALMACEN-GENERAL",
			BulkSheetName:      "Sheet1",
		},
		Planner: PlannerConfig{
			QueueSize: 256,
			IVARate:   0.16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d", c.API.Port)
	}

	if c.Ledger.DefaultWarehouse == "" {
		return fmt.Errorf("default warehouse is required")
	}
	if c.Planner.QueueSize <= 0 {
		return fmt.Errorf("planner queue size must be positive: %d", c.Planner.QueueSize)
	}
	if c.Planner.IVARate < 0 || c.Planner.IVARate >= 1 {
		return fmt.Errorf("invalid IVA rate: %f", c.Planner.IVARate)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// DSN generates the PostgreSQL data source name.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

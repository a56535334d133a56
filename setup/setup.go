// Package setup loads service configuration from setup.yaml with environment
// overrides for deployment-specific values.
package setup

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure, populated from a YAML file and
// then overridden by environment variables where set.
type Config struct {
	Server       ServerConfig    `yaml:"server"`
	Database     DatabaseConfig  `yaml:"database"`
	Auth         AuthConfig      `yaml:"auth"`
	Economics    EconomicsConfig `yaml:"economics"`
	SeedDemoData bool            `yaml:"seedDemoData"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"baseUrl"`
}

// DatabaseConfig selects the gorm driver and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	JWTSecret            string `yaml:"jwtSecret"`
	TokenLifetimeMinutes int    `yaml:"tokenLifetimeMinutes"`
}

// EconomicsConfig fixes the platform's monetary rules. All amounts are whole
// tokens.
type EconomicsConfig struct {
	InitialAccountGrant   int64 `yaml:"initialAccountGrant"`
	MinimumLiquidityParam int64 `yaml:"minimumLiquidityParam"`
	MaximumFeePercent     int64 `yaml:"maximumFeePercent"`
}

// Load reads the config file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	config := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("setup: reading %s: %w", path, err)
		}
		// No file: run on defaults plus environment.
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("setup: parsing %s: %w", path, err)
	}

	applyEnv(config)

	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("setup: jwtSecret is required (set auth.jwtSecret or JWT_SECRET)")
	}
	return config, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "lmsrmarket.db",
		},
		Auth: AuthConfig{
			TokenLifetimeMinutes: 60,
		},
		Economics: EconomicsConfig{
			InitialAccountGrant:   5000,
			MinimumLiquidityParam: 10,
			MaximumFeePercent:     20,
		},
	}
}

func applyEnv(config *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		config.Server.BaseURL = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		config.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		config.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("SEED_DEMO_DATA"); v != "" {
		config.SeedDemoData = v == "1" || v == "true"
	}
}

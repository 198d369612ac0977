package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig
	App    AppConfig
	Source SourceDatabaseConfig
	Redis  RedisConfig
}

type ServerConfig struct {
	Port   string
	APIKey string
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
}

// SourceDatabaseConfig points at the OMOP CDM source. A zero value means
// "not configured": cohort creation and demographic stats degrade instead
// of failing at startup.
type SourceDatabaseConfig struct {
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Hostname     string        `yaml:"hostname"`
	Port         int           `yaml:"port"`
	Database     string        `yaml:"database"`
	QueryTimeout time.Duration `yaml:"-"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// sourceFile mirrors the YAML layout of the source configuration file.
type sourceFile struct {
	RootOMOPCDMDatabase SourceDatabaseConfig `yaml:"root_omop_cdm_database"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:   getEnv("PORT", "8080"),
			APIKey: getEnv("API_KEY", ""),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	cfg.Source = loadSource(getEnv("SOURCE_DB_CONFIG", "config/source.yaml"))
	cfg.Source.QueryTimeout = time.Duration(getEnvAsInt("SOURCE_QUERY_TIMEOUT_SECONDS", 30)) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSource reads the YAML source file, falling back to SOURCE_DB_* env
// variables when the file is absent. Missing or invalid configuration
// degrades to the unconfigured state rather than failing startup.
func loadSource(path string) SourceDatabaseConfig {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("source config %s unreadable, treating source as unconfigured: %v", path, err)
			return SourceDatabaseConfig{}
		}
		return sourceFromEnv()
	}
	var f sourceFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		log.Printf("source config %s is not valid YAML, treating source as unconfigured: %v", path, err)
		return SourceDatabaseConfig{}
	}
	return f.RootOMOPCDMDatabase
}

func sourceFromEnv() SourceDatabaseConfig {
	return SourceDatabaseConfig{
		Username: getEnv("SOURCE_DB_USER", ""),
		Password: getEnv("SOURCE_DB_PASSWORD", ""),
		Hostname: getEnv("SOURCE_DB_HOST", ""),
		Port:     getEnvAsInt("SOURCE_DB_PORT", 5432),
		Database: getEnv("SOURCE_DB_NAME", ""),
	}
}

// Configured reports whether enough fields are present to reach the source.
func (s SourceDatabaseConfig) Configured() bool {
	return s.Hostname != "" && s.Database != ""
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Source.Configured() && c.Source.Port <= 0 {
		return fmt.Errorf("source database port must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration, loaded from an optional YAML file with
// environment variables taking precedence.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Store struct {
		// Backend selects the room store: memory, postgres, or redis.
		Backend   string `yaml:"backend"`
		RedisAddr string `yaml:"redis_addr"`
		Postgres  struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"store"`
	Bus struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"bus"`
	AI struct {
		AnswerURL string `yaml:"answer_url"`
	} `yaml:"ai"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server.Port = getEnv("PORT", defaultString(config.Server.Port, "8080"))
	config.Store.Backend = getEnv("STORE_BACKEND", defaultString(config.Store.Backend, "memory"))
	config.Store.RedisAddr = getEnv("REDIS_ADDR", defaultString(config.Store.RedisAddr, "localhost:6379"))
	pg := &config.Store.Postgres
	pg.Host = getEnv("DB_HOST", defaultString(pg.Host, "localhost"))
	pg.Port = getEnvAsInt("DB_PORT", defaultInt(pg.Port, 5432))
	pg.User = getEnv("DB_USER", defaultString(pg.User, "postgres"))
	pg.Password = getEnv("DB_PASSWORD", defaultString(pg.Password, "postgres"))
	pg.Database = getEnv("DB_NAME", defaultString(pg.Database, "unmask"))
	pg.SSLMode = getEnv("DB_SSLMODE", defaultString(pg.SSLMode, "disable"))
	config.Bus.Enabled = getEnvAsBool("NATS_ENABLED", config.Bus.Enabled)
	config.Bus.URL = getEnv("NATS_URL", defaultString(config.Bus.URL, "nats://localhost:4222"))
	config.AI.AnswerURL = getEnv("AI_ANSWER_URL", config.AI.AnswerURL)

	return &config, nil
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func defaultInt(value, fallback int) int {
	if value != 0 {
		return value
	}
	return fallback
}

// PostgresDSN returns the connection URL for the postgres backend.
func (c *Config) PostgresDSN() string {
	pg := c.Store.Postgres
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.User, pg.Password, pg.Host, pg.Port, pg.Database, pg.SSLMode,
	)
}

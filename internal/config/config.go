package config

import (
	"fmt"
	"os"
	"time"
)

// Server holds configuration for the reconciliation server binary.
type Server struct {
	DBSource  string
	Port      string
	JWTSecret string
	Env       string
}

// Client holds configuration for the sync client binary.
type Client struct {
	BaseURL        string
	DBPath         string
	RequestTimeout time.Duration
}

// LoadServer reads server configuration from the environment.
func LoadServer() (*Server, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	return &Server{
		DBSource:  dbSource,
		Port:      getEnv("SERVER_PORT", "8080"),
		JWTSecret: secret,
		Env:       getEnv("ENVIRONMENT", "development"),
	}, nil
}

// LoadClient reads client configuration from the environment.
func LoadClient() (*Client, error) {
	baseURL := os.Getenv("API_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL environment variable is required")
	}

	return &Client{
		BaseURL:        baseURL,
		DBPath:         getEnv("LOCAL_DB_PATH", "receipts.db"),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseDSN string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleProjectID    string
	GoogleCredsFile    string
	PubSubTopic        string

	AzureClientID     string
	AzureClientSecret string
	AzureTenantID     string

	CronSecret    string
	PublicBaseURL string
	SyncInterval  time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	syncInterval := time.Duration(0)
	if raw := os.Getenv("SYNC_INTERVAL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			syncInterval = parsed
		}
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseDSN: getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=crmsync port=5432 sslmode=disable"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GoogleCredsFile:    getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		PubSubTopic:        getEnv("PUBSUB_TOPIC", "gmail-notifications"),

		AzureClientID:     getEnv("AZURE_CLIENT_ID", ""),
		AzureClientSecret: getEnv("AZURE_CLIENT_SECRET", ""),
		AzureTenantID:     getEnv("AZURE_TENANT_ID", "common"),

		CronSecret:    getEnv("CRON_SECRET", ""),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		SyncInterval:  syncInterval,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

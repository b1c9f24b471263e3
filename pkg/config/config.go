package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	LogLevel    string
	BaseURL     string
	FrontendURL string

	// EncryptionKey protects cookies and tokens at rest. Truncated or padded to 32 bytes.
	EncryptionKey string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleProjectID    string
	GooglePubSubTopic  string
	GoogleCredentials  string

	// Pub/Sub push authentication; verification is off when the audience is empty.
	GooglePushAudience       string
	GooglePushServiceAccount string

	OutlookClientID     string
	OutlookClientSecret string
	OutlookRedirectURI  string
	OutlookTenantID     string
	OutlookWebhookURL   string
	OutlookClientState  string

	CacheTTL          time.Duration
	ProviderTimeout   time.Duration
	ReconcileInterval time.Duration
	ShutdownTimeout   time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	baseURL := strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("APP_ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		BaseURL:     baseURL,
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "maildash"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", baseURL+"/auth/gmail/callback"),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:  getEnv("GOOGLE_PUBSUB_TOPIC", ""),
		GoogleCredentials:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		GooglePushAudience:       getEnv("GOOGLE_PUSH_AUDIENCE", ""),
		GooglePushServiceAccount: getEnv("GOOGLE_PUSH_SERVICE_ACCOUNT", ""),

		OutlookClientID:     getEnv("OUTLOOK_CLIENT_ID", ""),
		OutlookClientSecret: getEnv("OUTLOOK_CLIENT_SECRET", ""),
		OutlookRedirectURI:  getEnv("OUTLOOK_REDIRECT_URI", baseURL+"/auth/outlook/callback"),
		OutlookTenantID:     getEnv("OUTLOOK_TENANT_ID", "common"),
		OutlookWebhookURL:   getEnv("OUTLOOK_WEBHOOK_URL", baseURL+"/webhook/outlook"),
		OutlookClientState:  getEnv("OUTLOOK_CLIENT_STATE", "outlookSubscriptionVerification"),

		CacheTTL:          getDuration("CACHE_TTL", 5*time.Minute),
		ProviderTimeout:   getDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ReconcileInterval: getDuration("TOKEN_RECONCILE_INTERVAL", time.Minute),
		ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// IsDevelopment reports whether error responses may carry internal detail.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DatabaseEnabled is false when no DB_HOST is set; the token store then runs memory-only.
func (c *Config) DatabaseEnabled() bool {
	return c.DBHost != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

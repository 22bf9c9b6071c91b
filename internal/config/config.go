package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	ServerPort     int
	DatabaseURL    string
	JWTSecret      string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	PublicBaseURL  string

	// Payment
	GatewayTimeout       time.Duration
	PaymentExpiryMinutes int
	MidtransServerKey    string // webhook fallback when no midtrans row exists
	MidtransBaseURL      string
	DuitkuBaseURL        string
	TripayBaseURL        string
	ExpirySweepInterval  time.Duration // 0 disables the sweeper
	ExpiryGrace          time.Duration

	// Shared expiring store
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	NotifyThrottle time.Duration

	// Notifications
	NotifyEnabled           bool
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	SMTPFrom                string
	WAProviderURL           string
	WAApiKey                string
	TelegramToken           string
	TelegramChatID          string
	FirebaseCredentialsFile string
	FCMTopic                string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		fmt.Printf("⚠️  WARNING: JWT_SECRET not set, generated random secret: %s\n", jwtSecret)
		fmt.Printf("   Tokens issued by the account service will not verify until JWT_SECRET is shared!\n")
	}

	return &Config{
		ServerPort:     getEnvAsInt("SERVER_PORT", 8080),
		DatabaseURL:    getEnv("DATABASE_URL", "./data/store.db"),
		JWTSecret:      jwtSecret,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		GatewayTimeout:       getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
		PaymentExpiryMinutes: getEnvAsInt("PAYMENT_EXPIRY_MINUTES", 1440),
		MidtransServerKey:    getEnv("MIDTRANS_SERVER_KEY", ""),
		MidtransBaseURL:      getEnv("MIDTRANS_BASE_URL", ""),
		DuitkuBaseURL:        getEnv("DUITKU_BASE_URL", ""),
		TripayBaseURL:        getEnv("TRIPAY_BASE_URL", ""),
		ExpirySweepInterval:  getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", 10*time.Minute),
		ExpiryGrace:          getEnvAsDuration("EXPIRY_GRACE", time.Hour),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		NotifyThrottle: getEnvAsDuration("NOTIFY_THROTTLE", time.Minute),

		NotifyEnabled:           getEnvAsBool("NOTIFY_ENABLED", true),
		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:                getEnv("SMTP_FROM", "noreply@nikarya.local"),
		WAProviderURL:           getEnv("WA_PROVIDER_URL", "https://api.fonnte.com/send"),
		WAApiKey:                getEnv("WA_API_KEY", ""),
		TelegramToken:           getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID:          getEnv("TELEGRAM_CHAT_ID", ""),
		FirebaseCredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		FCMTopic:                getEnv("FCM_TOPIC", "store-orders"),
	}
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// generateRandomSecret generates a cryptographically secure random string
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-secret-%d", time.Now().UnixNano())
	}
	for i := range b {
		b[i] = charset[b[i]%byte(len(charset))]
	}
	return string(b)
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		switch value {
		case "1", "t", "T", "true", "TRUE", "True", "yes", "YES":
			return true
		case "0", "f", "F", "false", "FALSE", "False", "no", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	StoreModePlatform = "platform"
	StoreModeLocal    = "local"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type Config struct {
	HTTPPort  string
	LogMode   string
	JWTSecret string

	// StoreMode selects the conversation store binding: "platform" talks to
	// the hosted platform API, "local" runs self-hosted on SQLite + Gemini.
	StoreMode string

	PlatformAPIURL    string
	PlatformAPISecret string

	DatabaseURL  string
	GeminiAPIKey string

	// AllowedBotIDs restricts which bots are exposed to clients. Empty means
	// every bot on the platform is visible.
	AllowedBotIDs []string

	SessionStore  string
	RedisAddr     string
	RedisPassword string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogMode:           getEnv("LOG_MODE", "dev"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		StoreMode:         getEnv("STORE_MODE", StoreModePlatform),
		PlatformAPIURL:    getEnv("PLATFORM_API_URL", "https://api.chatbotkit.com/v1"),
		PlatformAPISecret: getEnv("PLATFORM_API_SECRET", ""),
		DatabaseURL:       getEnv("DATABASE_URL", "chat_gateway.db"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		AllowedBotIDs:     splitList(getEnv("ALLOWED_BOT_IDS", "")),
		SessionStore:      getEnv("SESSION_STORE", SessionStoreMemory),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	switch AppConfig.StoreMode {
	case StoreModePlatform:
		if AppConfig.PlatformAPISecret == "" {
			log.Fatal("PLATFORM_API_SECRET environment variable is required in platform mode")
		}
	case StoreModeLocal:
		if AppConfig.GeminiAPIKey == "" {
			log.Fatal("GEMINI_API_KEY environment variable is required in local mode")
		}
	default:
		log.Fatalf("Unknown STORE_MODE %q (expected %q or %q)", AppConfig.StoreMode, StoreModePlatform, StoreModeLocal)
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// splitList parses a comma-separated env value, dropping empty entries.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

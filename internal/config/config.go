package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Remote exam service.
	APIBaseURL     string
	APIToken       string
	HTTPTimeout    time.Duration
	QuestionCount  int
	Category       string
	Difficulty     string
	AnswerSyncSize int

	LogLevel  string
	LogFormat string

	// Kiosk HTTP surface.
	KioskPort string
	GinMode   string
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string

	// Optional collaborators. Empty disables them.
	DatabaseURL string
	MaxDBConns  int32
	RedisURL    string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		APIBaseURL:     strings.TrimRight(getEnv("EXAM_API_URL", "http://localhost:8001/api"), "/"),
		APIToken:       getEnv("EXAM_API_TOKEN", ""),
		HTTPTimeout:    time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		QuestionCount:  getEnvInt("EXAM_QUESTION_COUNT", 5),
		Category:       getEnv("EXAM_CATEGORY", ""),
		Difficulty:     getEnv("EXAM_DIFFICULTY", ""),
		AnswerSyncSize: getEnvInt("ANSWER_SYNC_BUFFER", 64),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		KioskPort:      getEnv("KIOSK_PORT", "8090"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MaxDBConns:     int32(getEnvInt("MAX_DB_CONNS", 4)),
		RedisURL:       getEnv("REDIS_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

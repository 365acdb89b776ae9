package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	// 32-byte keys, hex or raw; see cmd/server for decoding
	EncryptionKey string
	BlindIndexKey string

	GeminiAPIKey string
	GenModel     string

	SendgridAPIKey    string
	SendgridBaseURL   string
	SendgridFromEmail string
	SendgridFromName  string

	// Conversation pacing thresholds (messages counted across both roles).
	MinCloseMessages   int
	ForceCloseMessages int
	MaxReplyTokens     int

	// Per-invocation cap for the sweep jobs.
	SweepBatchSize int
}

// LoadConfig loads the environment variables and returns config
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Port:               getEnv("PORT", "8080"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
		BlindIndexKey:      getEnv("BLIND_INDEX_KEY", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GenModel:           getEnv("GEN_MODEL", "gemini-1.5-flash"),
		SendgridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendgridBaseURL:    getEnv("SENDGRID_BASE_URL", "https://api.sendgrid.com"),
		SendgridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendgridFromName:   getEnv("SENDGRID_FROM_NAME", "Innerpath"),
		MinCloseMessages:   getEnvInt("MIN_CLOSE_MESSAGES", 6),
		ForceCloseMessages: getEnvInt("FORCE_CLOSE_MESSAGES", 8),
		MaxReplyTokens:     getEnvInt("MAX_REPLY_TOKENS", 512),
		SweepBatchSize:     getEnvInt("SWEEP_BATCH_SIZE", 25),
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

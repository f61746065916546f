package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env           string
	TelegramToken string

	ProviderBaseURL string
	ProviderAPIKey  string
	PrimaryModel    string
	FallbackModel   string

	ConfidenceHighThreshold float64
	DisagreementTolerance   float64
	ProviderTimeout         time.Duration
	MaxRetries              int
	AutoAccept              bool

	HistorianPath     string
	GaugeProfilesPath string
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{
		Env:           getEnv("APP_ENV", "development"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.groq.com/openai"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		PrimaryModel:    getEnv("PRIMARY_MODEL", "meta-llama/llama-4-scout-17b-16e-instruct"),
		FallbackModel:   getEnv("FALLBACK_MODEL", "llama-3.2-11b-vision-preview"),

		ConfidenceHighThreshold: getFloat("CONFIDENCE_HIGH_THRESHOLD", 0.8),
		DisagreementTolerance:   getFloat("DISAGREEMENT_TOLERANCE", 5.0),
		ProviderTimeout:         time.Duration(getInt("PROVIDER_TIMEOUT_MS", 30000)) * time.Millisecond,
		MaxRetries:              getInt("MAX_RETRIES", 2),
		AutoAccept:              getBool("AUTO_ACCEPT", false),

		HistorianPath:     getEnv("HISTORIAN_PATH", "historian.db"),
		GaugeProfilesPath: getEnv("GAUGE_PROFILES_PATH", "gauges.yaml"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

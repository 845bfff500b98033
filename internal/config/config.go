package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// NATS Configuration
	NatsURL        string
	RequestPrefix  string
	ResponsePrefix string
	ProviderWait   time.Duration

	// HTTP Configuration
	HTTPAddr string

	// Catalog Configuration
	CatalogPath string

	// Database Configuration
	DBPath string

	// Identity Configuration
	JWTSecret string

	// Streaming Configuration
	InactivityTimeout time.Duration
	KeepaliveInterval time.Duration
	PollInterval      time.Duration
	EventBuffer       int
	MaxWorkers        int
	MaxTokens         int

	// Credit Configuration
	OutputTokenWeight float64
	TokensPerCredit   int
	AnonDailyCredits  int
	FreeDailyCredits  int
	ProMonthlyCredits int
	AnonMaxModels     int
	FreeMaxModels     int
	ProMaxModels      int
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	return &Config{
		NatsURL:           getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		RequestPrefix:     getEnv("REQUEST_PREFIX", "inference.request"),
		ResponsePrefix:    getEnv("RESPONSE_PREFIX", "inference.reply"),
		ProviderWait:      getEnvDuration("PROVIDER_WAIT", "30s"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		CatalogPath:       getEnv("CATALOG_PATH", "data/models.yaml"),
		DBPath:            getEnv("DB_PATH", "data/compareintel.sqlite"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		InactivityTimeout: getEnvDuration("INACTIVITY_TIMEOUT", "75s"),
		KeepaliveInterval: getEnvDuration("KEEPALIVE_INTERVAL", "15s"),
		PollInterval:      getEnvDuration("POLL_INTERVAL", "250ms"),
		EventBuffer:       getEnvInt("EVENT_BUFFER", 256),
		MaxWorkers:        getEnvInt("MAX_WORKERS", 10),
		MaxTokens:         getEnvInt("MAX_TOKENS", 4096),
		OutputTokenWeight: getEnvFloat("OUTPUT_TOKEN_WEIGHT", 2.5),
		TokensPerCredit:   getEnvInt("TOKENS_PER_CREDIT", 1000),
		AnonDailyCredits:  getEnvInt("ANON_DAILY_CREDITS", 30),
		FreeDailyCredits:  getEnvInt("FREE_DAILY_CREDITS", 100),
		ProMonthlyCredits: getEnvInt("PRO_MONTHLY_CREDITS", 5000),
		AnonMaxModels:     getEnvInt("ANON_MAX_MODELS", 3),
		FreeMaxModels:     getEnvInt("FREE_MAX_MODELS", 6),
		ProMaxModels:      getEnvInt("PRO_MAX_MODELS", 10),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal string) time.Duration {
	val := getEnv(key, defaultVal)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultVal)
	return d
}

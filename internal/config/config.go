package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries all runtime settings sourced from the environment.
type Config struct {
	AppEnv   string
	LogLevel string

	TelegramToken string

	// Either a Postgres URL or a local SQLite path. When DatabaseURL is
	// empty the SQLite backend is used.
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	YandexGPTAPIKey   string
	YandexGPTFolderID string
	YandexGPTModel    string
	YandexGPTTimeout  time.Duration

	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	AdviceWindow  time.Duration
	ReportWindow  time.Duration
	AdvicePrice   int64
	InvoiceStars  int
	StatsCacheTTL time.Duration
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TelegramToken: os.Getenv("BOT_TOKEN"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "psychologist_bot.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		YandexGPTAPIKey:   os.Getenv("YANDEX_GPT_API_KEY"),
		YandexGPTFolderID: os.Getenv("YANDEX_GPT_FOLDER_ID"),
		YandexGPTModel:    getEnv("YANDEX_GPT_MODEL", "yandexgpt-lite"),

		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   os.Getenv("PUBLIC_BASE_PATH"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "moodbot"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.YandexGPTTimeout, err = getDuration("YANDEX_GPT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.AdviceWindow, err = getDuration("ADVICE_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReportWindow, err = getDuration("REPORT_WINDOW", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StatsCacheTTL, err = getDuration("STATS_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	advicePrice, err := getInt("ADVICE_PRICE", 1)
	if err != nil {
		return nil, err
	}
	cfg.AdvicePrice = int64(advicePrice)
	if cfg.InvoiceStars, err = getInt("INVOICE_STARS", 1); err != nil {
		return nil, err
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if cfg.AdvicePrice <= 0 {
		return nil, fmt.Errorf("ADVICE_PRICE must be positive, got %d", cfg.AdvicePrice)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getBool(key string, fallback bool) (bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

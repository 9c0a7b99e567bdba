package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Provider Guard
	ProviderOFFRPS       float64
	ProviderUSDARPS      float64
	ProviderTimeout      time.Duration
	CircuitFailThreshold int
	CircuitCooldown      time.Duration

	// Freshness Cache
	FoodItemTTL time.Duration

	// Feature Flags
	EnableOFF               bool
	EnableUSDA              bool
	InternalOnly            bool
	CacheOnlyOnProviderDown bool

	// Open Food Facts
	OFFBaseURL   string
	OFFUserAgent string

	// USDA FoodData Central
	USDABaseURL string
	USDAAPIKey  string

	// Rate Limit (HTTPレイヤー、IP単位)
	RateLimitPerMin int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ProviderOFFRPS = getEnvFloat("PROVIDER_OFF_RPS", 4)
	cfg.ProviderUSDARPS = getEnvFloat("PROVIDER_USDA_RPS", 2)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 6*time.Second)
	cfg.CircuitFailThreshold = getEnvInt("PROVIDER_CIRCUIT_FAILS", 3)
	cfg.CircuitCooldown = getEnvDuration("PROVIDER_CIRCUIT_COOLDOWN", 30*time.Second)
	cfg.FoodItemTTL = getEnvDuration("FOOD_ITEM_TTL", 168*time.Hour)
	cfg.EnableOFF = getEnvBool("FOOD_CATALOG_ENABLE_OFF", true)
	cfg.EnableUSDA = getEnvBool("FOOD_CATALOG_ENABLE_USDA", true)
	cfg.InternalOnly = getEnvBool("FOOD_CATALOG_INTERNAL_ONLY", false)
	cfg.CacheOnlyOnProviderDown = getEnvBool("FOOD_CATALOG_CACHE_ONLY_ON_PROVIDER_DOWN", true)
	cfg.OFFBaseURL = getEnvString("OFF_BASE_URL", "https://world.openfoodfacts.org")
	cfg.OFFUserAgent = getEnvString("OFF_USER_AGENT", "Nutriman/1.0 Nutrition Tracker")
	cfg.USDABaseURL = getEnvString("USDA_BASE_URL", "https://api.nal.usda.gov/fdc/v1")
	cfg.USDAAPIKey = getEnvString("USDA_API_KEY", "")
	cfg.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MIN", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds environment-driven configuration for the storefront service
// and the development commerce backend.
type Config struct {
	Addr        string
	CommerceAPI string
	APIAddr     string
	Timeout     time.Duration

	JWTSecret string
	AppEnv    string
	LogLevel  string
	LogFormat string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string

	SelectionTTL    time.Duration
	ReloadMarkerTTL time.Duration
	SubmitMinDelay  time.Duration

	RedirectPaymentMethods []string
	PricingRulesPath       string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Addr:        getString("STOREFRONT_ADDR", ":8080"),
		CommerceAPI: strings.TrimSuffix(getString("COMMERCE_BASE_URL", "http://localhost:8081"), "/"),
		APIAddr:     getString("COMMERCE_API_ADDR", ":8081"),
		Timeout:     getDuration("COMMERCE_TIMEOUT", 15*time.Second),

		JWTSecret: os.Getenv("JWT_SECRET"),
		AppEnv:    getString("APP_ENV", "development"),
		LogLevel:  os.Getenv("LOG_LEVEL"),
		LogFormat: os.Getenv("LOG_FORMAT"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		SelectionTTL:    getDuration("SELECTION_TTL", 30*time.Minute),
		ReloadMarkerTTL: getDuration("RELOAD_MARKER_TTL", 10*time.Second),
		SubmitMinDelay:  getDuration("SUBMIT_MIN_DELAY", 0),

		RedirectPaymentMethods: getList("REDIRECT_PAYMENT_METHODS", []string{"vnpay", "momo"}),
		PricingRulesPath:       os.Getenv("PRICING_RULES_PATH"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func getList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

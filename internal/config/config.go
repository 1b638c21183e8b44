package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	Env                   string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	CatalogCacheTTL       time.Duration
	ReturnWindowDays      int
	TxMaxAttempts         int
	OfflinePollInterval   time.Duration
	InvoicePrefix         string
	StoreName             string
}

// Load reads configuration from the environment. A .env file in the
// working directory, when present, fills variables that are not already
// set.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("APP_ENV", "production"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		CatalogCacheTTL:       time.Duration(positiveInt("CATALOG_CACHE_TTL_SECONDS", 300)) * time.Second,
		ReturnWindowDays:      positiveInt("RETURN_WINDOW_DAYS", 7),
		TxMaxAttempts:         positiveInt("TX_MAX_ATTEMPTS", 5),
		OfflinePollInterval:   positiveDuration("OFFLINE_POLL_INTERVAL", 15*time.Second),
		InvoicePrefix:         strings.ToUpper(strings.TrimSpace(os.Getenv("INVOICE_PREFIX"))),
		StoreName:             strings.TrimSpace(os.Getenv("STORE_NAME")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func positiveDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	AllowDirectServe bool

	RateLimitPerMinute     int
	RateLimitBurst         int
	ShopRateLimitPerMinute int
	ShopRateLimitBurst     int

	NotifierInterval    time.Duration
	NotifierBatchSize   int
	NotifierMaxAttempts int
	SMSProvider         string
	PushProvider        string
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		AllowDirectServe: readBool("ALLOW_DIRECT_SERVE", false),

		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		ShopRateLimitPerMinute: readInt("SHOP_RATE_LIMIT_PER_MIN", 600),
		ShopRateLimitBurst:     readInt("SHOP_RATE_LIMIT_BURST", 120),

		NotifierInterval:    readDurationSeconds("NOTIFIER_POLL_INTERVAL_SECONDS", 5),
		NotifierBatchSize:   readInt("NOTIFIER_BATCH_SIZE", 50),
		NotifierMaxAttempts: readInt("NOTIFIER_MAX_ATTEMPTS", 3),
		SMSProvider:         os.Getenv("NOTIFIER_SMS_PROVIDER"),
		PushProvider:        os.Getenv("NOTIFIER_PUSH_PROVIDER"),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

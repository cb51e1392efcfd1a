package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all app configuration, loaded from the environment.
type Config struct {
	// Server
	HTTPPort string
	GinMode  string

	// Postgres
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Watcher
	TickSeconds        int
	TargetRPS          float64
	PaceFloorMs        int
	JitterMinMs        int
	JitterMaxMs        int
	CooldownMinMinutes int
	CooldownMaxMinutes int

	// Scraper
	ScraperMode      string // mock|http
	ScraperUserAgent string
	FetchTimeoutSecs int

	// Kafka (optional; empty brokers disables publishing)
	KafkaBrokers []string
	KafkaTopic   string

	// Redis (optional; empty addr disables the listing cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Alarm email (optional; empty host falls back to log notifier)
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	AlarmEmailTo string

	// Maintenance
	BackfillImages bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		HTTPPort: getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", ""),

		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBName:     getEnv("DB_NAME", "pricetracker"),

		TickSeconds:        getEnvAsInt("TICK_SECONDS", 60),
		TargetRPS:          getEnvAsFloat("TARGET_RPS", 0.5),
		PaceFloorMs:        getEnvAsInt("PACE_FLOOR_MS", 200),
		JitterMinMs:        getEnvAsInt("JITTER_MIN_MS", 80),
		JitterMaxMs:        getEnvAsInt("JITTER_MAX_MS", 420),
		CooldownMinMinutes: getEnvAsInt("COOLDOWN_MIN_MINUTES", 10),
		CooldownMaxMinutes: getEnvAsInt("COOLDOWN_MAX_MINUTES", 30),

		ScraperMode:      getEnv("SCRAPER_MODE", "mock"),
		ScraperUserAgent: getEnv("SCRAPER_USER_AGENT", "pricetracker/1.0"),
		FetchTimeoutSecs: getEnvAsInt("FETCH_TIMEOUT_SECONDS", 20),

		KafkaBrokers: getEnvAsSlice("KAFKA_BROKERS", nil, ","),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "price-changes"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPass:     getEnv("SMTP_PASS", ""),
		AlarmEmailTo: getEnv("ALARM_EMAIL_TO", ""),

		BackfillImages: getEnvAsBool("BACKFILL_IMAGES", false),
	}
}

// DSN builds a URL-encoded Postgres DSN from the DB fields.
func (c *Config) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := getEnv(key, "")
	if val, err := strconv.ParseBool(valStr); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultVal
	}
	parts := strings.Split(valStr, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

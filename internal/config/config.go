package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	JWTSecret           string
	JWTAccessTTLMinutes int
	JWTRefreshTTLDays   int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionIdleTTLMinutes int

	OTLPEndpoint       string
	CORSAllowedOrigins []string

	// seeded on startup when both are set
	AdminEmail    string
	AdminPassword string
	AdminName     string

	WorkerPollMS       int
	WorkerConcurrency  int
	WorkerHealthPort   int
	WorkerLockTTLSecs  int
	WorkerShutdownSecs int

	NotifierDelayMS int
	NotifierFail    bool
}

func Load() Config {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	return Config{
		Env:   getEnv("APP_ENV", "dev"),
		Port:  getEnvInt("PORT", 8080),
		DBURL: buildDBURL(),

		JWTSecret:           getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 15),
		JWTRefreshTTLDays:   getEnvInt("JWT_REFRESH_TTL_DAYS", 7),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SessionIdleTTLMinutes: getEnvInt("SESSION_IDLE_TTL_MINUTES", 30),

		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		AdminName:     getEnv("ADMIN_NAME", "Admin"),

		WorkerPollMS:       getEnvInt("WORKER_POLL_MS", 500),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerHealthPort:   getEnvInt("WORKER_HEALTH_PORT", 8081),
		WorkerLockTTLSecs:  getEnvInt("WORKER_LOCK_TTL_SECONDS", 60),
		WorkerShutdownSecs: getEnvInt("WORKER_SHUTDOWN_GRACE_SECONDS", 10),

		NotifierDelayMS: getEnvInt("NOTIFIER_SLEEP_MS", 0),
		NotifierFail:    getEnv("NOTIFIER_FAIL", "") == "1",
	}
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWTRefreshTTLDays) * 24 * time.Hour
}

func (c Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLMinutes) * time.Minute
}

func (c Config) IsProd() bool {
	return c.Env == "prod"
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "campusportal")
	pass := getEnv("DB_PASSWORD", "campusportal")
	name := getEnv("DB_NAME", "campusportal")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			slog.Warn("invalid integer env var, using fallback", "key", key, "value", v, "fallback", fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

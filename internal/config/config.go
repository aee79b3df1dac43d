package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	LogLevel              string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// RedisURL 为空时 token 吊销记录落在 Postgres。
	RedisURL string
	// KafkaBrokers 为空时不启用通知 sink。
	KafkaBrokers           []string
	KafkaNotificationTopic string

	WSSendBuffer        int
	WSMessagesPerSecond int
	ShutdownTimeout     time.Duration

	// CORSAllowedOrigins 只在非 dev 环境生效，dev 放行所有来源。
	CORSAllowedOrigins []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正值回退到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load 读取环境变量（可选从 .env 预加载），未设置的项使用开发默认值。
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:                   getenv("APP_PORT", "8080"),
		DatabaseDSN:            getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=codecrew port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:              getenv("JWT_SECRET", defaultJWTSecret),
		Env:                    getenv("APP_ENV", "dev"),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		AccessTokenTTLMinutes:  getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:    getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		RedisURL:               getenv("REDIS_URL", ""),
		KafkaBrokers:           splitList(getenv("KAFKA_BROKERS", "")),
		KafkaNotificationTopic: getenv("KAFKA_NOTIFICATION_TOPIC", "notifications"),
		WSSendBuffer:           getenvInt("WS_SEND_BUFFER", 256),
		WSMessagesPerSecond:    getenvInt("WS_MESSAGES_PER_SECOND", 5),
		ShutdownTimeout:        getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		CORSAllowedOrigins:     splitList(getenv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// Validate 拒绝缺失的关键配置，以及非 dev 环境下的默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	return nil
}

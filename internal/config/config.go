package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（未設定の場合は配信ロックをプロセス内で行う）
	RedisURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge int

	// Cron
	CronSecret      string
	CronSchedule    string
	DefaultTimezone string
	RunLockTTL      time.Duration

	// Content generation
	ContentGeneratorURL string
	LLMBaseURL          string
	LLMAPIKey           string
	LLMModel            string
	DevotionalFeedURL   string

	// External calls
	ExternalCallTimeout     time.Duration
	ExternalCallMaxAttempts int

	// SMS
	SMSProvider   string
	SMSChunkDelay time.Duration
	AWSRegion     string
	SNSEndpoint   string

	// Email
	ResendAPIKey string
	EmailFrom    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	// Retention
	DeliveryRetentionDays int

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 未設定の必須変数と解釈できない値はまとめて1つのエラーで返す。
func Load() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		DatabaseURL:        env.required("DATABASE_URL"),
		BaseURL:            env.required("BASE_URL"),
		CronSecret:         env.required("CRON_SECRET"),
		GoogleClientID:     env.required("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: env.required("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  env.required("GOOGLE_REDIRECT_URL"),

		RedisURL:      env.str("REDIS_URL", ""),
		SessionMaxAge: env.int("SESSION_MAX_AGE", 86400),

		CronSchedule:    env.str("CRON_SCHEDULE", "0 * * * *"),
		DefaultTimezone: env.str("DEFAULT_TIMEZONE", "UTC"),
		RunLockTTL:      env.duration("RUN_LOCK_TTL", 55*time.Minute),

		ContentGeneratorURL: env.str("CONTENT_GENERATOR_URL", ""),
		LLMBaseURL:          env.str("LLM_BASE_URL", ""),
		LLMAPIKey:           env.str("LLM_API_KEY", ""),
		LLMModel:            env.str("LLM_MODEL", "llama3.1"),
		DevotionalFeedURL:   env.str("DEVOTIONAL_FEED_URL", ""),

		ExternalCallTimeout:     env.duration("EXTERNAL_CALL_TIMEOUT", 30*time.Second),
		ExternalCallMaxAttempts: env.int("EXTERNAL_CALL_MAX_ATTEMPTS", 3),

		SMSProvider:   strings.ToLower(env.str("SMS_PROVIDER", "log")),
		SMSChunkDelay: env.duration("SMS_CHUNK_DELAY", time.Second),
		AWSRegion:     env.str("AWS_REGION", "us-east-1"),
		SNSEndpoint:   env.str("SNS_ENDPOINT", ""),

		ResendAPIKey: env.str("RESEND_API_KEY", ""),
		EmailFrom:    env.str("EMAIL_FROM", "devotion@localhost"),
		SMTPHost:     env.str("SMTP_HOST", ""),
		SMTPPort:     env.int("SMTP_PORT", 587),
		SMTPUsername: env.str("SMTP_USERNAME", ""),
		SMTPPassword: env.str("SMTP_PASSWORD", ""),

		DeliveryRetentionDays: env.int("DELIVERY_RETENTION_DAYS", 90),
		RateLimitGeneral:      env.int("RATE_LIMIT_GENERAL", 120),
		LogLevel:              env.str("LOG_LEVEL", "info"),
		ServerPort:            env.str("SERVER_PORT", "8080"),
		CookieDomain:          env.str("COOKIE_DOMAIN", ""),
		CORSAllowedOrigin:     env.str("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := env.err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は値同士や値の範囲の整合性を確かめる。
func (c *Config) validate() error {
	var errs []error
	if !slices.Contains([]string{"sns", "log"}, c.SMSProvider) {
		errs = append(errs, fmt.Errorf("unsupported SMS_PROVIDER: %q (allowed: sns, log)", c.SMSProvider))
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err))
	}
	if c.ExternalCallMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("EXTERNAL_CALL_MAX_ATTEMPTS must be at least 1, got %d", c.ExternalCallMaxAttempts))
	}
	if c.DeliveryRetentionDays < 1 {
		errs = append(errs, fmt.Errorf("DELIVERY_RETENTION_DAYS must be at least 1, got %d", c.DeliveryRetentionDays))
	}
	if c.RunLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("RUN_LOCK_TTL must be positive, got %s", c.RunLockTTL))
	}
	return errors.Join(errs...)
}

// envReader は環境変数を読みながら、未設定の必須変数と解釈できない値を記録する。
type envReader struct {
	missing []string
	invalid []error
}

func (e *envReader) required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		e.missing = append(e.missing, key)
	}
	return v
}

func (e *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.invalid = append(e.invalid, fmt.Errorf("%s: not an integer: %q", key, v))
		return def
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid = append(e.invalid, fmt.Errorf("%s: not a duration: %q", key, v))
		return def
	}
	return d
}

func (e *envReader) err() error {
	var errs []error
	if len(e.missing) > 0 {
		errs = append(errs, fmt.Errorf("required environment variables are not set: %v", e.missing))
	}
	return errors.Join(append(errs, e.invalid...)...)
}

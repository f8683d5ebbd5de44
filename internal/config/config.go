package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Redis
	RedisURL      string
	QueueEnabled  bool
	QueueName     string
	AllowDegraded bool

	// Matching
	MatchTimeout        time.Duration
	MaxRequeues         int
	RelaxStrategy       string
	RequireConfirmation bool
	ConfirmTimeout      time.Duration
	CancelOnDisconnect  bool

	// Queue bridge
	QueueMaxSize         int // 0 = 무제한
	QueuePollInterval    time.Duration
	QueueMaxRetries      int
	QueueStaleTimeout    time.Duration
	QueuePromoteInterval time.Duration
	QueueDedupeTTL       time.Duration
	PublishRetries       int

	// CORS
	CORSAllowedOrigins []string

	// Rate limit (요청자별 분당 제출 수)
	RateLimitPerMinute int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("QUEUE_ENABLED", true)
	v.SetDefault("QUEUE_NAME", "matching")
	v.SetDefault("ALLOW_DEGRADED", true)

	v.SetDefault("MATCH_TIMEOUT", "30s")
	v.SetDefault("MAX_REQUEUES", 0)
	v.SetDefault("RELAX_STRATEGY", "fixed")
	v.SetDefault("REQUIRE_CONFIRMATION", false)
	v.SetDefault("CONFIRM_TIMEOUT", "15s")
	v.SetDefault("CANCEL_ON_DISCONNECT", true)

	v.SetDefault("QUEUE_MAX_SIZE", 0)
	v.SetDefault("QUEUE_POLL_INTERVAL", "200ms")
	v.SetDefault("QUEUE_MAX_RETRIES", 5)
	v.SetDefault("QUEUE_STALE_TIMEOUT", "30s")
	v.SetDefault("QUEUE_PROMOTE_INTERVAL", "250ms")
	v.SetDefault("QUEUE_DEDUPE_TTL", "10m")
	v.SetDefault("PUBLISH_RETRIES", 3)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:     v.GetString("PORT"),
		Env:      v.GetString("ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),

		RedisURL:      v.GetString("REDIS_URL"),
		QueueEnabled:  v.GetBool("QUEUE_ENABLED"),
		QueueName:     v.GetString("QUEUE_NAME"),
		AllowDegraded: v.GetBool("ALLOW_DEGRADED"),

		MatchTimeout:        v.GetDuration("MATCH_TIMEOUT"),
		MaxRequeues:         v.GetInt("MAX_REQUEUES"),
		RelaxStrategy:       strings.ToLower(v.GetString("RELAX_STRATEGY")),
		RequireConfirmation: v.GetBool("REQUIRE_CONFIRMATION"),
		ConfirmTimeout:      v.GetDuration("CONFIRM_TIMEOUT"),
		CancelOnDisconnect:  v.GetBool("CANCEL_ON_DISCONNECT"),

		QueueMaxSize:         v.GetInt("QUEUE_MAX_SIZE"),
		QueuePollInterval:    v.GetDuration("QUEUE_POLL_INTERVAL"),
		QueueMaxRetries:      v.GetInt("QUEUE_MAX_RETRIES"),
		QueueStaleTimeout:    v.GetDuration("QUEUE_STALE_TIMEOUT"),
		QueuePromoteInterval: v.GetDuration("QUEUE_PROMOTE_INTERVAL"),
		QueueDedupeTTL:       v.GetDuration("QUEUE_DEDUPE_TTL"),
		PublishRetries:       v.GetInt("PUBLISH_RETRIES"),

		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 설정값 검사
func (c *Config) Validate() error {
	if c.MatchTimeout <= 0 {
		return fmt.Errorf("MATCH_TIMEOUT must be positive, got %s", c.MatchTimeout)
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be positive, got %s", c.ConfirmTimeout)
	}
	if c.MaxRequeues < 0 {
		return fmt.Errorf("MAX_REQUEUES must not be negative, got %d", c.MaxRequeues)
	}
	switch c.RelaxStrategy {
	case "fixed", "difficulty":
	default:
		return fmt.Errorf("unknown RELAX_STRATEGY %q", c.RelaxStrategy)
	}
	if c.QueueMaxSize < 0 {
		return fmt.Errorf("QUEUE_MAX_SIZE must not be negative, got %d", c.QueueMaxSize)
	}
	if c.QueuePollInterval <= 0 || c.QueuePromoteInterval <= 0 {
		return fmt.Errorf("queue intervals must be positive")
	}
	return nil
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

package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	ContentBaseURL string
	ContentAPIKey  string

	GatewayWSURL string

	TierCatalogDir string

	ConfirmWindow  time.Duration
	QuestionWindow time.Duration
	BattleWindow   time.Duration

	QuestionCount  int
	ContentRetries int

	EgressQueueSize int
}

func Load() (*AppConfig, error) {
	// optional .env for local runs; real deployments set env directly
	_ = godotenv.Load()

	cfg := &AppConfig{
		ConfirmWindow:   30 * time.Second,
		QuestionWindow:  30 * time.Second,
		BattleWindow:    240 * time.Second,
		QuestionCount:   8,
		ContentRetries:  3,
		EgressQueueSize: 1024,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.ContentBaseURL = strings.TrimSpace(os.Getenv("CONTENT_BASE_URL"))
	cfg.ContentAPIKey = strings.TrimSpace(os.Getenv("CONTENT_API_KEY"))

	cfg.GatewayWSURL = strings.TrimSpace(os.Getenv("GATEWAY_WS_URL"))
	cfg.TierCatalogDir = strings.TrimSpace(os.Getenv("TIER_CATALOG_DIR"))

	if v := strings.TrimSpace(os.Getenv("CONFIRM_WINDOW")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ConfirmWindow = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("QUESTION_WINDOW")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.QuestionWindow = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("BATTLE_WINDOW")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.BattleWindow = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("QUESTION_COUNT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QuestionCount = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONTENT_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ContentRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EGRESS_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EgressQueueSize = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BattleWindow < cfg.QuestionWindow {
		return nil, errors.New("BATTLE_WINDOW must not be shorter than QUESTION_WINDOW")
	}

	return cfg, nil
}

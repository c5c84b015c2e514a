package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the scoring gateway service.
type Config struct {
	ListenAddress     string
	NodeURL           string
	NodeAuthToken     string
	AdminAddress      string
	DatabasePath      string
	JWTSecret         string
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiModel       string
	RequestsPerMinute float64
	RequestBurst      int
	NodeTimeout       time.Duration
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:     getenvDefault("SCORING_GATEWAY_LISTEN", ":8090"),
		NodeURL:           os.Getenv("SCORING_GATEWAY_NODE_URL"),
		NodeAuthToken:     os.Getenv("SCORING_GATEWAY_NODE_TOKEN"),
		AdminAddress:      strings.TrimSpace(os.Getenv("SCORING_GATEWAY_ADMIN_ADDRESS")),
		DatabasePath:      getenvDefault("SCORING_GATEWAY_DB_PATH", "scoring-gateway.db"),
		JWTSecret:         os.Getenv("SCORING_GATEWAY_JWT_SECRET"),
		GeminiAPIKey:      os.Getenv("SCORING_GATEWAY_GEMINI_API_KEY"),
		GeminiBaseURL:     getenvDefault("SCORING_GATEWAY_GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiModel:       getenvDefault("SCORING_GATEWAY_GEMINI_MODEL", "gemini-1.5-flash"),
		RequestsPerMinute: 120,
		RequestBurst:      20,
		NodeTimeout:       15 * time.Second,
	}

	if raw := strings.TrimSpace(os.Getenv("SCORING_GATEWAY_RATE_PER_MINUTE")); raw != "" {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse SCORING_GATEWAY_RATE_PER_MINUTE: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("SCORING_GATEWAY_RATE_PER_MINUTE must be positive")
		}
		cfg.RequestsPerMinute = val
	}
	if raw := strings.TrimSpace(os.Getenv("SCORING_GATEWAY_RATE_BURST")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SCORING_GATEWAY_RATE_BURST: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("SCORING_GATEWAY_RATE_BURST must be positive")
		}
		cfg.RequestBurst = val
	}
	if raw := strings.TrimSpace(os.Getenv("SCORING_GATEWAY_NODE_TIMEOUT")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SCORING_GATEWAY_NODE_TIMEOUT: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("SCORING_GATEWAY_NODE_TIMEOUT must be positive")
		}
		cfg.NodeTimeout = dur
	}

	if strings.TrimSpace(cfg.NodeURL) == "" {
		return Config{}, errors.New("SCORING_GATEWAY_NODE_URL is required")
	}
	if cfg.AdminAddress == "" {
		return Config{}, errors.New("SCORING_GATEWAY_ADMIN_ADDRESS is required")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, errors.New("SCORING_GATEWAY_JWT_SECRET is required")
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"meritchain/observability/logging"
)

func main() {
	logging.Setup("scoring-gateway", os.Getenv("MERIT_ENV"))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}

	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		slog.Error("open sqlite store", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()

	node := NewRPCNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	auth := NewAuthenticator(cfg.JWTSecret)
	limits := NewRateLimiter(cfg.RequestsPerMinute, cfg.RequestBurst)

	var scorer MeritScorer
	if gemini := NewGeminiScorer(cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GeminiAPIKey); gemini != nil {
		scorer = gemini
		slog.Info("AI scoring enabled", "model", cfg.GeminiModel)
	} else {
		slog.Info("AI scoring disabled, deterministic fallback only")
	}

	server := NewServer(cfg, auth, limits, node, scorer, store, slog.Default())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("scoring gateway listening", "address", cfg.ListenAddress, "node", cfg.NodeURL)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}

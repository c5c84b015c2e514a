package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meritchain/config"
	"meritchain/core"
	"meritchain/observability/logging"
	"meritchain/rpc"
	"meritchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MERIT_ENV"))
	logger := logging.Setup("meritd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	admin, err := cfg.AdminAddressBytes()
	if err != nil {
		logger.Error("Invalid admin address in config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db, admin)
	if cfg.EventLogSize > 0 {
		node.SetEventLogSize(cfg.EventLogSize)
	}

	logger.Info("node initialised",
		"network", cfg.NetworkName,
		"admin", cfg.AdminAddress,
		"dataDir", cfg.DataDir,
	)

	if strings.TrimSpace(cfg.MetricsAddress) != "" {
		go serveMetrics(cfg.MetricsAddress, logger)
	}

	server := rpc.NewServer(node, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", slog.Any("error", err))
	}
}

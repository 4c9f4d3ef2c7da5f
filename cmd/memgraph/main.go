package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-memgraph/internal/api"
	"github.com/nidhogg/nuka-memgraph/internal/app"
	"github.com/nidhogg/nuka-memgraph/internal/config"
	"github.com/nidhogg/nuka-memgraph/internal/graph"
	"github.com/nidhogg/nuka-memgraph/internal/importance"
	"github.com/nidhogg/nuka-memgraph/internal/metrics"
	"github.com/nidhogg/nuka-memgraph/internal/search"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/memgraph.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting memgraph...", zap.String("config", cfgPath))

	ctx := context.Background()
	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open backends", zap.Error(err))
	}

	m := metrics.NewMetrics()

	engine := graph.NewEngine(backends.Store, cfg.Graph, logger)
	engine.SetMetrics(m)

	scorer := importance.NewService(backends.Store, backends.Store, logger)

	ranker := search.NewRanker(scorer, cfg.Search, logger)
	ranker.SetMetrics(m)

	job, err := backends.DetectionJob(cfg.Detection, m)
	if err != nil {
		logger.Fatal("invalid detection config", zap.Error(err))
	}

	deps := api.Deps{
		Ranker:        ranker,
		Graph:         engine,
		Relationships: backends.Store,
		Importance:    scorer,
		Detector:      job,
		Metrics:       promhttp.Handler(),
	}
	if backends.Semantic != nil {
		deps.Semantic = backends.Semantic
	}
	handler := api.NewHandler(deps, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("memgraph listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down memgraph...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	backends.Close(shutdownCtx)
}

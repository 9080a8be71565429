package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/health-ledger/config"
	"github.com/jwalitptl/health-ledger/internal/bootstrap"
	"github.com/jwalitptl/health-ledger/internal/handler"
	"github.com/jwalitptl/health-ledger/internal/ledger"
	"github.com/jwalitptl/health-ledger/pkg/logger"
	"github.com/jwalitptl/health-ledger/pkg/metrics"
	"github.com/jwalitptl/health-ledger/pkg/worker"
)

// The worker relays audit events from a shared Postgres journal so the API
// can run with relay.embedded disabled.
func main() {
	configFile := flag.String("config", "", "path to config file")
	healthAddr := flag.String("health-addr", ":8081", "listen address for health and metrics")
	from := flag.Uint64("from", 0, "first journal position to publish")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	}).WithFields(map[string]interface{}{"component": "relay_worker"})

	if cfg.Ledger.Backend != "postgres" {
		appLogger.Fatal(errors.New("unsupported backend"), "the relay worker needs the postgres journal", "backend", cfg.Ledger.Backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, err := bootstrap.OpenJournal(ctx, cfg)
	if err != nil {
		appLogger.Fatal(err, "failed to open journal")
	}
	defer journal.Close()

	broker, err := bootstrap.NewBroker(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to broker", "kind", cfg.Broker.Kind)
	}
	if broker == nil {
		appLogger.Fatal(errors.New("no broker configured"), "broker.kind must be redis or rabbitmq")
	}
	defer broker.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("health_ledger", "worker", reg)

	relay, err := worker.NewEventRelay(journal, broker, bootstrap.RelayConfig(cfg, *from), appLogger, m)
	if err != nil {
		appLogger.Fatal(err, "failed to create event relay")
	}

	setupHealthCheck(*healthAddr, reg, journal, appLogger)

	relay.Start(ctx)
	appLogger.Info("Worker exited", "cursor", relay.Cursor())
}

func setupHealthCheck(addr string, reg *prometheus.Registry, journal ledger.Journal, appLogger *logger.Logger) {
	h := handler.NewHandler(reg, map[string]handler.ReadinessCheck{
		"journal": bootstrap.JournalCheck(journal),
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health/live", h.LivenessCheck)
	engine.GET("/health/ready", h.ReadinessCheck)
	engine.GET("/metrics", h.MetricsHandler)

	go func() {
		if err := http.ListenAndServe(addr, engine); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
}

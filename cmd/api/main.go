package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/health-ledger/config"
	"github.com/jwalitptl/health-ledger/internal/bootstrap"
	"github.com/jwalitptl/health-ledger/internal/email"
	"github.com/jwalitptl/health-ledger/internal/handler"
	ledgerHandler "github.com/jwalitptl/health-ledger/internal/handler/ledger"
	"github.com/jwalitptl/health-ledger/internal/ledger"
	"github.com/jwalitptl/health-ledger/internal/middleware"
	"github.com/jwalitptl/health-ledger/internal/model"
	"github.com/jwalitptl/health-ledger/internal/router"
	"github.com/jwalitptl/health-ledger/internal/service/notification"
	"github.com/jwalitptl/health-ledger/pkg/auth"
	"github.com/jwalitptl/health-ledger/pkg/logger"
	"github.com/jwalitptl/health-ledger/pkg/metrics"
	"github.com/jwalitptl/health-ledger/pkg/worker"
)

const metricsPrefix = "health_ledger"

func main() {
	configFile := flag.String("config", "", "path to config file")
	issueToken := flag.String("issue-token", "", "print a signed access token for this principal and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})

	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)
	if *issueToken != "" {
		token, err := jwtSvc.GenerateToken(*issueToken, cfg.JWT.TokenTTL())
		if err != nil {
			appLogger.Fatal(err, "failed to issue token")
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(metricsPrefix, "", prometheus.DefaultRegisterer)

	// Journal and controller
	journal, err := bootstrap.OpenJournal(ctx, cfg)
	if err != nil {
		appLogger.Fatal(err, "failed to open journal", "backend", cfg.Ledger.Backend)
	}
	defer journal.Close()

	ctrl, err := ledger.NewController(ctx, journal, model.Principal(cfg.Ledger.Admin),
		ledger.WithLogger(appLogger),
		ledger.WithMetrics(m),
	)
	if err != nil {
		appLogger.Fatal(err, "failed to load ledger")
	}

	// Audit event relay
	broker, err := bootstrap.NewBroker(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to broker", "kind", cfg.Broker.Kind)
	}
	if broker != nil {
		defer broker.Close()
		if cfg.Relay.Embedded {
			relay, err := worker.NewEventRelay(journal, broker, bootstrap.RelayConfig(cfg, 0), appLogger, m)
			if err != nil {
				appLogger.Fatal(err, "failed to create event relay")
			}
			go relay.Start(ctx)
		}
	}

	if cfg.Notify.Enabled {
		mailer := email.NewSMTPService(email.SMTPConfig{
			Host:     cfg.Notify.Host,
			Port:     cfg.Notify.Port,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			From:     cfg.Notify.From,
		})
		notifier := notification.NewService(ctrl, mailer, appLogger)
		go notifier.Run(ctx, ctrl.AuditLog(), ctrl.Height())
	}

	// HTTP
	gin.SetMode(cfg.Server.Mode)

	h := handler.NewHandler(prometheus.DefaultGatherer, map[string]handler.ReadinessCheck{
		"journal": bootstrap.JournalCheck(journal),
	})
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc, 5*time.Minute)

	r := router.NewRouter(authMiddleware, ledgerHandler.NewHandler(ctrl), h, router.RouterConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:        cfg.RateLimit.Burst,
		RequestTimeout:   cfg.Server.RequestTimeout,
		MaxBodySize:      cfg.Server.MaxBodyBytes,
		CORSOrigins:      cfg.Server.CORSOrigins,
		MetricsPrefix:    metricsPrefix,
		Registerer:       prometheus.DefaultRegisterer,
		Logger:           appLogger,
	})

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "backend", cfg.Ledger.Backend, "height", ctrl.Height())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

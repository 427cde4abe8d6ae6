package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fx-ledger/internal/api"
	"fx-ledger/internal/events"
	"fx-ledger/internal/ledger"
	"fx-ledger/internal/monitor"
	"fx-ledger/pkg/i18n"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and event forwarding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	cfg := a.cfg
	logger.Info(i18n.Get("Starting"))
	logger.Info(fmt.Sprintf(i18n.Get("ConfigLoaded"), cfg.Port, cfg.Owner))

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promCollectors := monitor.NewCollectors(reg)

	engine, err := ledger.New(ledger.Config{
		Store:            store,
		Bus:              bus,
		Metrics:          metrics,
		Collectors:       promCollectors,
		Logger:           logger.Named("ledger"),
		Owner:            cfg.Owner,
		OrderPrefix:      cfg.OrderPrefix,
		OrderDigits:      cfg.OrderDigits,
		MatchPolicy:      ledger.MatchPolicy(cfg.MatchPolicy),
		CancelPolicy:     ledger.CancelPolicy(cfg.CancelPolicy),
		CompletionPolicy: ledger.CompletionPolicy(cfg.CompletionPolicy),
	})
	if err != nil {
		return err
	}
	reports, err := a.newAggregator(store, metrics)
	if err != nil {
		return err
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger.Named("kafka"))
		defer sink.Close()
		sink.Run(ctx, bus)
		logger.Info(fmt.Sprintf(i18n.Get("KafkaEnabled"), cfg.KafkaTopic))
	} else {
		logger.Info(i18n.Get("KafkaDisabled"))
	}

	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Logger: logger.Named("alerts")}, Logger: logger}
	mon.Start(ctx)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(api.Deps{
		Ledger:     engine,
		Reports:    reports,
		Bus:        bus,
		Metrics:    metrics,
		Collectors: promCollectors,
		Gatherer:   reg,
		Logger:     logger.Named("api"),
	}, api.Options{
		RateLimit: rate.Limit(cfg.RateLimitRPS),
		RateBurst: cfg.RateLimitBurst,
	})
	httpServer := server.HTTPServer(":" + cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf(i18n.Get("ServerListening"), cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error(fmt.Sprintf(i18n.Get("APIServerError"), err))
			return err
		}
	}

	logger.Info(i18n.Get("ShuttingDown"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info(i18n.Get("ShutdownComplete"))
	return nil
}

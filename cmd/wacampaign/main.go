package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wacampaign/internal/config"
	"wacampaign/internal/constants"
	"wacampaign/internal/crm"
	"wacampaign/internal/database"
	"wacampaign/internal/retry"
	"wacampaign/internal/service"
	"wacampaign/internal/tracing"
	"wacampaign/pkg/circuitbreaker"
	"wacampaign/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := run(*configPath, logger); err != nil {
		logger.WithError(err).Fatal("Service failed")
	}
}

func run(configPath string, logger *logrus.Logger) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := tracing.NewManager(cfg.Tracing, logger)
	if err := tracer.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to shut down tracing")
		}
	}()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}()

	clock := service.NewSystemClock()
	channel := whatsapp.NewClient(cfg.Channel.APIBaseURL, cfg.Channel.APIKey,
		time.Duration(cfg.Channel.TimeoutSec)*time.Second)
	leads := crm.NewClient(cfg.CRM.APIBaseURL, cfg.CRM.APIKey,
		time.Duration(cfg.CRM.TimeoutSec)*time.Second)
	breaker := circuitbreaker.New("whatsapp", constants.DefaultBreakerMaxFailures,
		constants.DefaultBreakerCooldownSec*time.Second, logger)

	dispatcher := service.NewDispatcher(db, whatsapp.NewSender(channel), breaker, clock, service.DispatcherOptions{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Backoff: retry.BackoffConfig{
			InitialDelay: time.Duration(cfg.Dispatch.RetryBackoffBaseSec) * time.Second,
			MaxDelay:     time.Duration(cfg.Dispatch.RetryBackoffMaxSec) * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  cfg.Dispatch.MaxAttempts,
			Jitter:       true,
		},
	}, logger)

	governor := service.NewGovernor(logger)
	resolver := service.NewResolver(leads, cfg.DefaultCountryCode, logger)
	tracker := service.NewTracker(db, logger)
	broadcasts := service.NewBroadcastService(db, resolver, governor, dispatcher, clock, logger)
	sequences := service.NewSequenceService(db, leads, governor, dispatcher, clock,
		cfg.Rate.SequenceMessagesPerMinute, cfg.DefaultCountryCode, logger)

	dispatcher.SetEventHandler(tracker)
	tracker.SetOriginSettledFunc(broadcasts.HandleOriginSettled)

	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	defer broadcasts.Stop()

	scheduler := service.NewScheduler(sequences, broadcasts, dispatcher,
		time.Duration(cfg.Scheduler.TickIntervalSec)*time.Second, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	monitor := service.NewDeliveryMonitor(db,
		constants.DefaultStaleSentThresholdHr*time.Hour,
		constants.DefaultStaleCheckIntervalHr*time.Hour, logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	server := NewServer(broadcasts, sequences, tracker, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

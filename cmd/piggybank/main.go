package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"piggybank/internal/amqp"
	"piggybank/internal/cli"
	"piggybank/internal/config"
	apphttp "piggybank/internal/http"
	"piggybank/internal/log"
	"piggybank/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		log.New(log.DefaultConfig()).Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel)

	if err := run(logger, cfg); err != nil {
		logger.Error("piggybank stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(logger *log.Logger, cfg *config.Config) error {
	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	backend, err := cli.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := []services.Option{services.WithLogger(logger)}

	var events *services.EventQueue
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			events = services.NewEventQueue(amqpClient, services.DefaultEventQueueSize, logger)
			opts = append(opts, services.WithPublisher(events))
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - ledger events will not be published")
	}

	bank, err := services.NewBank(ctx, backend.Store, opts...)
	if err != nil {
		_ = backend.Cleanup()
		return err
	}
	defer func() {
		if err := bank.Close(); err != nil {
			logger.Error("Failed to close snapshot store", log.FieldError, err)
		}
	}()

	// Credit anything that matured while the process was down.
	if matured, err := bank.Reconcile(ctx); err != nil {
		logger.Error("Startup reconciliation failed", log.FieldOperation, log.OpStartup, log.FieldError, err)
	} else if len(matured) > 0 {
		logger.Info("Startup reconciliation credited deposits", log.FieldMatured, len(matured))
	}

	scheduler := services.NewScheduler(bank, cfg.MaturitySchedule, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}

	srv := apphttp.NewServer(":"+cfg.Port, bank, apphttp.Options{
		AuthRatePerMinute: cfg.AuthRatePerMinute,
		IdempotencyTTL:    cfg.IdempotencyTTL,
		Logger:            logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	// The queue outlives the HTTP server so events from in-flight requests
	// still get flushed.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	if events != nil {
		g.Go(func() error { return events.Run(queueCtx) })
	}

	g.Go(func() error {
		logger.Info("Starting piggybank server", "port", cfg.Port, log.FieldBackend, cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached while waiting for maturity job")
		}
		stopQueue()
		return nil
	})

	return g.Wait()
}

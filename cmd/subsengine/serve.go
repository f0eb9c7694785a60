package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/subscription-engine/internal/config"
	"github.com/mmeshcher/subscription-engine/internal/handler"
	"github.com/mmeshcher/subscription-engine/internal/metrics"
	"github.com/mmeshcher/subscription-engine/internal/middleware"
	"github.com/mmeshcher/subscription-engine/internal/scheduler"
	"github.com/mmeshcher/subscription-engine/internal/service"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the renewal scheduler and the notification publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := openRepository(cfg, sugar)
	if err != nil {
		sugar.Errorw("storage initialization error", "error", err.Error())
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNewMetrics(reg)

	opts := []service.Option{service.WithMetrics(m)}
	publisher := newPublisher(cfg, logger, m)
	if publisher != nil {
		opts = append(opts, service.WithPublisher(publisher))
	}

	svc := service.NewService(repo, opts...)
	defer svc.Close()

	renewals := scheduler.New(svc, logger.Named("scheduler"), m, scheduler.Config{
		Interval:  cfg.RenewInterval,
		Workers:   cfg.RenewWorkers,
		BatchSize: cfg.RenewBatchSize,
	})

	identity := middleware.NewIdentity(cfg.IdentitySecret)
	h := handler.NewHandler(svc, logger, identity,
		handler.WithMetrics(m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодическое продление подписок
	g.Go(func() error {
		sugar.Infow("starting renewal scheduler", "interval", cfg.RenewInterval, "workers", cfg.RenewWorkers)
		renewals.Start(ctx)
		return nil
	})

	if publisher != nil {
		g.Go(func() error {
			sugar.Infow("starting notification publisher", "addr", cfg.NotifyAddress)
			publisher.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		sugar.Infow("starting subscription engine server", "addr", cfg.RunAddress, "memory_mode", cfg.MemoryMode())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	err = g.Wait()
	drainPublisher(publisher, sugar)
	if err != nil {
		sugar.Errorw("application terminated with error", "error", err)
		return err
	}
	return nil
}

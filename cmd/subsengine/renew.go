package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/subscription-engine/internal/config"
	"github.com/mmeshcher/subscription-engine/internal/scheduler"
	"github.com/mmeshcher/subscription-engine/internal/service"
)

func newRenewCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "renew",
		Short: "Renew or expire every due subscription once and exit",
		Long: "Processes all ACTIVE subscriptions whose paid period has ended. " +
			"Meant to be run from cron when the long-running scheduler is not used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renewOnce(cmd.Context(), cfg)
		},
	}
}

func renewOnce(parent context.Context, cfg *config.Config) error {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := openRepository(cfg, sugar)
	if err != nil {
		sugar.Errorw("storage initialization error", "error", err.Error())
		return err
	}

	var opts []service.Option
	publisher := newPublisher(cfg, logger, nil)
	if publisher != nil {
		opts = append(opts, service.WithPublisher(publisher))
	}

	svc := service.NewService(repo, opts...)
	defer svc.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := scheduler.New(svc, logger.Named("scheduler"), nil, scheduler.Config{
		Workers:   cfg.RenewWorkers,
		BatchSize: cfg.RenewBatchSize,
	})

	// Уведомления отправляются параллельно с проходом и досылаются после него
	runCtx, stopPublisher := context.WithCancel(ctx)
	var g errgroup.Group
	if publisher != nil {
		g.Go(func() error {
			publisher.Run(runCtx)
			return nil
		})
	}

	summary, err := s.RunOnce(ctx)
	stopPublisher()
	_ = g.Wait()
	drainPublisher(publisher, sugar)
	if err != nil {
		return fmt.Errorf("renewal pass: %w", err)
	}

	sugar.Infow("renewal pass complete",
		"renewed", summary.Renewed,
		"expired", summary.Expired,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-engine/internal/config"
	"github.com/mmeshcher/subscription-engine/internal/notify"
	"github.com/mmeshcher/subscription-engine/internal/repository"
	"github.com/mmeshcher/subscription-engine/internal/service"
)

func newRootCmd() *cobra.Command {
	cfg := config.New()

	root := &cobra.Command{
		Use:           "subsengine",
		Short:         "Subscription and wallet ledger engine",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.LoadEnv()
		},
	}
	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(cfg), newRenewCmd(cfg))
	return root
}

// openRepository открывает PostgreSQL, а при пустом DATABASE_URI переходит в режим хранения в памяти.
func openRepository(cfg *config.Config, sugar *zap.SugaredLogger) (service.Repository, error) {
	if cfg.MemoryMode() {
		sugar.Warnw("DATABASE_URI is empty, using in-memory storage; data is lost on exit")
		return repository.NewMemoryRepository(), nil
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("database initialization: %w", err)
	}
	return repo, nil
}

const notifyDrainTimeout = 10 * time.Second

// newPublisher создаёт издателя уведомлений или возвращает nil, если NOTIFY_ADDRESS не задан.
func newPublisher(cfg *config.Config, logger *zap.Logger, recorder notify.Recorder) *notify.Publisher {
	if cfg.NotifyAddress == "" {
		return nil
	}
	return notify.NewPublisher(notify.NewClient(cfg.NotifyAddress), logger.Named("notify"), recorder, 0)
}

// drainPublisher досылает оставшиеся в очереди уведомления перед выходом.
func drainPublisher(p *notify.Publisher, sugar *zap.SugaredLogger) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyDrainTimeout)
	defer cancel()

	p.Drain(ctx)
	sugar.Info("notification queue drained")
}

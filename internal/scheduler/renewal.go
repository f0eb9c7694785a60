// Package scheduler периодически продлевает или завершает подписки с истёкшим периодом.
package scheduler

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/service"
)

const (
	defaultInterval = time.Minute
	defaultWorkers  = 4
)

// Engine описывает операции движка, нужные планировщику.
type Engine interface {
	DueSubscriptions(ctx context.Context, asOf time.Time, batchSize int) iter.Seq2[model.Subscription, error]
	RenewOrExpire(ctx context.Context, subscriptionID int64) (service.RenewOutcome, error)
}

// Recorder принимает наблюдения о проходах планировщика.
type Recorder interface {
	ObserveRenewal(outcome string)
	ObserveRenewalRun(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRenewal(string)          {}
func (nopRecorder) ObserveRenewalRun(time.Duration) {}

// Config задаёт параметры планировщика. Нулевые значения заменяются значениями по умолчанию.
type Config struct {
	Interval  time.Duration
	Workers   int
	BatchSize int
}

// Summary подводит итог одного прохода.
type Summary struct {
	Renewed int
	Expired int
	Skipped int
	Failed  int
}

// Total возвращает число обработанных подписок.
func (s Summary) Total() int {
	return s.Renewed + s.Expired + s.Skipped + s.Failed
}

// Scheduler обходит подписки, срок которых наступил, и вызывает для каждой RenewOrExpire.
// Ошибка по одной подписке не прерывает обработку остальных.
type Scheduler struct {
	engine   Engine
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	cfg      Config
}

// New создаёт планировщик. recorder может быть nil.
func New(engine Engine, logger *zap.Logger, recorder Recorder, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = service.DefaultDueBatchSize
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		engine:   engine,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
		cfg:      cfg,
	}
}

// Start выполняет проходы с интервалом Config.Interval, пока не отменён ctx.
// Первый проход выполняется сразу.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("renewal pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce обрабатывает все подписки, срок которых наступил к моменту запуска.
// Возвращает ошибку, если не удалось получить список подписок или ctx отменён.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	started := s.now()
	defer func() { s.recorder.ObserveRenewalRun(time.Since(started)) }()

	var (
		mu      sync.Mutex
		summary Summary
	)
	record := func(outcome string) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case string(service.RenewOutcomeRenewed):
			summary.Renewed++
		case string(service.RenewOutcomeExpired):
			summary.Expired++
		case string(service.RenewOutcomeSkipped):
			summary.Skipped++
		default:
			summary.Failed++
		}
		s.recorder.ObserveRenewal(outcome)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	var listErr error
	for sub, err := range s.engine.DueSubscriptions(gctx, started, s.cfg.BatchSize) {
		if err != nil {
			listErr = fmt.Errorf("list due subscriptions: %w", err)
			break
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			outcome, err := s.engine.RenewOrExpire(gctx, sub.ID)
			if err != nil {
				s.logger.Warn("renewal failed",
					zap.Int64("subscription_id", sub.ID),
					zap.String("error_kind", service.ErrorKind(err)),
					zap.Error(err),
				)
				record("failed")
				return nil
			}
			if outcome == service.RenewOutcomeExpired {
				s.logger.Info("subscription expired",
					zap.Int64("subscription_id", sub.ID),
					zap.Int64("subscriber_id", sub.SubscriberID),
					zap.Int64("creator_id", sub.CreatorID),
				)
			}
			record(string(outcome))
			return nil
		})
	}
	_ = g.Wait()

	if listErr != nil {
		return summary, listErr
	}

	if summary.Total() > 0 {
		s.logger.Info("renewal pass finished",
			zap.Int("renewed", summary.Renewed),
			zap.Int("expired", summary.Expired),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
			zap.Duration("took", time.Since(started)),
		)
	}
	return summary, ctx.Err()
}

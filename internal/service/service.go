// Package service реализует движок подписок и кошельков: перевод баллов,
// жизненный цикл подписок и журнал операций.
package service

import (
	"context"
	"time"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	WithTx(ctx context.Context, fn func(tx repository.Tx) error) error

	GetUser(ctx context.Context, userID int64) (model.User, error)
	GetWallet(ctx context.Context, userID int64) (model.Wallet, error)
	GetSubscription(ctx context.Context, subscriptionID int64) (model.Subscription, error)
	ListDueSubscriptions(ctx context.Context, page repository.DuePage) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, subscriberID int64, status model.SubscriptionStatus) ([]model.Subscription, error)
	ListTiers(ctx context.Context, creatorID int64) ([]model.TierSummary, error)
	HasMessagePermission(ctx context.Context, subscriberID, creatorID int64) (bool, error)
	LedgerHistory(ctx context.Context, userID, beforeID int64, limit int) ([]model.LedgerEntry, error)
}

// Publisher получает записи журнала после фиксации операции.
type Publisher interface {
	Publish(entries ...model.LedgerEntry)
}

// Metrics принимает наблюдения о работе движка.
type Metrics interface {
	ObserveTransfer(kind model.LedgerKind, amount int64)
	ObserveFailure(operation, kind string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(...model.LedgerEntry) {}

type nopMetrics struct{}

func (nopMetrics) ObserveTransfer(model.LedgerKind, int64) {}
func (nopMetrics) ObserveFailure(string, string)           {}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher задаёт получателя зафиксированных записей журнала.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics задаёт приёмник метрик.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service содержит бизнес-логику движка подписок.
type Service struct {
	repo      Repository
	now       func() time.Time
	publisher Publisher
	metrics   Metrics
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		now:       time.Now,
		publisher: nopPublisher{},
		metrics:   nopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// commit публикует записи журнала и учитывает денежные движения после успешной фиксации.
func (s *Service) commit(entries []*model.LedgerEntry) {
	if len(entries) == 0 {
		return
	}
	published := make([]model.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if e.Amount > 0 && e.Kind.IsMonetary() {
			s.metrics.ObserveTransfer(e.Kind, e.Amount)
		}
		published = append(published, *e)
	}
	s.publisher.Publish(published...)
}

func (s *Service) fail(operation string, err error) error {
	if err != nil {
		s.metrics.ObserveFailure(operation, ErrorKind(err))
	}
	return err
}

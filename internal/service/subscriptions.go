package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
)

// DefaultDueBatchSize задаёт размер страницы при обходе подписок, подлежащих продлению.
const DefaultDueBatchSize = 100

// createSubscription создаёт активную подписку на период [start, end).
// Проверка существующей активной подписки даёт быстрый отказ; окончательно
// уникальность обеспечивает ограничение хранилища.
func createSubscription(ctx context.Context, tx repository.Tx, subscriberID int64, tier model.Tier, start, end, now time.Time) (model.Subscription, error) {
	if !end.After(start) || !end.After(now) {
		return model.Subscription{}, fmt.Errorf("%w: start %s, end %s", ErrInvalidPeriod, start, end)
	}

	existing, err := tx.FindActiveSubscription(ctx, subscriberID, tier.CreatorID)
	if err != nil {
		return model.Subscription{}, err
	}
	if existing != nil {
		return model.Subscription{}, fmt.Errorf("%w: subscription %d", ErrDuplicateActiveSubscription, existing.ID)
	}

	sub := model.Subscription{
		SubscriberID: subscriberID,
		TierID:       tier.ID,
		CreatorID:    tier.CreatorID,
		Status:       model.SubscriptionActive,
		StartDate:    start,
		EndDate:      end,
	}
	if err := tx.InsertSubscription(ctx, &sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// extendSubscription сдвигает окончание активной подписки на delta.
func extendSubscription(ctx context.Context, tx repository.Tx, sub model.Subscription, delta time.Duration, now time.Time) (model.Subscription, error) {
	if !sub.IsActive() {
		return model.Subscription{}, fmt.Errorf("%w: subscription %d is %s", ErrNotActive, sub.ID, sub.Status)
	}

	sub.EndDate = sub.EndDate.Add(delta)
	if !sub.EndDate.After(now) {
		return model.Subscription{}, fmt.Errorf("%w: extended end %s is not in the future", ErrInvalidPeriod, sub.EndDate)
	}

	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// cancelSubscription переводит активную подписку в CANCELLED. Отменённая подписка не возобновляется.
func cancelSubscription(ctx context.Context, tx repository.Tx, sub model.Subscription) (model.Subscription, error) {
	if !sub.IsActive() {
		return model.Subscription{}, fmt.Errorf("%w: subscription %d is %s", ErrNotActive, sub.ID, sub.Status)
	}

	sub.Status = model.SubscriptionCancelled
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// DueSubscriptions возвращает ленивую последовательность активных подписок с end_date <= asOf.
// Каждый новый обход начинается заново; страницы читаются по мере продвижения.
func (s *Service) DueSubscriptions(ctx context.Context, asOf time.Time, batchSize int) iter.Seq2[model.Subscription, error] {
	if batchSize <= 0 {
		batchSize = DefaultDueBatchSize
	}

	return func(yield func(model.Subscription, error) bool) {
		var afterID int64
		for {
			page, err := s.repo.ListDueSubscriptions(ctx, repository.DuePage{
				AsOf:    asOf,
				AfterID: afterID,
				Limit:   batchSize,
			})
			if err != nil {
				yield(model.Subscription{}, s.fail("list_due", err))
				return
			}

			for _, sub := range page {
				if !yield(sub, nil) {
					return
				}
				afterID = sub.ID
			}

			if len(page) < batchSize {
				return
			}
		}
	}
}

// Subscriptions возвращает подписки пользователя, при непустом status только в этом статусе.
func (s *Service) Subscriptions(ctx context.Context, subscriberID int64, status model.SubscriptionStatus) ([]model.Subscription, error) {
	switch status {
	case "", model.SubscriptionActive, model.SubscriptionCancelled, model.SubscriptionExpired:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.repo.ListSubscriptions(ctx, subscriberID, status)
}

// Subscription возвращает подписку. Просматривать её могут подписчик и автор уровня.
func (s *Service) Subscription(ctx context.Context, subscriptionID, requesterID int64) (model.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("get subscription %d: %w", subscriptionID, err)
	}
	if requesterID != sub.SubscriberID && requesterID != sub.CreatorID {
		return model.Subscription{}, fmt.Errorf("%w: subscription %d", ErrPermissionDenied, subscriptionID)
	}
	return sub, nil
}

// CanMessage сообщает, может ли подписчик писать автору.
func (s *Service) CanMessage(ctx context.Context, subscriberID, creatorID int64) (bool, error) {
	return s.repo.HasMessagePermission(ctx, subscriberID, creatorID)
}

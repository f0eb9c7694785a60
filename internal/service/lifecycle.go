package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
)

// RenewOutcome описывает результат обработки подписки планировщиком.
type RenewOutcome string

const (
	// RenewOutcomeRenewed: подписка оплачена и начала новый период.
	RenewOutcomeRenewed RenewOutcome = "renewed"
	// RenewOutcomeExpired: баллов не хватило, подписка истекла.
	RenewOutcomeExpired RenewOutcome = "expired"
	// RenewOutcomeSkipped: подписка уже не активна или ещё не подошла к сроку.
	RenewOutcomeSkipped RenewOutcome = "skipped"
)

// Subscribe оформляет подписку на уровень: переводит цену уровня автору и создаёт
// активную подписку на SubscriptionPeriod. Перевод и создание подписки фиксируются вместе.
func (s *Service) Subscribe(ctx context.Context, subscriberID, tierID int64) (model.Subscription, error) {
	now := s.now()

	var (
		sub     model.Subscription
		entries []*model.LedgerEntry
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		tier, err := tx.GetTier(ctx, tierID)
		if err != nil {
			return fmt.Errorf("get tier %d: %w", tierID, err)
		}
		if tier.CreatorID == subscriberID {
			return fmt.Errorf("%w: cannot subscribe to own tier", ErrPermissionDenied)
		}

		// Проверка дубликата выполняется под блокировкой кошельков: конкурирующий запрос
		// дожидается фиксации первого и видит уже созданную подписку.
		if err := lockWallets(ctx, tx, subscriberID, tier.CreatorID); err != nil {
			return err
		}
		existing, err := tx.FindActiveSubscription(ctx, subscriberID, tier.CreatorID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: subscription %d", ErrDuplicateActiveSubscription, existing.ID)
		}

		entries, err = executeTransfer(ctx, tx, transfer{
			Payer:            subscriberID,
			Payee:            tier.CreatorID,
			Amount:           tier.PointsPrice,
			Kind:             model.LedgerSubscribe,
			PayerDescription: fmt.Sprintf("Subscribed to tier %q of creator %d for 30 days", tier.Name, tier.CreatorID),
			PayeeDescription: fmt.Sprintf("User %d subscribed to your tier %q for 30 days", subscriberID, tier.Name),
			At:               now,
		})
		if err != nil {
			return err
		}

		sub, err = createSubscription(ctx, tx, subscriberID, tier, now, now.Add(model.SubscriptionPeriod), now)
		return err
	})
	if err != nil {
		return model.Subscription{}, s.fail("subscribe", err)
	}

	s.commit(entries)
	return sub, nil
}

// Extend продлевает активную подписку ещё на SubscriptionPeriod, добавляя его к текущему окончанию.
// Продлевать может только сам подписчик.
func (s *Service) Extend(ctx context.Context, subscriptionID, requesterID int64) (model.Subscription, error) {
	now := s.now()

	var (
		sub     model.Subscription
		entries []*model.LedgerEntry
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		current, err := lockOwnSubscription(ctx, tx, subscriptionID, requesterID)
		if err != nil {
			return err
		}
		if !current.IsActive() {
			return fmt.Errorf("%w: subscription %d is %s", ErrNotActive, current.ID, current.Status)
		}

		tier, err := tx.GetTier(ctx, current.TierID)
		if err != nil {
			return fmt.Errorf("get tier %d: %w", current.TierID, err)
		}

		entries, err = executeTransfer(ctx, tx, transfer{
			Payer:            current.SubscriberID,
			Payee:            tier.CreatorID,
			Amount:           tier.PointsPrice,
			Kind:             model.LedgerExtend,
			PayerDescription: fmt.Sprintf("Extended subscription to tier %q of creator %d", tier.Name, tier.CreatorID),
			PayeeDescription: fmt.Sprintf("User %d extended their subscription to your tier %q", current.SubscriberID, tier.Name),
			At:               now,
		})
		if err != nil {
			return err
		}

		sub, err = extendSubscription(ctx, tx, current, model.SubscriptionPeriod, now)
		return err
	})
	if err != nil {
		return model.Subscription{}, s.fail("extend", err)
	}

	s.commit(entries)
	return sub, nil
}

// Cancel отменяет активную подписку без возврата баллов.
func (s *Service) Cancel(ctx context.Context, subscriptionID, requesterID int64) (model.Subscription, error) {
	now := s.now()

	var (
		sub     model.Subscription
		entries []*model.LedgerEntry
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		current, err := lockOwnSubscription(ctx, tx, subscriptionID, requesterID)
		if err != nil {
			return err
		}

		sub, err = cancelSubscription(ctx, tx, current)
		if err != nil {
			return err
		}

		entries = []*model.LedgerEntry{
			noteFor(sub.SubscriberID, model.LedgerCancel,
				fmt.Sprintf("Cancelled subscription %d to creator %d", sub.ID, sub.CreatorID), now),
			noteFor(sub.CreatorID, model.LedgerCancel,
				fmt.Sprintf("User %d cancelled their subscription %d", sub.SubscriberID, sub.ID), now),
		}
		return tx.AppendLedger(ctx, entries...)
	})
	if err != nil {
		return model.Subscription{}, s.fail("cancel", err)
	}

	s.commit(entries)
	return sub, nil
}

// RenewOrExpire обрабатывает подписку, срок которой истёк: при достаточном балансе
// начинает новый период с текущего момента, иначе переводит подписку в EXPIRED.
// Повторный вызов для уже неактивной или уже продлённой подписки ничего не меняет.
func (s *Service) RenewOrExpire(ctx context.Context, subscriptionID int64) (RenewOutcome, error) {
	now := s.now()

	var (
		outcome RenewOutcome
		entries []*model.LedgerEntry
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("lock subscription %d: %w", subscriptionID, err)
		}
		if !sub.IsDue(now) {
			outcome = RenewOutcomeSkipped
			return nil
		}

		tier, err := tx.GetTier(ctx, sub.TierID)
		if err != nil {
			return fmt.Errorf("get tier %d: %w", sub.TierID, err)
		}

		entries, err = executeTransfer(ctx, tx, transfer{
			Payer:            sub.SubscriberID,
			Payee:            tier.CreatorID,
			Amount:           tier.PointsPrice,
			Kind:             model.LedgerRenew,
			PayerDescription: fmt.Sprintf("Renewed subscription to tier %q of creator %d for another 30 days", tier.Name, tier.CreatorID),
			PayeeDescription: fmt.Sprintf("User %d renewed subscription to your tier %q for another 30 days", sub.SubscriberID, tier.Name),
			At:               now,
		})
		switch {
		case err == nil:
			sub.StartDate = now
			sub.EndDate = now.Add(model.SubscriptionPeriod)
			outcome = RenewOutcomeRenewed
		case errors.Is(err, ErrInsufficientBalance):
			sub.Status = model.SubscriptionExpired
			outcome = RenewOutcomeExpired
			entries = []*model.LedgerEntry{
				noteFor(sub.SubscriberID, model.LedgerRenewExpire,
					fmt.Sprintf("Subscription to tier %q of creator %d expired", tier.Name, tier.CreatorID), now),
				noteFor(tier.CreatorID, model.LedgerRenewExpire,
					fmt.Sprintf("Subscription of user %d to your tier %q expired", sub.SubscriberID, tier.Name), now),
			}
			if err := tx.AppendLedger(ctx, entries...); err != nil {
				return err
			}
		default:
			return err
		}

		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return "", s.fail("renew", err)
	}

	s.commit(entries)
	return outcome, nil
}

func lockOwnSubscription(ctx context.Context, tx repository.Tx, subscriptionID, requesterID int64) (model.Subscription, error) {
	sub, err := tx.LockSubscription(ctx, subscriptionID)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("lock subscription %d: %w", subscriptionID, err)
	}
	if sub.SubscriberID != requesterID {
		return model.Subscription{}, fmt.Errorf("%w: subscription %d belongs to another user", ErrPermissionDenied, subscriptionID)
	}
	return sub, nil
}

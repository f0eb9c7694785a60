package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
	"github.com/mmeshcher/subscription-engine/internal/validation"
)

// CreditPurchase зачисляет купленные баллы. Вызывается только после подтверждения платежа
// внешним провайдером; повторное подтверждение с той же ссылкой отклоняется с ErrDuplicateReference.
func (s *Service) CreditPurchase(ctx context.Context, userID, points int64, externalReference string) (model.LedgerEntry, error) {
	if points <= 0 {
		return model.LedgerEntry{}, s.fail("purchase", ErrInvalidAmount)
	}
	if err := validation.ValidateReference(externalReference); err != nil {
		return model.LedgerEntry{}, s.fail("purchase", fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}

	entry := &model.LedgerEntry{
		UserID:            userID,
		Kind:              model.LedgerPurchase,
		Amount:            points,
		ExternalReference: externalReference,
		Description:       fmt.Sprintf("Purchased %d points", points),
		CreatedAt:         s.now(),
	}
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.EnsureWallet(ctx, userID); err != nil {
			return fmt.Errorf("ensure wallet %d: %w", userID, err)
		}
		if _, err := tx.LockWallet(ctx, userID); err != nil {
			return err
		}
		if _, err := credit(ctx, tx, userID, points); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, entry)
	})
	if err != nil {
		return model.LedgerEntry{}, s.fail("purchase", err)
	}

	s.commit([]*model.LedgerEntry{entry})
	return *entry, nil
}

// DebitWithdrawal списывает выведенные автором баллы. Вызывается только после того,
// как внешняя выплата принята провайдером.
func (s *Service) DebitWithdrawal(ctx context.Context, userID, points int64, payoutReference string) (model.LedgerEntry, error) {
	if points <= 0 {
		return model.LedgerEntry{}, s.fail("withdrawal", ErrInvalidAmount)
	}
	if err := validation.ValidateReference(payoutReference); err != nil {
		return model.LedgerEntry{}, s.fail("withdrawal", fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}

	entry := &model.LedgerEntry{
		UserID:            userID,
		Kind:              model.LedgerWithdrawal,
		Amount:            -points,
		ExternalReference: payoutReference,
		Description:       fmt.Sprintf("Withdrew %d points", points),
		CreatedAt:         s.now(),
	}
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock user %d: %w", userID, err)
		}
		if !user.IsCreator {
			return fmt.Errorf("%w: only creators can withdraw points", ErrPermissionDenied)
		}
		if !user.HasPayoutAccount() {
			return ErrPayoutAccountRequired
		}

		if _, err := tx.EnsureWallet(ctx, userID); err != nil {
			return fmt.Errorf("ensure wallet %d: %w", userID, err)
		}
		if _, err := debit(ctx, tx, userID, points); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, entry)
	})
	if err != nil {
		return model.LedgerEntry{}, s.fail("withdrawal", err)
	}

	s.commit([]*model.LedgerEntry{entry})
	return *entry, nil
}

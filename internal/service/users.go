package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
	"github.com/mmeshcher/subscription-engine/internal/validation"
)

// CreateUser регистрирует пользователя и сразу создаёт его кошелёк с нулевым балансом.
func (s *Service) CreateUser(ctx context.Context, username string, isCreator bool, payoutAccountID string) (model.User, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return model.User{}, s.fail("create_user", fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	if payoutAccountID != "" {
		if err := validation.ValidateReference(payoutAccountID); err != nil {
			return model.User{}, s.fail("create_user", fmt.Errorf("%w: %w", ErrInvalidInput, err))
		}
	}

	user := model.User{
		Username:        username,
		IsCreator:       isCreator,
		PayoutAccountID: payoutAccountID,
		CreatedAt:       s.now(),
	}
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateUser(ctx, &user); err != nil {
			return err
		}
		_, err := tx.EnsureWallet(ctx, user.ID)
		return err
	})
	if err != nil {
		return model.User{}, s.fail("create_user", err)
	}
	return user, nil
}

// User возвращает пользователя по идентификатору.
func (s *Service) User(ctx context.Context, userID int64) (model.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// SetPayoutAccount привязывает к пользователю внешний счёт для выплат.
func (s *Service) SetPayoutAccount(ctx context.Context, userID int64, accountID string) error {
	if err := validation.ValidateReference(accountID); err != nil {
		return s.fail("set_payout", fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		return tx.SetPayoutAccount(ctx, userID, accountID)
	})
	return s.fail("set_payout", err)
}

// DeleteUser удаляет пользователя вместе с кошельком, уровнями и подписками.
// Записи журнала, ссылающиеся на пользователя, сохраняются.
func (s *Service) DeleteUser(ctx context.Context, userID, requesterID int64) error {
	if userID != requesterID {
		return s.fail("delete_user", fmt.Errorf("%w: cannot delete another user", ErrPermissionDenied))
	}
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		return tx.DeleteUser(ctx, userID)
	})
	return s.fail("delete_user", err)
}

package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
)

// Wallet возвращает кошелёк пользователя, создавая его с нулевым балансом при отсутствии.
func (s *Service) Wallet(ctx context.Context, userID int64) (model.Wallet, error) {
	var w model.Wallet
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		w, err = tx.EnsureWallet(ctx, userID)
		return err
	})
	if err != nil {
		return model.Wallet{}, s.fail("wallet", err)
	}
	return w, nil
}

// credit зачисляет amount на кошелёк. Кошелёк должен существовать.
func credit(ctx context.Context, tx repository.Tx, userID, amount int64) (model.Wallet, error) {
	if amount <= 0 {
		return model.Wallet{}, ErrInvalidAmount
	}
	return tx.AddToBalance(ctx, userID, amount)
}

// debit списывает amount с кошелька. Проверка баланса и списание выполняются под блокировкой
// кошелька; при нехватке средств кошелёк не изменяется.
func debit(ctx context.Context, tx repository.Tx, userID, amount int64) (model.Wallet, error) {
	if amount <= 0 {
		return model.Wallet{}, ErrInvalidAmount
	}

	w, err := tx.LockWallet(ctx, userID)
	if err != nil {
		return model.Wallet{}, err
	}
	if w.Balance < amount {
		return model.Wallet{}, fmt.Errorf("%w: balance %d, required %d", ErrInsufficientBalance, w.Balance, amount)
	}

	return tx.AddToBalance(ctx, userID, -amount)
}

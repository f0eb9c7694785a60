package service

import (
	"context"
	"fmt"
	"time"

	"go.jetify.com/typeid/v2"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
)

const transferIDPrefix = "xfer"

// transfer описывает перевод баллов между двумя кошельками.
type transfer struct {
	Payer            int64
	Payee            int64
	Amount           int64
	Kind             model.LedgerKind
	PayerDescription string
	PayeeDescription string
	At               time.Time
}

// executeTransfer переводит баллы внутри переданной транзакции и возвращает пару записей журнала:
// списание у плательщика и зачисление получателю с общим идентификатором перевода.
// Кошельки блокируются через lockWallets, поэтому встречные переводы между одной парой
// кошельков не блокируют друг друга взаимно.
func executeTransfer(ctx context.Context, tx repository.Tx, t transfer) ([]*model.LedgerEntry, error) {
	if t.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if t.Payer == t.Payee {
		return nil, fmt.Errorf("%w: payer and payee are the same user", ErrInvalidInput)
	}

	if err := lockWallets(ctx, tx, t.Payer, t.Payee); err != nil {
		return nil, err
	}

	if _, err := debit(ctx, tx, t.Payer, t.Amount); err != nil {
		return nil, err
	}
	if _, err := credit(ctx, tx, t.Payee, t.Amount); err != nil {
		return nil, err
	}

	id, err := typeid.Generate(transferIDPrefix)
	if err != nil {
		return nil, fmt.Errorf("generate transfer id: %w", err)
	}

	entries := []*model.LedgerEntry{
		{
			UserID:      t.Payer,
			Kind:        t.Kind,
			Amount:      -t.Amount,
			TransferID:  id.String(),
			Description: t.PayerDescription,
			CreatedAt:   t.At,
		},
		{
			UserID:      t.Payee,
			Kind:        t.Kind,
			Amount:      t.Amount,
			TransferID:  id.String(),
			Description: t.PayeeDescription,
			CreatedAt:   t.At,
		},
	}
	if err := tx.AppendLedger(ctx, entries...); err != nil {
		return nil, err
	}

	return entries, nil
}

// lockWallets создаёт недостающие кошельки пары пользователей и блокирует их
// в порядке возрастания идентификатора. Повторная блокировка в той же транзакции допустима.
func lockWallets(ctx context.Context, tx repository.Tx, a, b int64) error {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	for _, userID := range []int64{first, second} {
		if _, err := tx.EnsureWallet(ctx, userID); err != nil {
			return fmt.Errorf("ensure wallet %d: %w", userID, err)
		}
		if _, err := tx.LockWallet(ctx, userID); err != nil {
			return fmt.Errorf("lock wallet %d: %w", userID, err)
		}
	}
	return nil
}

// noteFor создаёт неденежную запись журнала.
func noteFor(userID int64, kind model.LedgerKind, description string, at time.Time) *model.LedgerEntry {
	return &model.LedgerEntry{
		UserID:      userID,
		Kind:        kind,
		Description: description,
		CreatedAt:   at,
	}
}

package service

import (
	"context"
	"errors"
	"iter"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HistoryPage содержит страницу журнала и курсор следующей страницы.
// NextBefore равен нулю, если записей больше нет.
type HistoryPage struct {
	Entries    []model.LedgerEntry `json:"entries"`
	NextBefore int64               `json:"next_before,omitempty"`
}

// History возвращает записи журнала пользователя с id < beforeID, от новых к старым.
// beforeID = 0 означает начало с самой свежей записи.
func (s *Service) History(ctx context.Context, userID, beforeID int64, limit int) (HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	entries, err := s.repo.LedgerHistory(ctx, userID, beforeID, limit)
	if err != nil {
		return HistoryPage{}, s.fail("history", err)
	}

	page := HistoryPage{Entries: entries}
	if len(entries) == limit {
		page.NextBefore = entries[len(entries)-1].ID
	}
	return page, nil
}

// LedgerEntries возвращает ленивую последовательность всех записей журнала пользователя
// от новых к старым. Каждый новый обход начинается с самой свежей записи.
func (s *Service) LedgerEntries(ctx context.Context, userID int64) iter.Seq2[model.LedgerEntry, error] {
	return func(yield func(model.LedgerEntry, error) bool) {
		var before int64
		for {
			page, err := s.History(ctx, userID, before, maxHistoryLimit)
			if err != nil {
				yield(model.LedgerEntry{}, err)
				return
			}
			for _, e := range page.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if page.NextBefore == 0 {
				return
			}
			before = page.NextBefore
		}
	}
}

// Reconcile сверяет баланс кошелька с суммой денежных записей журнала.
// Кошелёк блокируется на время сверки, чтобы перевод не попал между двумя чтениями.
func (s *Service) Reconcile(ctx context.Context, userID int64) (model.Reconciliation, error) {
	rec := model.Reconciliation{UserID: userID}
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		w, err := tx.LockWallet(ctx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		rec.Balance = w.Balance

		rec.LedgerSum, err = tx.LedgerSum(ctx, userID)
		return err
	})
	if err != nil {
		return model.Reconciliation{}, s.fail("reconcile", err)
	}

	rec.Consistent = rec.Balance == rec.LedgerSum
	return rec, nil
}

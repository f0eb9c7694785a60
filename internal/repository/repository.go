// Package repository содержит хранилища движка подписок: PostgreSQL и in-memory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

var (
	// ErrNotFound возвращается, если запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists возвращается при нарушении уникальности имени пользователя или уровня.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInsufficientBalance возвращается, если списание сделало бы баланс отрицательным.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBalanceOverflow возвращается, если зачисление превысило бы максимально допустимый баланс.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrDuplicateActiveSubscription возвращается при попытке создать вторую активную подписку на автора.
	ErrDuplicateActiveSubscription = errors.New("duplicate active subscription")
	// ErrInvalidPeriod возвращается, если окончание периода подписки не позже его начала.
	ErrInvalidPeriod = errors.New("invalid subscription period")
	// ErrDuplicateReference возвращается при повторном использовании внешней ссылки платежа или выплаты.
	ErrDuplicateReference = errors.New("duplicate external reference")
	// ErrStorageUnavailable возвращается при временной недоступности хранилища.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Tx объединяет операции хранилища, выполняемые внутри одной атомарной единицы.
// Если функция, переданная в WithTx, возвращает ошибку, ни одно изменение не фиксируется.
type Tx interface {
	CreateUser(ctx context.Context, u *model.User) error
	LockUser(ctx context.Context, userID int64) (model.User, error)
	SetPayoutAccount(ctx context.Context, userID int64, accountID string) error
	DeleteUser(ctx context.Context, userID int64) error

	EnsureWallet(ctx context.Context, userID int64) (model.Wallet, error)
	// LockWallet блокирует кошелёк до конца транзакции и возвращает его текущее состояние.
	LockWallet(ctx context.Context, userID int64) (model.Wallet, error)
	// AddToBalance изменяет баланс на delta. Отрицательный итог отклоняется с ErrInsufficientBalance,
	// выход за пределы int64 с ErrBalanceOverflow.
	AddToBalance(ctx context.Context, userID int64, delta int64) (model.Wallet, error)

	CreateTier(ctx context.Context, t *model.Tier) error
	// GetTier возвращает уровень и запрещает его удаление до конца транзакции.
	GetTier(ctx context.Context, tierID int64) (model.Tier, error)
	// LockTier блокирует уровень для изменения или удаления.
	LockTier(ctx context.Context, tierID int64) (model.Tier, error)
	CountTiers(ctx context.Context, creatorID int64) (int, error)
	CountActiveSubscribers(ctx context.Context, tierID int64) (int, error)
	DeleteTier(ctx context.Context, tierID int64) error

	LockSubscription(ctx context.Context, subscriptionID int64) (model.Subscription, error)
	FindActiveSubscription(ctx context.Context, subscriberID, creatorID int64) (*model.Subscription, error)
	InsertSubscription(ctx context.Context, s *model.Subscription) error
	UpdateSubscription(ctx context.Context, s model.Subscription) error

	AppendLedger(ctx context.Context, entries ...*model.LedgerEntry) error
	// LedgerSum возвращает сумму денежных записей журнала пользователя.
	LedgerSum(ctx context.Context, userID int64) (int64, error)
}

// DuePage описывает страницу выборки подписок, подлежащих продлению.
type DuePage struct {
	AsOf    time.Time
	AfterID int64
	Limit   int
}

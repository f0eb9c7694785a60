// Package model содержит доменные сущности движка подписок и кошельков.
package model

import "time"

// SubscriptionPeriod задаёт длительность одного оплаченного периода подписки.
const SubscriptionPeriod = 30 * 24 * time.Hour

// MaxTiersPerCreator ограничивает количество уровней у одного автора.
const MaxTiersPerCreator = 12

// User представляет пользователя платформы: клиента или автора.
type User struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	IsCreator       bool      `json:"is_creator"`
	PayoutAccountID string    `json:"payout_account_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasPayoutAccount сообщает, привязан ли к пользователю внешний счёт для выплат.
func (u User) HasPayoutAccount() bool {
	return u.PayoutAccountID != ""
}

// Wallet содержит баланс пользователя в баллах.
type Wallet struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

// Tier описывает уровень подписки, созданный автором.
type Tier struct {
	ID                int64     `json:"id"`
	CreatorID         int64     `json:"creator_id"`
	Name              string    `json:"name"`
	PointsPrice       int64     `json:"points_price"`
	Description       string    `json:"description"`
	MessagePermission bool      `json:"message_permission"`
	CreatedAt         time.Time `json:"created_at"`
}

// TierSummary дополняет уровень количеством активных подписчиков.
type TierSummary struct {
	Tier
	ActiveSubscribers int `json:"active_subscribers"`
}

// SubscriptionStatus описывает состояние подписки.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

// Subscription связывает подписчика с уровнем автора.
// CreatorID дублирует владельца уровня: по паре (SubscriberID, CreatorID)
// хранилище гарантирует не более одной активной подписки.
type Subscription struct {
	ID           int64              `json:"id"`
	SubscriberID int64              `json:"subscriber_id"`
	TierID       int64              `json:"tier_id"`
	CreatorID    int64              `json:"creator_id"`
	Status       SubscriptionStatus `json:"status"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      time.Time          `json:"end_date"`
}

// IsActive сообщает, находится ли подписка в статусе ACTIVE.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionActive
}

// IsDue сообщает, истёк ли оплаченный период активной подписки к моменту asOf.
func (s Subscription) IsDue(asOf time.Time) bool {
	return s.IsActive() && !s.EndDate.After(asOf)
}

// LedgerKind описывает тип записи в журнале операций.
type LedgerKind string

const (
	LedgerSubscribe   LedgerKind = "SUBSCRIBE"
	LedgerExtend      LedgerKind = "EXTEND"
	LedgerCancel      LedgerKind = "CANCEL"
	LedgerRenew       LedgerKind = "RENEW"
	LedgerRenewExpire LedgerKind = "RENEW_EXPIRE"
	LedgerPurchase    LedgerKind = "PURCHASE"
	LedgerWithdrawal  LedgerKind = "WITHDRAWAL"
)

// IsMonetary сообщает, изменяет ли запись данного типа баланс кошелька.
func (k LedgerKind) IsMonetary() bool {
	switch k {
	case LedgerSubscribe, LedgerExtend, LedgerRenew, LedgerPurchase, LedgerWithdrawal:
		return true
	default:
		return false
	}
}

// LedgerEntry описывает неизменяемую запись журнала операций.
// Amount знаковый относительно UserID: списание отрицательно, зачисление положительно.
type LedgerEntry struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"user_id"`
	Kind              LedgerKind `json:"kind"`
	Amount            int64      `json:"amount"`
	TransferID        string     `json:"transfer_id,omitempty"`
	ExternalReference string     `json:"external_reference,omitempty"`
	Description       string     `json:"description"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Reconciliation содержит результат сверки баланса с журналом.
type Reconciliation struct {
	UserID     int64 `json:"user_id"`
	Balance    int64 `json:"balance"`
	LedgerSum  int64 `json:"ledger_sum"`
	Consistent bool  `json:"consistent"`
}

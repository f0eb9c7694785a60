package service

import (
	"errors"

	"github.com/mmeshcher/subscription-engine/internal/repository"
)

var (
	// ErrInvalidAmount возвращается, если сумма операции не положительна.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrNotActive возвращается при попытке изменить неактивную подписку.
	ErrNotActive = errors.New("subscription is not active")
	// ErrPermissionDenied возвращается, если запрашивающий не владеет ресурсом.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidInput возвращается при некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTierLimitReached возвращается, если у автора уже максимальное число уровней.
	ErrTierLimitReached = errors.New("tier limit reached")
	// ErrTierInUse возвращается при удалении уровня с активными подписчиками.
	ErrTierInUse = errors.New("tier has active subscribers")
	// ErrPayoutAccountRequired возвращается, если у автора не привязан счёт для выплат.
	ErrPayoutAccountRequired = errors.New("payout account required")

	ErrInsufficientBalance         = repository.ErrInsufficientBalance
	ErrBalanceOverflow             = repository.ErrBalanceOverflow
	ErrDuplicateActiveSubscription = repository.ErrDuplicateActiveSubscription
	ErrInvalidPeriod               = repository.ErrInvalidPeriod
	ErrNotFound                    = repository.ErrNotFound
	ErrAlreadyExists               = repository.ErrAlreadyExists
	ErrDuplicateReference          = repository.ErrDuplicateReference
	ErrStorageUnavailable          = repository.ErrStorageUnavailable
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrBalanceOverflow, "InvalidAmount"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrDuplicateActiveSubscription, "DuplicateActiveSubscription"},
	{ErrInvalidPeriod, "InvalidPeriod"},
	{ErrNotActive, "NotActive"},
	{ErrNotFound, "NotFound"},
	{ErrPermissionDenied, "PermissionDenied"},
	{ErrStorageUnavailable, "StorageUnavailable"},
	{ErrAlreadyExists, "AlreadyExists"},
	{ErrDuplicateReference, "DuplicateReference"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrTierLimitReached, "TierLimitReached"},
	{ErrTierInUse, "TierInUse"},
	{ErrPayoutAccountRequired, "PayoutAccountRequired"},
}

// ErrorKind возвращает имя вида ошибки для внешнего интерфейса движка.
// Для nil возвращается пустая строка, для неизвестных ошибок "Internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}

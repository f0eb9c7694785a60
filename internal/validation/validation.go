// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxTierNameLength        = 50
	maxTierDescriptionLength = 500
	maxUsernameLength        = 150
	maxReferenceLength       = 255
)

// ErrInvalid возвращается всеми функциями пакета при некорректных данных.
var ErrInvalid = errors.New("invalid")

// TierInput описывает данные для создания уровня подписки.
type TierInput struct {
	Name              string
	PointsPrice       int64
	Description       string
	MessagePermission bool
}

// ValidateTier проверяет имя, цену и описание уровня.
func ValidateTier(in TierInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return fmt.Errorf("%w: tier name is required", ErrInvalid)
	}
	if utf8.RuneCountInString(name) > maxTierNameLength {
		return fmt.Errorf("%w: tier name is longer than %d characters", ErrInvalid, maxTierNameLength)
	}
	if in.PointsPrice <= 0 {
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalid)
	}
	if utf8.RuneCountInString(in.Description) > maxTierDescriptionLength {
		return fmt.Errorf("%w: description is longer than %d characters", ErrInvalid, maxTierDescriptionLength)
	}
	return nil
}

// ValidateUsername проверяет имя пользователя: буквы, цифры и символы @.+-_.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return fmt.Errorf("%w: username is longer than %d characters", ErrInvalid, maxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("@.+-_", r) {
			continue
		}
		return fmt.Errorf("%w: username contains %q", ErrInvalid, r)
	}
	return nil
}

// ValidateReference проверяет идентификатор внешней системы: платежа, выплаты или счёта.
// Допустимы непустые строки из печатных ASCII-символов без пробелов.
func ValidateReference(ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalid)
	}
	if len(ref) > maxReferenceLength {
		return fmt.Errorf("%w: reference is longer than %d characters", ErrInvalid, maxReferenceLength)
	}
	for i := 0; i < len(ref); i++ {
		if ref[i] <= ' ' || ref[i] > '~' {
			return fmt.Errorf("%w: reference contains forbidden character at %d", ErrInvalid, i)
		}
	}
	return nil
}

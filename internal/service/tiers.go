package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
	"github.com/mmeshcher/subscription-engine/internal/validation"
)

// CreateTier создаёт уровень подписки автора. У автора должен быть привязан счёт для выплат,
// уровней не может быть больше MaxTiersPerCreator, имена уровней уникальны в пределах автора.
func (s *Service) CreateTier(ctx context.Context, creatorID int64, in validation.TierInput) (model.Tier, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.ValidateTier(in); err != nil {
		return model.Tier{}, s.fail("create_tier", fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}

	tier := model.Tier{
		CreatorID:         creatorID,
		Name:              in.Name,
		PointsPrice:       in.PointsPrice,
		Description:       in.Description,
		MessagePermission: in.MessagePermission,
		CreatedAt:         s.now(),
	}
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		// Блокировка автора сериализует проверку лимита уровней.
		creator, err := tx.LockUser(ctx, creatorID)
		if err != nil {
			return fmt.Errorf("lock user %d: %w", creatorID, err)
		}
		if !creator.IsCreator {
			return fmt.Errorf("%w: user %d is not a creator", ErrPermissionDenied, creatorID)
		}
		if !creator.HasPayoutAccount() {
			return ErrPayoutAccountRequired
		}

		n, err := tx.CountTiers(ctx, creatorID)
		if err != nil {
			return err
		}
		if n >= model.MaxTiersPerCreator {
			return fmt.Errorf("%w: creator already has %d tiers", ErrTierLimitReached, n)
		}

		return tx.CreateTier(ctx, &tier)
	})
	if err != nil {
		return model.Tier{}, s.fail("create_tier", err)
	}
	return tier, nil
}

// DeleteTier удаляет уровень, если у него нет активных подписчиков.
func (s *Service) DeleteTier(ctx context.Context, tierID, requesterID int64) error {
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		tier, err := tx.LockTier(ctx, tierID)
		if err != nil {
			return fmt.Errorf("lock tier %d: %w", tierID, err)
		}
		if tier.CreatorID != requesterID {
			return fmt.Errorf("%w: tier %d belongs to another creator", ErrPermissionDenied, tierID)
		}

		active, err := tx.CountActiveSubscribers(ctx, tierID)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: %d active subscribers", ErrTierInUse, active)
		}

		return tx.DeleteTier(ctx, tierID)
	})
	return s.fail("delete_tier", err)
}

// Tiers возвращает уровни автора по убыванию цены.
func (s *Service) Tiers(ctx context.Context, creatorID int64) ([]model.TierSummary, error) {
	return s.repo.ListTiers(ctx, creatorID)
}

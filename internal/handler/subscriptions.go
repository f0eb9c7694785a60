package handler

import (
	"net/http"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/validation"
)

// ListTiers возвращает уровни автора.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	creatorID, err := pathID(r, "creatorID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tiers, err := h.service.Tiers(r.Context(), creatorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tiers == nil {
		tiers = []model.TierSummary{}
	}
	h.writeOK(w, envelope{"tiers": tiers})
}

type createTierRequest struct {
	Name              string `json:"name"`
	PointsPrice       int64  `json:"points_price"`
	Description       string `json:"description"`
	MessagePermission bool   `json:"message_permission"`
}

// CreateTier создаёт уровень подписки текущего автора.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	var req createTierRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	tier, err := h.service.CreateTier(r.Context(), userID, validation.TierInput{
		Name:              req.Name,
		PointsPrice:       req.PointsPrice,
		Description:       req.Description,
		MessagePermission: req.MessagePermission,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"tier": tier})
}

// DeleteTier удаляет уровень текущего автора.
func (h *Handler) DeleteTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	tierID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.DeleteTier(r.Context(), tierID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, nil)
}

type subscribeRequest struct {
	TierID int64 `json:"tier_id"`
}

// Subscribe оформляет подписку текущего пользователя на уровень.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), userID, req.TierID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"subscription": sub})
}

// ListSubscriptions возвращает подписки текущего пользователя, опционально по статусу.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	status := model.SubscriptionStatus(r.URL.Query().Get("status"))
	subs, err := h.service.Subscriptions(r.Context(), userID, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	h.writeOK(w, envelope{"subscriptions": subs})
}

// Extend продлевает подписку текущего пользователя.
// GetSubscription возвращает одну подписку запрашивающего.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	subID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sub, err := h.service.Subscription(r.Context(), subID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"subscription": sub})
}

func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	subID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sub, err := h.service.Extend(r.Context(), subID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"subscription": sub})
}

// Cancel отменяет подписку текущего пользователя.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	subID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sub, err := h.service.Cancel(r.Context(), subID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"subscription": sub})
}

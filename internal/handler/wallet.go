package handler

import (
	"net/http"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

// GetWallet возвращает кошелёк текущего пользователя.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.Wallet(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"wallet": wallet})
}

// Reconcile сверяет баланс текущего пользователя с журналом.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	rec, err := h.service.Reconcile(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"reconciliation": rec})
}

type purchaseRequest struct {
	Points            int64  `json:"points"`
	ExternalReference string `json:"external_reference"`
}

// Purchase зачисляет баллы после подтверждения платежа провайдером.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.service.CreditPurchase(r.Context(), userID, req.Points, req.ExternalReference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"entry": entry})
}

type withdrawalRequest struct {
	Points          int64  `json:"points"`
	PayoutReference string `json:"payout_reference"`
}

// Withdraw списывает баллы после того, как выплата принята провайдером.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	var req withdrawalRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.service.DebitWithdrawal(r.Context(), userID, req.Points, req.PayoutReference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, envelope{"entry": entry})
}

// GetLedger возвращает страницу журнала текущего пользователя.
// before принимает курсор next_before предыдущей страницы, limit задаёт размер страницы.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	before, err := queryInt(r, "before")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.service.History(r.Context(), userID, before, int(limit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries := page.Entries
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	h.writeOK(w, envelope{"entries": entries, "next_before": page.NextBefore})
}

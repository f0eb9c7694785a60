// Package handler содержит HTTP-обработчики API движка подписок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-engine/internal/middleware"
	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/service"
	"github.com/mmeshcher/subscription-engine/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateUser(ctx context.Context, username string, isCreator bool, payoutAccountID string) (model.User, error)
	SetPayoutAccount(ctx context.Context, userID int64, accountID string) error
	DeleteUser(ctx context.Context, userID, requesterID int64) error

	Wallet(ctx context.Context, userID int64) (model.Wallet, error)
	Reconcile(ctx context.Context, userID int64) (model.Reconciliation, error)
	CreditPurchase(ctx context.Context, userID, points int64, externalReference string) (model.LedgerEntry, error)
	DebitWithdrawal(ctx context.Context, userID, points int64, payoutReference string) (model.LedgerEntry, error)

	Tiers(ctx context.Context, creatorID int64) ([]model.TierSummary, error)
	CreateTier(ctx context.Context, creatorID int64, in validation.TierInput) (model.Tier, error)
	DeleteTier(ctx context.Context, tierID, requesterID int64) error

	Subscribe(ctx context.Context, subscriberID, tierID int64) (model.Subscription, error)
	Extend(ctx context.Context, subscriptionID, requesterID int64) (model.Subscription, error)
	Cancel(ctx context.Context, subscriptionID, requesterID int64) (model.Subscription, error)
	Subscriptions(ctx context.Context, subscriberID int64, status model.SubscriptionStatus) ([]model.Subscription, error)
	Subscription(ctx context.Context, subscriptionID, requesterID int64) (model.Subscription, error)

	History(ctx context.Context, userID, beforeID int64, limit int) (service.HistoryPage, error)
}

// Handler реализует HTTP-обработчики API движка подписок.
type Handler struct {
	service  Service
	logger   *zap.Logger
	identity *middleware.Identity

	observer       middleware.HTTPObserver
	metricsHandler http.Handler
}

// Option настраивает Handler.
type Option func(*Handler)

// WithMetrics подключает учёт длительности запросов и маршрут /metrics.
func WithMetrics(observer middleware.HTTPObserver, metricsHandler http.Handler) Option {
	return func(h *Handler) {
		h.observer = observer
		h.metricsHandler = metricsHandler
	}
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, identity *middleware.Identity, opts ...Option) *Handler {
	h := &Handler{
		service:  s,
		logger:   logger,
		identity: identity,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// envelope описывает тело ответа на операцию: признак успеха ok, вид ошибки error_kind
// и затронутые ресурсы под собственными ключами.
type envelope map[string]any

var errBadRequest = errors.New("malformed request")

// statusFor сопоставляет виду ошибки HTTP-статус.
func statusFor(kind string) int {
	switch kind {
	case "InvalidAmount", "InvalidPeriod", "InvalidInput":
		return http.StatusUnprocessableEntity
	case "InsufficientBalance":
		return http.StatusPaymentRequired
	case "DuplicateActiveSubscription", "NotActive", "AlreadyExists", "DuplicateReference", "TierInUse", "TierLimitReached":
		return http.StatusConflict
	case "NotFound":
		return http.StatusNotFound
	case "PermissionDenied", "PayoutAccountRequired":
		return http.StatusForbidden
	case "StorageUnavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, res envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeOK(w http.ResponseWriter, res envelope) {
	if res == nil {
		res = envelope{}
	}
	res["ok"] = true
	res["error_kind"] = ""
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadRequest) {
		h.writeJSON(w, http.StatusBadRequest, envelope{"ok": false, "error_kind": "InvalidInput", "error": err.Error()})
		return
	}

	kind := service.ErrorKind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("route", r.URL.Path),
			zap.String("error_kind", kind),
			zap.Error(err),
		)
	}
	h.writeJSON(w, status, envelope{"ok": false, "error_kind": kind, "error": err.Error()})
}

func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(errBadRequest, errors.New(name+" must be a positive integer"))
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Join(errBadRequest, errors.New(name+" must be a non-negative integer"))
	}
	return n, nil
}

func requester(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return id, ok
}

// Health сообщает, что процесс обслуживает запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeOK(w, nil)
}

type createUserRequest struct {
	Username        string `json:"username"`
	IsCreator       bool   `json:"is_creator"`
	PayoutAccountID string `json:"payout_account_id"`
}

// CreateUser регистрирует пользователя и выдаёт токен идентификации.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, err := h.service.CreateUser(r.Context(), req.Username, req.IsCreator, req.PayoutAccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.identity.SetCookie(w, u.ID)
	h.writeOK(w, envelope{"user": u, "token": h.identity.Token(u.ID)})
}

// DeleteUser удаляет пользователя. Удалить можно только себя.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.DeleteUser(r.Context(), id, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, nil)
}

type payoutRequest struct {
	PayoutAccountID string `json:"payout_account_id"`
}

// SetPayoutAccount привязывает счёт для выплат текущему пользователю.
func (h *Handler) SetPayoutAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}

	var req payoutRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.SetPayoutAccount(r.Context(), userID, req.PayoutAccountID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w, nil)
}

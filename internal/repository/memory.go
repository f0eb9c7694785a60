package repository

import (
	"context"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

// memoryState содержит полный снимок данных in-memory хранилища.
type memoryState struct {
	users         map[int64]model.User
	wallets       map[int64]model.Wallet
	tiers         map[int64]model.Tier
	subscriptions map[int64]model.Subscription
	ledger        []model.LedgerEntry

	nextUserID         int64
	nextTierID         int64
	nextSubscriptionID int64
	nextLedgerID       int64
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		users:              maps.Clone(s.users),
		wallets:            maps.Clone(s.wallets),
		tiers:              maps.Clone(s.tiers),
		subscriptions:      maps.Clone(s.subscriptions),
		ledger:             slices.Clone(s.ledger),
		nextUserID:         s.nextUserID,
		nextTierID:         s.nextTierID,
		nextSubscriptionID: s.nextSubscriptionID,
		nextLedgerID:       s.nextLedgerID,
	}
}

// MemoryRepository хранит данные в памяти процесса. Используется, когда DATABASE_URI не задан, и в тестах.
// Транзакции сериализуются общим мьютексом и применяются к копии состояния, которая
// заменяет текущее только при успешном завершении.
type MemoryRepository struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			users:         make(map[int64]model.User),
			wallets:       make(map[int64]model.Wallet),
			tiers:         make(map[int64]model.Tier),
			subscriptions: make(map[int64]model.Subscription),
		},
	}
}

// Close не освобождает ресурсов.
func (r *MemoryRepository) Close() error {
	return nil
}

// WithTx выполняет fn атомарно относительно всех остальных операций хранилища.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUser(_ context.Context, userID int64) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.state.users[userID]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

// GetWallet возвращает кошелёк пользователя.
func (r *MemoryRepository) GetWallet(_ context.Context, userID int64) (model.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.state.wallets[userID]
	if !ok {
		return model.Wallet{}, ErrNotFound
	}
	return w, nil
}

// GetSubscription возвращает подписку по идентификатору.
func (r *MemoryRepository) GetSubscription(_ context.Context, subscriptionID int64) (model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.state.subscriptions[subscriptionID]
	if !ok {
		return model.Subscription{}, ErrNotFound
	}
	return s, nil
}

// ListDueSubscriptions возвращает страницу активных подписок с end_date <= AsOf в порядке возрастания id.
func (r *MemoryRepository) ListDueSubscriptions(_ context.Context, page DuePage) ([]model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Subscription
	for _, s := range r.state.subscriptions {
		if s.ID > page.AfterID && s.IsDue(page.AsOf) {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	if page.Limit > 0 && len(res) > page.Limit {
		res = res[:page.Limit]
	}
	return res, nil
}

// ListSubscriptions возвращает подписки подписчика, при непустом status только в этом статусе.
func (r *MemoryRepository) ListSubscriptions(_ context.Context, subscriberID int64, status model.SubscriptionStatus) ([]model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Subscription
	for _, s := range r.state.subscriptions {
		if s.SubscriberID == subscriberID && (status == "" || s.Status == status) {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

// ListTiers возвращает уровни автора по убыванию цены с количеством активных подписчиков.
func (r *MemoryRepository) ListTiers(_ context.Context, creatorID int64) ([]model.TierSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.TierSummary
	for _, t := range r.state.tiers {
		if t.CreatorID == creatorID {
			res = append(res, model.TierSummary{
				Tier:              t,
				ActiveSubscribers: r.state.activeSubscribers(t.ID),
			})
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].PointsPrice != res[j].PointsPrice {
			return res[i].PointsPrice > res[j].PointsPrice
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// HasMessagePermission сообщает, есть ли у подписчика активная подписка на уровень автора с правом переписки.
func (r *MemoryRepository) HasMessagePermission(_ context.Context, subscriberID, creatorID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.state.subscriptions {
		if s.SubscriberID != subscriberID || s.CreatorID != creatorID || !s.IsActive() {
			continue
		}
		if t, ok := r.state.tiers[s.TierID]; ok && t.MessagePermission {
			return true, nil
		}
	}
	return false, nil
}

// LedgerHistory возвращает записи журнала пользователя в обратном хронологическом порядке.
func (r *MemoryRepository) LedgerHistory(_ context.Context, userID, beforeID int64, limit int) ([]model.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.LedgerEntry
	for i := len(r.state.ledger) - 1; i >= 0; i-- {
		e := r.state.ledger[i]
		if e.UserID != userID || (beforeID != 0 && e.ID >= beforeID) {
			continue
		}
		res = append(res, e)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *memoryState) activeSubscribers(tierID int64) int {
	n := 0
	for _, sub := range s.subscriptions {
		if sub.TierID == tierID && sub.IsActive() {
			n++
		}
	}
	return n
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) CreateUser(_ context.Context, u *model.User) error {
	for _, existing := range t.state.users {
		if existing.Username == u.Username {
			return ErrAlreadyExists
		}
	}
	t.state.nextUserID++
	u.ID = t.state.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	t.state.users[u.ID] = *u
	return nil
}

func (t *memoryTx) LockUser(_ context.Context, userID int64) (model.User, error) {
	u, ok := t.state.users[userID]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (t *memoryTx) SetPayoutAccount(_ context.Context, userID int64, accountID string) error {
	u, ok := t.state.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PayoutAccountID = accountID
	t.state.users[userID] = u
	return nil
}

func (t *memoryTx) DeleteUser(_ context.Context, userID int64) error {
	if _, ok := t.state.users[userID]; !ok {
		return ErrNotFound
	}

	for id, tier := range t.state.tiers {
		if tier.CreatorID == userID {
			delete(t.state.tiers, id)
		}
	}
	for id, s := range t.state.subscriptions {
		if _, tierAlive := t.state.tiers[s.TierID]; s.SubscriberID == userID || s.CreatorID == userID || !tierAlive {
			delete(t.state.subscriptions, id)
		}
	}
	delete(t.state.wallets, userID)
	delete(t.state.users, userID)
	return nil
}

func (t *memoryTx) EnsureWallet(_ context.Context, userID int64) (model.Wallet, error) {
	if _, ok := t.state.users[userID]; !ok {
		return model.Wallet{}, ErrNotFound
	}
	w, ok := t.state.wallets[userID]
	if !ok {
		w = model.Wallet{UserID: userID}
		t.state.wallets[userID] = w
	}
	return w, nil
}

func (t *memoryTx) LockWallet(_ context.Context, userID int64) (model.Wallet, error) {
	w, ok := t.state.wallets[userID]
	if !ok {
		return model.Wallet{}, ErrNotFound
	}
	return w, nil
}

func (t *memoryTx) AddToBalance(_ context.Context, userID int64, delta int64) (model.Wallet, error) {
	w, ok := t.state.wallets[userID]
	if !ok {
		return model.Wallet{}, ErrNotFound
	}
	if delta > 0 && w.Balance > math.MaxInt64-delta {
		return model.Wallet{}, ErrBalanceOverflow
	}
	if w.Balance+delta < 0 {
		return model.Wallet{}, ErrInsufficientBalance
	}
	w.Balance += delta
	t.state.wallets[userID] = w
	return w, nil
}

func (t *memoryTx) CreateTier(_ context.Context, tier *model.Tier) error {
	if _, ok := t.state.users[tier.CreatorID]; !ok {
		return ErrNotFound
	}
	for _, existing := range t.state.tiers {
		if existing.CreatorID == tier.CreatorID && existing.Name == tier.Name {
			return ErrAlreadyExists
		}
	}
	t.state.nextTierID++
	tier.ID = t.state.nextTierID
	if tier.CreatedAt.IsZero() {
		tier.CreatedAt = time.Now()
	}
	t.state.tiers[tier.ID] = *tier
	return nil
}

func (t *memoryTx) GetTier(_ context.Context, tierID int64) (model.Tier, error) {
	tier, ok := t.state.tiers[tierID]
	if !ok {
		return model.Tier{}, ErrNotFound
	}
	return tier, nil
}

func (t *memoryTx) LockTier(ctx context.Context, tierID int64) (model.Tier, error) {
	return t.GetTier(ctx, tierID)
}

func (t *memoryTx) CountTiers(_ context.Context, creatorID int64) (int, error) {
	n := 0
	for _, tier := range t.state.tiers {
		if tier.CreatorID == creatorID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) CountActiveSubscribers(_ context.Context, tierID int64) (int, error) {
	return t.state.activeSubscribers(tierID), nil
}

func (t *memoryTx) DeleteTier(_ context.Context, tierID int64) error {
	if _, ok := t.state.tiers[tierID]; !ok {
		return ErrNotFound
	}
	delete(t.state.tiers, tierID)
	for id, s := range t.state.subscriptions {
		if s.TierID == tierID {
			delete(t.state.subscriptions, id)
		}
	}
	return nil
}

func (t *memoryTx) LockSubscription(_ context.Context, subscriptionID int64) (model.Subscription, error) {
	s, ok := t.state.subscriptions[subscriptionID]
	if !ok {
		return model.Subscription{}, ErrNotFound
	}
	return s, nil
}

func (t *memoryTx) FindActiveSubscription(_ context.Context, subscriberID, creatorID int64) (*model.Subscription, error) {
	for _, s := range t.state.subscriptions {
		if s.SubscriberID == subscriberID && s.CreatorID == creatorID && s.IsActive() {
			return &s, nil
		}
	}
	return nil, nil
}

// InsertSubscription повторяет ограничения схемы PostgreSQL: уникальность активной подписки и корректный период.
func (t *memoryTx) InsertSubscription(ctx context.Context, s *model.Subscription) error {
	if !s.EndDate.After(s.StartDate) {
		return ErrInvalidPeriod
	}
	if s.IsActive() {
		existing, _ := t.FindActiveSubscription(ctx, s.SubscriberID, s.CreatorID)
		if existing != nil {
			return ErrDuplicateActiveSubscription
		}
	}
	t.state.nextSubscriptionID++
	s.ID = t.state.nextSubscriptionID
	t.state.subscriptions[s.ID] = *s
	return nil
}

func (t *memoryTx) UpdateSubscription(_ context.Context, s model.Subscription) error {
	if _, ok := t.state.subscriptions[s.ID]; !ok {
		return ErrNotFound
	}
	if !s.EndDate.After(s.StartDate) {
		return ErrInvalidPeriod
	}
	t.state.subscriptions[s.ID] = s
	return nil
}

func (t *memoryTx) LedgerSum(_ context.Context, userID int64) (int64, error) {
	var sum int64
	for _, e := range t.state.ledger {
		if e.UserID == userID && e.Kind.IsMonetary() {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (t *memoryTx) AppendLedger(_ context.Context, entries ...*model.LedgerEntry) error {
	for _, e := range entries {
		if e.ExternalReference != "" {
			for _, existing := range t.state.ledger {
				if existing.Kind == e.Kind && existing.ExternalReference == e.ExternalReference {
					return ErrDuplicateReference
				}
			}
		}
		t.state.nextLedgerID++
		e.ID = t.state.nextLedgerID
		t.state.ledger = append(t.state.ledger, *e)
	}
	return nil
}

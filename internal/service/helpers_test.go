package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
	"github.com/mmeshcher/subscription-engine/internal/validation"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []model.LedgerEntry
}

func (p *recordingPublisher) Publish(entries ...model.LedgerEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entries...)
}

func (p *recordingPublisher) Entries() []model.LedgerEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.LedgerEntry(nil), p.entries...)
}

type recordingMetrics struct {
	mu        sync.Mutex
	transfers map[model.LedgerKind]int64
	failures  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		transfers: make(map[model.LedgerKind]int64),
		failures:  make(map[string]int),
	}
}

func (m *recordingMetrics) ObserveTransfer(kind model.LedgerKind, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[kind] += amount
}

func (m *recordingMetrics) ObserveFailure(operation, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation+"/"+kind]++
}

type fixture struct {
	svc     *Service
	repo    *repository.MemoryRepository
	clock   *testClock
	pub     *recordingPublisher
	metrics *recordingMetrics
	refSeq  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:    repository.NewMemoryRepository(),
		clock:   newTestClock(),
		pub:     &recordingPublisher{},
		metrics: newRecordingMetrics(),
	}
	f.svc = NewService(f.repo,
		WithClock(f.clock.Now),
		WithPublisher(f.pub),
		WithMetrics(f.metrics),
	)
	return f
}

func (f *fixture) user(t *testing.T, name string, balance int64) model.User {
	t.Helper()

	u, err := f.svc.CreateUser(context.Background(), name, false, "")
	require.NoError(t, err)
	f.fund(t, u.ID, balance)
	return u
}

func (f *fixture) creator(t *testing.T, name string, balance int64) model.User {
	t.Helper()

	u, err := f.svc.CreateUser(context.Background(), name, true, "acct-"+name)
	require.NoError(t, err)
	f.fund(t, u.ID, balance)
	return u
}

func (f *fixture) fund(t *testing.T, userID, points int64) {
	t.Helper()
	if points == 0 {
		return
	}
	f.refSeq++
	_, err := f.svc.CreditPurchase(context.Background(), userID, points, fmt.Sprintf("pay-%d", f.refSeq))
	require.NoError(t, err)
}

func (f *fixture) tier(t *testing.T, creatorID int64, name string, price int64) model.Tier {
	t.Helper()

	tier, err := f.svc.CreateTier(context.Background(), creatorID, validation.TierInput{
		Name:              name,
		PointsPrice:       price,
		Description:       name + " tier",
		MessagePermission: true,
	})
	require.NoError(t, err)
	return tier
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()

	w, err := f.svc.Wallet(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) entries(t *testing.T, userID int64, kind model.LedgerKind) []model.LedgerEntry {
	t.Helper()

	var res []model.LedgerEntry
	for e, err := range f.svc.LedgerEntries(context.Background(), userID) {
		require.NoError(t, err)
		if e.Kind == kind {
			res = append(res, e)
		}
	}
	return res
}

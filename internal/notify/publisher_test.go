package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

type stubSender struct {
	mu        sync.Mutex
	responses []stubResponse
	batches   [][]Event
}

type stubResponse struct {
	status int
	retry  time.Duration
	err    error
}

func (s *stubSender) PostEvents(_ context.Context, events []Event) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	if len(s.responses) == 0 {
		return http.StatusAccepted, 0, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r.status, r.retry, r.err
}

func (s *stubSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type stubRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *stubRecorder) ObserveNotification(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[result]++
}

func (r *stubRecorder) count(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func TestPublisher_DeliversQueuedEntries(t *testing.T) {
	sender := &stubSender{}
	rec := &stubRecorder{}
	p := NewPublisher(sender, zap.NewNop(), rec, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Publish(
		model.LedgerEntry{ID: 1, UserID: 1, Kind: model.LedgerSubscribe, Amount: -500, TransferID: "xfer_1"},
		model.LedgerEntry{ID: 2, UserID: 2, Kind: model.LedgerSubscribe, Amount: 500, TransferID: "xfer_1"},
	)

	require.Eventually(t, func() bool { return rec.count("delivered") == 1 }, time.Second, 5*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.batches, 1)
	assert.Len(t, sender.batches[0], 2)
	assert.Equal(t, "xfer_1", sender.batches[0][1].TransferID)
}

func TestPublisher_RetriesAfterThrottle(t *testing.T) {
	sender := &stubSender{responses: []stubResponse{
		{status: http.StatusTooManyRequests, retry: 10 * time.Millisecond},
		{err: errors.New("connection refused")},
	}}
	rec := &stubRecorder{}
	p := NewPublisher(sender, zap.NewNop(), rec, 4)
	p.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Publish(model.LedgerEntry{ID: 1, UserID: 1, Kind: model.LedgerPurchase, Amount: 10})

	require.Eventually(t, func() bool { return rec.count("delivered") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, sender.calls())
}

func TestPublisher_GivesUpAfterRetries(t *testing.T) {
	failure := stubResponse{status: http.StatusBadGateway, err: errors.New("unexpected status: 502")}
	sender := &stubSender{responses: []stubResponse{failure, failure, failure}}
	rec := &stubRecorder{}
	p := NewPublisher(sender, zap.NewNop(), rec, 4)
	p.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Publish(model.LedgerEntry{ID: 1, UserID: 1, Kind: model.LedgerPurchase, Amount: 10})

	require.Eventually(t, func() bool { return rec.count("failed") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, maxDeliveryTries, sender.calls())
}

func TestPublisher_DropsWhenQueueIsFull(t *testing.T) {
	rec := &stubRecorder{}
	p := NewPublisher(&stubSender{}, zap.NewNop(), rec, 1)

	p.Publish(model.LedgerEntry{ID: 1})
	p.Publish(model.LedgerEntry{ID: 2})
	p.Publish()

	assert.Equal(t, 1, rec.count("dropped"))
	assert.Len(t, p.queue, 1)
}

func TestPublisher_DrainDeliversRemainingBatches(t *testing.T) {
	sender := &stubSender{}
	rec := &stubRecorder{}
	p := NewPublisher(sender, zap.NewNop(), rec, 4)

	p.Publish(model.LedgerEntry{ID: 1, Kind: model.LedgerRenew})
	p.Publish(model.LedgerEntry{ID: 2, Kind: model.LedgerRenewExpire})

	p.Drain(context.Background())

	assert.Equal(t, 2, rec.count("delivered"))
	assert.Equal(t, 2, sender.calls())
	assert.Empty(t, p.queue)
}

func TestPublisher_InterruptedDeliveryIsRequeued(t *testing.T) {
	sender := &stubSender{responses: []stubResponse{
		{status: http.StatusTooManyRequests, retry: time.Hour},
	}}
	rec := &stubRecorder{}
	p := NewPublisher(sender, zap.NewNop(), rec, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	p.Publish(model.LedgerEntry{ID: 1, Kind: model.LedgerRenew})
	require.Eventually(t, func() bool { return sender.calls() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, rec.count("failed"))
	require.Len(t, p.queue, 1)

	p.Drain(context.Background())
	assert.Equal(t, 1, rec.count("delivered"))
	assert.Equal(t, 2, sender.calls())
}

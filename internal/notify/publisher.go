package notify

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

const (
	defaultQueueSize  = 1024
	maxDeliveryTries  = 3
	defaultRetryDelay = time.Second
)

// Sender отправляет пачку уведомлений.
type Sender interface {
	PostEvents(ctx context.Context, events []Event) (int, time.Duration, error)
}

// Recorder учитывает результаты доставки: delivered, failed или dropped.
type Recorder interface {
	ObserveNotification(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveNotification(string) {}

// Publisher асинхронно доставляет записи журнала. Publish не блокирует вызывающего:
// при переполненной очереди пачка отбрасывается. Доставка не влияет на результат операций движка.
type Publisher struct {
	sender   Sender
	logger   *zap.Logger
	recorder Recorder
	queue    chan []Event

	retryDelay time.Duration
}

// NewPublisher создаёт издателя с очередью на queueSize пачек.
func NewPublisher(sender Sender, logger *zap.Logger, recorder Recorder, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		sender:   sender,
		logger:   logger,
		recorder: recorder,
		queue:    make(chan []Event, queueSize),

		retryDelay: defaultRetryDelay,
	}
}

// Publish ставит записи в очередь на отправку.
func (p *Publisher) Publish(entries ...model.LedgerEntry) {
	if len(entries) == 0 {
		return
	}
	events := make([]Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, EventFromEntry(e))
	}

	select {
	case p.queue <- events:
	default:
		p.recorder.ObserveNotification("dropped")
		p.logger.Warn("notification queue is full, events dropped", zap.Int("events", len(events)))
	}
}

// Run доставляет пачки из очереди, пока не отменён ctx. Пачка, доставка которой прервана
// отменой, возвращается в очередь.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-p.queue:
			if ctx.Err() != nil {
				p.requeue(events)
				return
			}
			p.deliver(ctx, events)
		}
	}
}

// Drain доставляет пачки, оставшиеся в очереди, и возвращается, когда очередь пуста
// или отменён ctx.
func (p *Publisher) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case events := <-p.queue:
			p.deliver(ctx, events)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, events []Event) {
	for attempt := 1; attempt <= maxDeliveryTries; attempt++ {
		status, retryAfter, err := p.sender.PostEvents(ctx, events)
		if err == nil && status != http.StatusTooManyRequests {
			p.recorder.ObserveNotification("delivered")
			return
		}
		if ctx.Err() != nil {
			p.requeue(events)
			return
		}
		if err != nil {
			p.logger.Warn("notification delivery failed",
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
		if attempt == maxDeliveryTries {
			break
		}

		if retryAfter <= 0 {
			retryAfter = p.retryDelay * time.Duration(attempt)
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.requeue(events)
			return
		case <-timer.C:
		}
	}

	p.recorder.ObserveNotification("failed")
	p.logger.Error("notification dropped after retries", zap.Int("events", len(events)))
}

func (p *Publisher) requeue(events []Event) {
	select {
	case p.queue <- events:
	default:
		p.recorder.ObserveNotification("dropped")
		p.logger.Warn("notification queue is full, interrupted delivery dropped", zap.Int("events", len(events)))
	}
}

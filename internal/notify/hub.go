package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type HubOptions struct {
	Workers int
	Buffer  int
	// Timeout bounds a single delivery to a single channel.
	Timeout time.Duration
}

// lane is one channel with its own queue and workers, so a backlog or
// failure on one channel never delays or drops deliveries on another.
type lane struct {
	ch    Channel
	cb    *gobreaker.CircuitBreaker[struct{}]
	inbox chan Notification
}

var ErrHubClosed = errors.New("notification hub closed")

// Hub fans notifications out to its channels on background workers. Publish
// only enqueues, so order creation never waits on delivery.
type Hub struct {
	lanes   []*lane
	workers int
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewHub builds a hub. Workers and Buffer apply to each channel.
func NewHub(log *zap.Logger, opts HubOptions, channels ...Channel) *Hub {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	h := &Hub{
		workers: opts.Workers,
		timeout: opts.Timeout,
		log:     log,
		now:     time.Now,
	}
	for _, ch := range channels {
		name := ch.Name()
		h.lanes = append(h.lanes, &lane{
			ch:    ch,
			inbox: make(chan Notification, opts.Buffer),
			cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
				Name:        "notify-" + name,
				MaxRequests: 1,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
				OnStateChange: func(n string, from, to gobreaker.State) {
					log.Warn("notification channel breaker", zap.String("channel", name),
						zap.String("from", from.String()), zap.String("to", to.String()))
				},
			}),
		})
	}
	return h
}

// Publish implements orders.Publisher.
func (h *Hub) Publish(o orders.Order) {
	h.Enqueue(NewOrder(o, h.now()))
}

// Enqueue hands n to every channel without blocking. It reports false when
// the hub is closed or at least one channel's queue was full; the other
// channels still get n.
func (h *Hub) Enqueue(n Notification) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}
	accepted := true
	for _, l := range h.lanes {
		select {
		case l.inbox <- n:
		default:
			accepted = false
			h.log.Error("notification queue full, dropping",
				zap.String("channel", l.ch.Name()),
				zap.String("notification_id", n.ID),
				zap.String("kind", string(n.Kind)))
		}
	}
	return accepted
}

// Submit is the blocking form of Enqueue: it waits for room on every channel
// queue. Consumers that can apply backpressure use it instead of dropping.
func (h *Hub) Submit(ctx context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	for _, l := range h.lanes {
		select {
		case l.inbox <- n:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Start launches the workers. Deliveries keep ctx values but not its
// cancellation, so Close can drain the queues after shutdown begins.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	base := context.WithoutCancel(ctx)
	for _, l := range h.lanes {
		for i := 0; i < h.workers; i++ {
			h.wg.Add(1)
			go func(l *lane) {
				defer h.wg.Done()
				for n := range l.inbox {
					h.deliver(base, l, n)
				}
			}(l)
		}
	}
}

// Close stops intake and waits for queued notifications to be delivered.
func (h *Hub) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		for _, l := range h.lanes {
			close(l.inbox)
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) deliver(ctx context.Context, l *lane, n Notification) {
	log := h.log.With(
		zap.String("channel", l.ch.Name()),
		zap.String("notification_id", n.ID),
		zap.String("kind", string(n.Kind)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("notification channel panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err := l.cb.Execute(func() (struct{}, error) {
		return struct{}{}, l.ch.Deliver(ctx, n)
	})
	if err != nil {
		log.Error("notification delivery failed", zap.Error(err))
	}
}

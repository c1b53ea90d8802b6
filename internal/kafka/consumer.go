package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil once the message is processed. A non-nil error is
// retried with backoff, so handlers return nil for messages no retry can fix.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          messageReader
	workers    int
	log        *zap.Logger
	backoff    time.Duration
	maxBackoff time.Duration

	// offsets are committed per partition in fetch order; a handled
	// message waits in done until every earlier offset is handled too.
	mu        sync.Mutex
	pending   map[int][]int64
	done      map[int]map[int64]kafka.Message
	committed map[int]int64
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:          r,
		workers:    workers,
		log:        log,
		backoff:    100 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		pending:    map[int][]int64{},
		done:       map[int]map[int64]kafka.Message{},
		committed:  map[int]int64{},
	}
}

// Start fetches messages and fans them out to the worker pool until ctx is
// cancelled. A failed message is retried until it succeeds; offsets after it
// stay uncommitted meanwhile, so a restart redelivers it.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, h, m)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.track(m)
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	log := c.log.With(zap.String("topic", m.Topic), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
	wait := c.backoff
	for {
		err := h(ctx, m)
		if err == nil {
			break
		}
		log.Error("handle message", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
		wait = min(wait*2, c.maxBackoff)
	}
	c.complete(ctx, log, m)
}

func (c *Consumer) track(m kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[m.Partition] = append(c.pending[m.Partition], m.Offset)
}

// complete marks m handled and commits the partition up to the newest
// offset with no unhandled message before it.
func (c *Consumer) complete(ctx context.Context, log *zap.Logger, m kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handled := c.done[m.Partition]
	if handled == nil {
		handled = map[int64]kafka.Message{}
		c.done[m.Partition] = handled
	}
	handled[m.Offset] = m

	var (
		upTo  kafka.Message
		ready bool
	)
	queue := c.pending[m.Partition]
	for len(queue) > 0 {
		hm, ok := handled[queue[0]]
		if !ok {
			break
		}
		delete(handled, queue[0])
		upTo, ready = hm, true
		queue = queue[1:]
	}
	c.pending[m.Partition] = queue
	if !ready {
		return
	}
	if last, ok := c.committed[upTo.Partition]; ok && last >= upTo.Offset {
		return
	}
	if err := c.r.CommitMessages(ctx, upTo); err != nil {
		if ctx.Err() == nil {
			log.Error("commit message", zap.Error(err))
		}
		return
	}
	c.committed[upTo.Partition] = upTo.Offset
}

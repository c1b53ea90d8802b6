package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func runConsumer(t *testing.T, c *Consumer, h Handler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return func() {
		stop()
		require.NoError(t, <-done)
	}
}

func TestConsumer_RetriesFailedMessageBeforeCommittingPastIt(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 4)}
	for i := int64(0); i < 4; i++ {
		r.msgs <- kafka.Message{Offset: i, Value: []byte{byte(i)}}
	}
	c := newConsumer(r, 2, zap.NewNop())
	c.backoff = time.Millisecond

	var attempts atomic.Int32
	stop := runConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Offset == 2 && attempts.Add(1) < 3 {
			return errors.New("hub busy")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		got := r.commits()
		return len(got) > 0 && got[len(got)-1] == 3
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, int32(3), attempts.Load())
	assert.IsIncreasing(t, r.commits())
	assert.True(t, r.closed)
}

func TestConsumer_HoldsBackOffsetsAfterUnhandledMessage(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 4)}
	for i := int64(0); i < 4; i++ {
		r.msgs <- kafka.Message{Partition: 1, Offset: i}
	}
	c := newConsumer(r, 2, zap.NewNop())
	c.backoff = time.Millisecond

	var handled atomic.Int32
	stop := runConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Offset == 1 {
			return errors.New("still failing")
		}
		handled.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return handled.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()

	assert.Equal(t, []int64{0}, r.commits(), "nothing past the failing offset is committed")
}

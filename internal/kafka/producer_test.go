package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
	fail   bool
	block  chan struct{}
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 16, zap.NewNop())
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, p.Publish("order.created", []byte("k"), []byte{byte(i)}))
	}
	p.Close()
	p.Close()
	p.WaitClosed()

	msgs := w.written()
	require.Len(t, msgs, 5)
	assert.Equal(t, "order.created", msgs[0].Topic)
	assert.True(t, w.closed)
	assert.False(t, p.Publish("order.created", nil, nil), "publish after close is dropped")
}

func TestProducer_ContextCancelCloses(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	p.Publish("t", nil, []byte("x"))
	cancel()
	p.WaitClosed()
	assert.Len(t, w.written(), 1)
}

func TestProducer_FullInboxDropsInsteadOfBlocking(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	p := newProducer(w, 1, zap.NewNop())
	p.Start(context.Background())

	accepted := 0
	for i := 0; i < 10; i++ {
		if p.Publish("t", nil, []byte("x")) {
			accepted++
		}
	}
	assert.Less(t, accepted, 10)

	close(w.block)
	p.Close()
	p.WaitClosed()
	assert.Len(t, w.written(), accepted)
}

func TestProducer_WriteErrorsAreSwallowed(t *testing.T) {
	w := &fakeWriter{fail: true}
	p := newProducer(w, 4, zap.NewNop())
	p.Start(context.Background())
	p.Publish("t", nil, []byte("x"))
	p.Close()
	p.WaitClosed()
	assert.Empty(t, w.written())
}

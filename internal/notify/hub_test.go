package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChannel struct {
	name  string
	err   error
	delay time.Duration

	mu  sync.Mutex
	got []Notification
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(ctx context.Context, n Notification) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return c.err
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, event []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, event)
	return nil
}

func TestHub_FailingChannelDoesNotAffectOthers(t *testing.T) {
	broken := &fakeChannel{name: "broken", err: errors.New("socket gone")}
	ok := &fakeChannel{name: "ok"}
	h := NewHub(zap.NewNop(), HubOptions{Workers: 1}, broken, ok)
	h.Start(context.Background())

	for i := 0; i < 8; i++ {
		h.Publish(sampleOrder())
	}
	h.Close()

	assert.Equal(t, 8, ok.count())
	// breaker opens after five consecutive failures
	assert.Equal(t, 5, broken.count())
}

func TestHub_SlowChannelTimesOut(t *testing.T) {
	slow := &fakeChannel{name: "slow", delay: time.Second}
	fast := &fakeChannel{name: "fast"}
	h := NewHub(zap.NewNop(), HubOptions{Timeout: 20 * time.Millisecond}, slow, fast)
	h.Start(context.Background())

	start := time.Now()
	h.Publish(sampleOrder())
	h.Close()

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, fast.count())
	assert.Equal(t, 0, slow.count())
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	slow := &fakeChannel{name: "slow", delay: 50 * time.Millisecond}
	h := NewHub(zap.NewNop(), HubOptions{Workers: 1, Buffer: 2}, slow)
	h.Start(context.Background())

	start := time.Now()
	for i := 0; i < 20; i++ {
		h.Publish(sampleOrder())
	}
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	h.Close()

	assert.False(t, h.Enqueue(numbered(1)), "closed hub drops")
	h.Close()
}

func TestHub_FansOutToStoreAndPush(t *testing.T) {
	store := NewMemoryStore()
	push := &fakeBroadcaster{}
	h := NewHub(zap.NewNop(), HubOptions{Workers: 2},
		PushChannel{Broadcaster: push},
		StoreChannel{Store: store, Admins: StaticDirectory{"admin-1", "admin-2"}},
	)
	h.Start(context.Background())
	h.Publish(sampleOrder())
	h.Close()

	for _, id := range []string{"admin-1", "admin-2"} {
		got, err := store.List(context.Background(), id, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "BLD-2026-000006", got[0].NewOrder.OrderNumber)
	}
	require.Len(t, push.frames, 1)
	assert.Contains(t, string(push.frames[0]), `"event":"new_order"`)
}

func TestHub_SlowChannelDoesNotStarveFastOne(t *testing.T) {
	slow := &fakeChannel{name: "push", delay: 200 * time.Millisecond}
	fast := &fakeChannel{name: "store"}
	h := NewHub(zap.NewNop(), HubOptions{Workers: 1, Buffer: 2, Timeout: time.Second}, slow, fast)
	h.Start(context.Background())

	for i := 0; i < 20; i++ {
		h.Enqueue(numbered(i))
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 20, fast.count(), "fast channel keeps up while the slow one backs up")
	h.Close()

	assert.Equal(t, 20, fast.count())
	assert.Less(t, slow.count(), 20)
}

type panickingChannel struct{}

func (panickingChannel) Name() string { return "panicky" }

func (panickingChannel) Deliver(context.Context, Notification) error { panic("nil directory") }

func TestHub_PanickingChannelIsContained(t *testing.T) {
	ok := &fakeChannel{name: "ok"}
	h := NewHub(zap.NewNop(), HubOptions{}, panickingChannel{}, ok)
	h.Start(context.Background())

	for i := 0; i < 3; i++ {
		h.Publish(sampleOrder())
	}
	h.Close()

	assert.Equal(t, 3, ok.count())
}

func TestHub_SubmitWaitsForRoom(t *testing.T) {
	ch := &fakeChannel{name: "store"}
	h := NewHub(zap.NewNop(), HubOptions{Buffer: 1}, ch)

	require.NoError(t, h.Submit(context.Background(), numbered(1)))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Submit(ctx, numbered(2)), context.DeadlineExceeded)

	h.Start(context.Background())
	require.NoError(t, h.Submit(context.Background(), numbered(3)))
	h.Close()
	assert.Equal(t, 2, ch.count())
	assert.ErrorIs(t, h.Submit(context.Background(), numbered(4)), ErrHubClosed)
}

package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serveHub(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, r.URL.Query().Get("id"))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(b)
}

func TestHub_BroadcastReachesConnectedSubscribers(t *testing.T) {
	h := NewHub(zap.NewNop())
	url := serveHub(t, h)

	a := dial(t, url+"?id=a")
	b := dial(t, url+"?id=b")
	require.Eventually(t, func() bool { return h.Clients() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Broadcast(context.Background(), []byte(`{"event":"new_order"}`)))
	assert.Equal(t, `{"event":"new_order"}`, readFrame(t, a))
	assert.Equal(t, `{"event":"new_order"}`, readFrame(t, b))
}

func TestHub_NoReplayForLateSubscribers(t *testing.T) {
	h := NewHub(zap.NewNop())
	url := serveHub(t, h)

	require.NoError(t, h.Broadcast(context.Background(), []byte("early")))
	late := dial(t, url+"?id=late")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Broadcast(context.Background(), []byte("later")))

	assert.Equal(t, "later", readFrame(t, late))
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	h := NewHub(zap.NewNop())
	url := serveHub(t, h)

	conn := dial(t, url+"?id=a")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	_ = conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.NoError(t, h.Broadcast(context.Background(), []byte("nobody listening")))
}

func TestRelay_ForwardsBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}

	// two API instances sharing one Redis
	hubA, hubB := NewHub(zap.NewNop()), NewHub(zap.NewNop())
	relayA := NewRelay(newClient(), hubA, zap.NewNop())
	relayB := NewRelay(newClient(), hubB, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))

	conn := dial(t, serveHub(t, hubB)+"?id=admin-1")
	require.Eventually(t, func() bool { return hubB.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, relayA.Broadcast(ctx, []byte(`{"event":"new_order"}`)))
	assert.Equal(t, `{"event":"new_order"}`, readFrame(t, conn))

	cancel()
	select {
	case <-relayA.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

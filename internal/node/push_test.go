package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type eventSink struct {
	mu     sync.Mutex
	events []types.PushEvent
	seen   chan struct{}
}

func newSink() *eventSink {
	return &eventSink{seen: make(chan struct{}, 64)}
}

func (s *eventSink) handle(evt types.PushEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	s.seen <- struct{}{}
}

func (s *eventSink) wait(t *testing.T, n int) []types.PushEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for received := 0; received < n; {
		select {
		case <-s.seen:
			received++
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.PushEvent{}, s.events...)
}

func startListener(t *testing.T, url string, sink *eventSink) (cancel func(), done chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	listener := NewListener(url, sink.handle, monitoring.NewMetricsWith(prometheus.NewRegistry()), logging.NewNop())
	done = make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()
	return stop, done
}

func waitStopped(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerDispatchesInOrder(t *testing.T) {
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, msg := range []string{
			`{"kind":"progress","data":{"package_id":"chat:alice.os","version_hash":"aa","downloaded":10,"total":100}}`,
			`not json at all`,
			`{"kind":"heartbeat","data":{}}`,
			`{"kind":"progress","data":{"package_id":"chat:alice.os","version_hash":"aa","downloaded":50,"total":100}}`,
			`{"kind":"complete","data":{"package_id":"chat:alice.os","version_hash":"aa"}}`,
		} {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		}
		<-stop
	}))

	sink := newSink()
	cancel, done := startListener(t, wsURL(srv), sink)

	events := sink.wait(t, 3)
	require.Len(t, events, 3, "malformed and unknown messages are dropped")
	assert.Equal(t, types.KindProgress, events[0].Kind)
	assert.Equal(t, types.KindProgress, events[1].Kind)
	assert.Equal(t, types.KindComplete, events[2].Kind)

	var first types.ProgressData
	require.NoError(t, json.Unmarshal(events[0].Data, &first))
	assert.Equal(t, uint64(10), first.Downloaded)
	var second types.ProgressData
	require.NoError(t, json.Unmarshal(events[1].Data, &second))
	assert.Equal(t, uint64(50), second.Downloaded, "arrival order preserved")

	cancel()
	waitStopped(t, done)
	close(stop)
	srv.Close()
}

func TestListenerRedialsAfterDrop(t *testing.T) {
	var conns int32
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		if atomic.AddInt32(&conns, 1) == 1 {
			conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"kind":"progress","data":{"package_id":"chat:alice.os","version_hash":"aa","downloaded":1,"total":2}}`))
			return
		}
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"kind":"complete","data":{"package_id":"chat:alice.os","version_hash":"aa"}}`))
		<-stop
	}))

	sink := newSink()
	cancel, done := startListener(t, wsURL(srv), sink)

	events := sink.wait(t, 2)
	assert.Equal(t, types.KindProgress, events[0].Kind)
	assert.Equal(t, types.KindComplete, events[1].Kind)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&conns), int32(2))

	cancel()
	waitStopped(t, done)
	close(stop)
	srv.Close()
}

func TestListenerStopsWhileDialing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusNotFound)
	}))
	defer srv.Close()

	sink := newSink()
	cancel, done := startListener(t, wsURL(srv), sink)

	time.Sleep(50 * time.Millisecond)
	cancel()
	waitStopped(t, done)
	assert.Empty(t, sink.events)
}

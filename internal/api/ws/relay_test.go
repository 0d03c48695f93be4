package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

type relayMessage struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func startRelay(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(monitoring.NewMetricsWith(prometheus.NewRegistry()), logging.NewNop())
	handler := NewHandler(hub, monitoring.NewMetricsWith(prometheus.NewRegistry()), logging.NewNop())

	router := gin.New()
	router.GET("/ws", handler.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialRelay(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) relayMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg relayMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRelayGreetsSubscriber(t *testing.T) {
	_, srv := startRelay(t)
	conn := dialRelay(t, srv)

	hello := readMessage(t, conn)
	assert.Equal(t, "hello", hello.Kind)
	assert.Contains(t, string(hello.Data), "conn_")
}

func TestRelayBroadcastsToAllSubscribers(t *testing.T) {
	hub, srv := startRelay(t)
	first := dialRelay(t, srv)
	second := dialRelay(t, srv)
	readMessage(t, first)
	readMessage(t, second)

	require.Eventually(t, func() bool { return hub.Count() == 2 },
		2*time.Second, 10*time.Millisecond)

	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	hub.Broadcast(types.KindProgress, types.ProgressData{
		PackageID:   pkg,
		VersionHash: "deadbeef",
		Downloaded:  512,
		Total:       2048,
	})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, types.KindProgress, msg.Kind)

		var p types.ProgressData
		require.NoError(t, json.Unmarshal(msg.Data, &p))
		assert.Equal(t, pkg, p.PackageID)
		assert.Equal(t, uint64(512), p.Downloaded)
	}
}

func TestRelayAnswersPing(t *testing.T) {
	_, srv := startRelay(t)
	conn := dialRelay(t, srv)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"kind": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Kind)
}

func TestRelayDropsDeadSubscribers(t *testing.T) {
	hub, srv := startRelay(t)
	stays := dialRelay(t, srv)
	leaves := dialRelay(t, srv)
	readMessage(t, stays)
	readMessage(t, leaves)

	require.Eventually(t, func() bool { return hub.Count() == 2 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, leaves.Close())
	require.Eventually(t, func() bool { return hub.Count() == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.Broadcast(types.KindComplete, types.CompleteData{
		PackageID:   types.PackageID{Name: "chat", Publisher: "alice.os"},
		VersionHash: "deadbeef",
	})
	assert.Equal(t, types.KindComplete, readMessage(t, stays).Kind)
}

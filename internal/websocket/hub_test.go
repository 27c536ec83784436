package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func startHub(t *testing.T, hub *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	var clients atomic.Int32
	hub.OnClientsChanged = func(count int) { clients.Store(int32(count)) }
	startHub(t, hub)
	url := newTestServer(t, hub)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), clients.Load())

	hub.Publish(EventStoreLoaded, map[string]int{"total": 3})

	event := readEvent(t, conn)
	assert.Equal(t, EventStoreLoaded, event.Type)
	assert.JSONEq(t, `{"total":3}`, string(event.Data))
	assert.False(t, event.Timestamp.IsZero())
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub(nil, nil)
	startHub(t, hub)
	url := newTestServer(t, hub)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Event{Type: EventSubscribe, Topics: []EventType{EventAlert}}))
	ack := readEvent(t, conn)
	assert.Equal(t, EventSubscribed, ack.Type)
	assert.Equal(t, []EventType{EventAlert}, ack.Topics)

	// 未订阅的事件不会送达
	hub.Publish(EventStoreLoaded, nil)
	hub.Publish(EventAlert, map[string]string{"id": "queue_size"})

	event := readEvent(t, conn)
	assert.Equal(t, EventAlert, event.Type)
}

func TestHubSubscribeUnknownTopic(t *testing.T) {
	hub := NewHub(nil, nil)
	startHub(t, hub)
	url := newTestServer(t, hub)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(Event{Type: EventSubscribe, Topics: []EventType{"mailbox"}}))

	event := readEvent(t, conn)
	assert.Equal(t, EventError, event.Type)
	assert.Contains(t, event.Error, "unknown topic")
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(nil, nil)
	startHub(t, hub)
	url := newTestServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWebSocketAuthorize(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Authorize = func(r *http.Request) bool {
		return r.URL.Query().Get("key") == "secret"
	}
	startHub(t, hub)
	url := newTestServer(t, hub)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dial(t, url+"?key=secret")
	assert.NotNil(t, conn)
}

func TestUpgraderOrigin(t *testing.T) {
	upgrader := upgraderFactory([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, upgrader.CheckOrigin(req))

	assert.True(t, upgraderFactory([]string{"*"}).CheckOrigin(req))
}

package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// EventType 队列事件类型
type EventType string

const (
	EventStoreLoaded      EventType = "store_loaded"
	EventSelectionChanged EventType = "selection_changed"
	EventOperationApplied EventType = "operation_applied"
	EventAlert            EventType = "alert"

	EventPing        EventType = "ping"
	EventPong        EventType = "pong"
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventSubscribed  EventType = "subscribed"
	EventError       EventType = "error"
)

// Event 定义 WebSocket 消息结构
type Event struct {
	Type      EventType       `json:"type"`
	Topics    []EventType     `json:"topics,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// publishable 客户端可以订阅的事件
var publishable = map[EventType]bool{
	EventStoreLoaded:      true,
	EventSelectionChanged: true,
	EventOperationApplied: true,
	EventAlert:            true,
}

// Client 代表一个 WebSocket 客户端连接
type Client struct {
	ID     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	topics map[EventType]bool // 为空表示接收全部事件
	mu     sync.RWMutex
	log    *zap.Logger
}

// wants 客户端是否订阅了该事件
func (c *Client) wants(eventType EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics) == 0 || c.topics[eventType]
}

// Hub 管理所有 WebSocket 连接并广播队列事件
type Hub struct {
	clients        map[string]*Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *Event
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string

	// Authorize 为 nil 时不做认证
	Authorize func(r *http.Request) bool
	// OnClientsChanged 客户端数量变化时回调
	OnClientsChanged func(count int)
}

// NewHub 创建 WebSocket Hub
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *Event, 256),
		log:            log,
		allowedOrigins: allowedOrigins,
	}
}

// Run 启动 Hub，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.clientsChanged(count)
			h.log.Info("client registered", zap.String("id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID]
			if ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.clientsChanged(count)
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-ticker.C:
			h.broadcastEvent(&Event{Type: EventPing, Timestamp: time.Now()})
		}
	}
}

// Publish 广播事件，不阻塞调用方；队列已满时丢弃
func (h *Hub) Publish(eventType EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal event data", zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	event := &Event{Type: eventType, Data: data, Timestamp: time.Now()}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("event queue full, dropping event", zap.String("type", string(eventType)))
	}
}

// ClientCount 返回当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) clientsChanged(count int) {
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(count)
	}
}

// broadcastEvent 向订阅了该事件的客户端发送
func (h *Hub) broadcastEvent(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	for _, client := range h.clients {
		if event.Type != EventPing && !client.wants(event.Type) {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.clientsChanged(0)
}

// HandleWebSocket 处理 WebSocket 连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		if hub.Authorize != nil && !hub.Authorize(c.Request) {
			hub.log.Warn("websocket authentication failed", zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			conn:   conn,
			hub:    hub,
			send:   make(chan []byte, 256),
			topics: make(map[EventType]bool),
			log:    hub.log,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var event Event
		if err := c.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}
		c.handleEvent(&event)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent 处理客户端发来的消息
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventSubscribe:
		for _, topic := range event.Topics {
			if !publishable[topic] {
				c.sendError("unknown topic: " + string(topic))
				return
			}
		}
		c.mu.Lock()
		for _, topic := range event.Topics {
			c.topics[topic] = true
		}
		c.mu.Unlock()
		c.sendEvent(&Event{Type: EventSubscribed, Topics: c.subscribedTopics(), Timestamp: time.Now()})

	case EventUnsubscribe:
		c.mu.Lock()
		for _, topic := range event.Topics {
			delete(c.topics, topic)
		}
		c.mu.Unlock()
		c.sendEvent(&Event{Type: EventSubscribed, Topics: c.subscribedTopics(), Timestamp: time.Now()})

	case EventPong:
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	default:
		c.log.Warn("unknown message type", zap.String("type", string(event.Type)))
	}
}

func (c *Client) subscribedTopics() []EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]EventType, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	return topics
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendEvent(&Event{Type: EventError, Error: errMsg, Timestamp: time.Now()})
}

// sendEvent 发送消息给客户端
func (c *Client) sendEvent(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}

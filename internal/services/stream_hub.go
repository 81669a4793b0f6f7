package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamMessage 推送给客户端的实时消息
type StreamMessage struct {
	Type      string      `json:"type"` // execution, notification
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan StreamMessage
	hub  *StreamHub
}

// StreamHub broadcasts execution updates and notifications to connected
// websocket clients. Consumers are observers only; nothing in the
// engine depends on a client being connected.
type StreamHub struct {
	clients    map[string]*streamClient
	broadcast  chan StreamMessage
	register   chan *streamClient
	unregister chan *streamClient
	mutex      sync.RWMutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要验证源
	},
}

func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients:    make(map[string]*streamClient),
		broadcast:  make(chan StreamMessage, 64),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
	}
}

func (h *StreamHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			logrus.Infof("stream client %s connected", client.id)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				logrus.Infof("stream client %s disconnected", client.id)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			// 丢弃慢客户端会修改 clients，需要写锁
			h.mutex.Lock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 客户端写入阻塞则丢弃该连接
					close(client.send)
					delete(h.clients, client.id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Broadcast queues a message to every connected client; drops it when
// the broadcast buffer is full rather than blocking the engine.
func (h *StreamHub) Broadcast(msg StreamMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *StreamHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and attaches the client.
func (h *StreamHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Warnf("websocket upgrade failed: %v", err)
		return
	}
	client := &streamClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan StreamMessage, 16),
		hub:  h,
	}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

func (c *streamClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump drains client frames so pings/closes are handled.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

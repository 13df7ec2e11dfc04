package web

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradebook/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源（生产环境应该限制）
	},
}

// WebSocketHub WebSocket 中心
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWebSocketHub 创建并启动 WebSocket 中心
func NewWebSocketHub() *WebSocketHub {
	h := &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
	go h.run()
	return h
}

// run 运行 WebSocket 中心
func (h *WebSocketHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastJSON 广播 JSON 消息给所有客户端
func (h *WebSocketHub) BroadcastJSON(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// 队列满了，丢弃消息
	}
}

// handleWebSocket 处理 WebSocket 连接
// 默认推送持仓变化，?subscribe_logs=true 时额外推送日志。
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s.hub.register <- conn

	var logCh chan *storage.LogRecord
	if c.Query("subscribe_logs") == "true" && s.logStorage != nil {
		logCh = s.logStorage.Subscribe()
		defer s.logStorage.Unsubscribe(logCh)
	}

	if logCh != nil {
		go func() {
			for record := range logCh {
				message := map[string]interface{}{
					"type": "log",
					"data": record,
				}
				data, err := json.Marshal(message)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}()
	}

	// 保持连接，忽略客户端消息
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.unregister <- conn
			break
		}
	}
}

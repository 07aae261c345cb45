package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/ladder"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由上层 API 的 token 校验负责
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Channel 事件频道
const (
	ChannelLog    = "log"
	ChannelStatus = "status"
	ChannelCycle  = "cycle"
	ChannelOrders = "orders"
)

// Message 推送给客户端的消息
type Message struct {
	Channel string    `json:"channel"`
	Data    any       `json:"data"`
	Time    time.Time `json:"time"`
}

type subscribeRequest struct {
	Op       string   `json:"op"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

// Hub 把引擎事件实时推送给 websocket 客户端
// 客户端没有订阅任何频道时接收全部事件
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

type wsClient struct {
	hub  *Hub
	id   string
	conn *websocket.Conn
	send chan []byte

	subsMu sync.RWMutex
	subs   map[string]bool
}

func (c *wsClient) wants(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subs) == 0 || c.subs[channel]
}

// ServeHTTP 升级为 websocket 连接
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sinkLog.Warnf("[ws] upgrade 失败: %v", err)
		return
	}
	c := &wsClient{hub: h, id: uuid.NewString()[:8], conn: conn, send: make(chan []byte, sendBuffer), subs: map[string]bool{}}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	sinkLog.Debugf("[ws] 客户端连接: %s (total: %d)", c.id, total)

	go c.writePump()
	go c.readPump()
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		sinkLog.Debugf("[ws] 客户端断开: %s (total: %d)", c.id, len(h.clients))
	}
	h.mu.Unlock()
}

// Broadcast 推送到订阅了该频道的客户端；缓冲满的客户端被断开
func (h *Hub) Broadcast(channel string, data any) {
	msg, err := json.Marshal(Message{Channel: channel, Data: data, Time: time.Now()})
	if err != nil {
		sinkLog.Warnf("[ws] marshal 失败: %v", err)
		return
	}

	var slow []*wsClient
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c)
	}
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		close(c.send)
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sinkLog.Debugf("[ws] read error: %v", err)
			}
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		c.subsMu.Lock()
		for _, ch := range req.Channels {
			switch req.Op {
			case "subscribe":
				c.subs[ch] = true
			case "unsubscribe":
				delete(c.subs, ch)
			}
		}
		c.subsMu.Unlock()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) OnLog(msg string, level Level) {
	h.Broadcast(ChannelLog, Entry{Time: time.Now(), Level: level, Message: msg})
}

func (h *Hub) OnStatusChange(accountID string, status domain.Status) {
	h.Broadcast(ChannelStatus, map[string]any{"accountId": accountID, "status": status})
}

func (h *Hub) OnCycleComplete(index int, duration time.Duration) {
	h.Broadcast(ChannelCycle, map[string]any{"cycle": index, "durationMs": duration.Milliseconds()})
}

func (h *Hub) OnOrdersComplete(results []ladder.Result) {
	h.Broadcast(ChannelOrders, results)
}

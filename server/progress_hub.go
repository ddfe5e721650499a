package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ssebide/music-platform/core/auth"
	"github.com/ssebide/music-platform/core/upload"
	"github.com/ssebide/music-platform/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

type progressClient struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// ProgressHub pushes upload events to the websocket connections of their owner.
type ProgressHub struct {
	tokens   *auth.TokenManager
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]map[*progressClient]struct{}
}

// NewProgressHub 创建上传进度推送中心
func NewProgressHub(tokens *auth.TokenManager) *ProgressHub {
	return &ProgressHub{
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]map[*progressClient]struct{}),
	}
}

// Notify implements upload.Notifier. Slow clients drop events.
func (h *ProgressHub) Notify(_ context.Context, e upload.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Warn("failed to encode upload event", logger.ErrorField(err))
		return
	}

	// sends happen under the read lock so unregister cannot close a channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[e.UserID] {
		select {
		case c.send <- data:
		default:
			logger.Debug("progress client too slow, dropping event",
				logger.Int64("userId", c.userID),
				logger.TrackID(e.TrackID))
		}
	}
}

// ConnectionCount returns the number of open connections of userID.
func (h *ProgressHub) ConnectionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *ProgressHub) register(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*progressClient]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *ProgressHub) unregister(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// Close disconnects every client.
func (h *ProgressHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

func bearerOrQueryToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ServeWS handles GET /ws/uploads. Browsers cannot set headers on websocket
// requests, so the token may come from the query string.
func (h *ProgressHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.ParseToken(bearerOrQueryToken(r))
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	c := &progressClient{userID: claims.UserID, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register(c)
	logger.Debug("progress client connected", logger.Int64("userId", c.userID))

	go h.writePump(c)
	h.readPump(c)
}

// readPump only consumes control frames and notices disconnects.
func (h *ProgressHub) readPump(c *progressClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ProgressHub) writePump(c *progressClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNoSubscriber is returned when a push target has no open connection.
var ErrNoSubscriber = errors.New("no push subscriber connected")

const (
	maxConnsPerUser = 10
	pushWriteWait   = 5 * time.Second
)

// pushConn serializes writes to one websocket; gorilla allows a single
// concurrent writer per connection.
type pushConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (c *pushConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(pushWriteWait))
	return c.WriteJSON(v)
}

// Hub holds the open websocket subscriptions and delivers push notifications.
// mu guards the connection set only; writes happen outside it.
type Hub struct {
	mu       sync.Mutex
	conns    map[uuid.UUID]map[*pushConn]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns: make(map[uuid.UUID]map[*pushConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Channel implements Transport.
func (h *Hub) Channel() domain.Channel { return domain.ChannelPush }

// ServeHTTP upgrades GET /ws?user_id=... to a push subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	pc := &pushConn{Conn: conn}
	if !h.add(userID, pc) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			time.Now().Add(pushWriteWait))
		_ = conn.Close()
		return
	}

	// Read until the client goes away; inbound frames are ignored.
	go func() {
		defer h.remove(userID, pc)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) add(userID uuid.UUID, conn *pushConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*pushConn]struct{})
		h.conns[userID] = set
	}
	if len(set) >= maxConnsPerUser {
		h.logger.Warn("push connection limit reached", "user_id", userID)
		return false
	}
	set[conn] = struct{}{}
	h.logger.Debug("push subscriber connected", "user_id", userID, "connections", len(set))
	return true
}

func (h *Hub) remove(userID uuid.UUID, conn *pushConn) {
	h.mu.Lock()
	if set, ok := h.conns[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// Connected returns the number of open connections for a user.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// subscribers snapshots a user's connections.
func (h *Hub) subscribers(userID uuid.UUID) []*pushConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[userID]
	out := make([]*pushConn, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}

// Deliver writes msg to every connection of its user. It succeeds when at
// least one write went through. A slow connection delays only its own user.
func (h *Hub) Deliver(_ context.Context, msg domain.NotificationMessage) error {
	conns := h.subscribers(msg.UserID)
	if len(conns) == 0 {
		return ErrNoSubscriber
	}
	delivered := 0
	for _, conn := range conns {
		if err := conn.writeJSON(msg); err != nil {
			h.logger.Warn("push write failed, dropping connection", "user_id", msg.UserID, "error", err)
			h.remove(msg.UserID, conn)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return ErrNoSubscriber
	}
	return nil
}

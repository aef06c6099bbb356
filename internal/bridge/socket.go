package bridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const maxSocketConnections = 200

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SocketHub is the "socket" delivery channel: a broadcast registry of
// connected clients, generalized from the teacher's ws_hub.go
// (gorilla/websocket connection registry, broadcast loop, connection
// cap) from "broadcast dashboard metrics" to "push a notification
// envelope to subscribed device/user sockets".
type SocketHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

func NewSocketHub() *SocketHub {
	return &SocketHub{clients: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades an incoming request to a websocket connection
// and registers it, subject to the connection cap.
func (h *SocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bridge: socket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	if len(h.clients) >= maxSocketConnections {
		h.mu.Unlock()
		conn.Close()
		log.Printf("bridge: socket connection rejected, max connections (%d) reached", maxSocketConnections)
		return
	}
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readUntilClosed(conn)
}

func (h *SocketHub) readUntilClosed(conn *websocket.Conn) {
	defer h.unregister(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SocketHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Channel returns a bridge.Channel that broadcasts the notification
// envelope to every connected socket client.
func (h *SocketHub) Channel() Channel {
	return func(ctx context.Context, n Notification) error {
		payload, err := json.Marshal(n)
		if err != nil {
			return err
		}

		h.mu.RLock()
		conns := make([]*websocket.Conn, 0, len(h.clients))
		for c := range h.clients {
			conns = append(conns, c)
		}
		h.mu.RUnlock()

		for _, c := range conns {
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unregister(c)
			}
		}
		return nil
	}
}

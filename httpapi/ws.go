package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/modrinth/forgekeep/ids"
)

// SocketRegistry is the concurrent map of active federated-sign-in
// WebSocket connections, keyed by the id the client is told to attach to
// its subsequent /init call. Modeled directly with a sync.RWMutex rather
// than a channel-actor, since every access is a simple lookup-or-store with
// no ordering requirement.
type SocketRegistry struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{conns: make(map[string]*websocket.Conn)}
}

func (r *SocketRegistry) register(id string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = conn
}

func (r *SocketRegistry) unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Push sends msg to the socket registered under id, if any is still open.
// It reports whether a socket was found, so callers can fall back to a
// redirect-based delivery.
func (r *SocketRegistry) Push(id string, msg interface{}) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.WriteJSON(msg) == nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type socketHello struct {
	SocketID string `json:"socket_id"`
}

// handleWebSocket implements GET /ws: it upgrades the connection, hands the
// client a fresh socket id to attach to its /init call via the ?ws= query
// parameter, then blocks reading frames (discarding them) purely to detect
// when the client disconnects, at which point the socket is unregistered.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := ids.Encode(ids.New())
	s.Sockets.register(id, conn)
	defer s.Sockets.unregister(id)

	if err := conn.WriteJSON(socketHello{SocketID: id}); err != nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

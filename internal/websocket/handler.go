package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/internal/auth"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

const (
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
)

// HandlerConfig tunes per-connection transport behavior. Zero fields fall
// back to defaults.
type HandlerConfig struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	WriteBufferSize int
}

// DefaultHandlerConfig returns the heartbeat and buffering settings used
// when no overrides are configured.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval: defaultPingInterval,
		ReadTimeout:  defaultReadTimeout,
	}
}

// Handler accepts real-time connections: validate, upgrade, register,
// replay current session state, then run the read loop.
type Handler struct {
	registry  *Registry
	sessions  interfaces.SessionController
	validator *auth.Validator
	config    HandlerConfig
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, sessions interfaces.SessionController, validator *auth.Validator, cfg HandlerConfig) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Handler{
		registry:  registry,
		sessions:  sessions,
		validator: validator,
		config:    cfg,
	}
}

// HandleWebSocket handles a connection request to /ws?room_id=&user_id=&token=.
// The token's subject must match user_id; a mismatch closes the socket
// with a policy-violation code and the connection is never registered.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	userID := r.URL.Query().Get("user_id")
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Auth-Token")
	}

	if roomID == "" || userID == "" {
		http.Error(w, "Missing required query parameters: room_id, user_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidRoomID(roomID) {
		http.Error(w, "Invalid room_id format", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}

	identity, err := h.validator.ValidateFor(token, userID)

	// Upgrade before rejecting auth failures so the client receives a
	// proper close code instead of a failed handshake.
	conn, upgradeErr := upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		log.Printf("WebSocket upgrade failed: room=%s user=%s err=%v", roomID, userID, upgradeErr)
		return
	}

	if err != nil {
		log.Printf("Rejected connection: room=%s user=%s err=%v", roomID, userID, err)
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	wsConn := newConnection(conn, roomID, identity.UserID, h.config.WriteBufferSize, h.config.WriteTimeout)

	if err := h.registry.Connect(wsConn); err != nil {
		log.Printf("Failed to register connection: room=%s user=%s err=%v", roomID, userID, err)
		_ = wsConn.Close()
		return
	}

	// Reconnection protocol: replay the room's current state to this
	// connection only. The session controller writes the restore frame
	// before releasing the room's state lock, so a transition committed
	// right after the join is always delivered after the restore. A
	// reconnecting client observes the current state exactly; it never
	// replays historical transitions.
	send := func(frame types.Frame) error { return wsConn.WriteJSON(frame) }
	if err := h.sessions.JoinRoom(r.Context(), roomID, identity.UserID, send); err != nil {
		log.Printf("Join failed: room=%s user=%s err=%v", roomID, userID, err)
		if werr := wsConn.WriteJSON(types.InfoFrame("session state unavailable")); werr != nil {
			h.registry.Unregister(wsConn)
			_ = wsConn.Close()
			return
		}
	}

	log.Printf("Connection established: room=%s user=%s", roomID, identity.UserID)

	go h.handleConnection(wsConn)
}

// handleConnection runs heartbeat monitoring and the read loop for one
// connection, and cleans up when the client goes away.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		log.Printf("Connection closed: room=%s user=%s", conn.GetRoomID(), conn.GetUserID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: room=%s user=%s err=%v", conn.GetRoomID(), conn.GetUserID(), err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			h.handleInbound(conn, data)
		}
	}
}

// handleInbound processes a client frame. The client protocol beyond ping
// is an extension point; unknown frames are logged and ignored.
func (h *Handler) handleInbound(conn *Connection, data []byte) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("Discarding malformed frame: room=%s user=%s", conn.GetRoomID(), conn.GetUserID())
		return
	}

	switch frame.Type {
	case "ping":
		_ = conn.WriteJSON(types.InfoFrame("pong"))
	default:
		log.Printf("Ignoring unhandled frame: room=%s user=%s type=%s", conn.GetRoomID(), conn.GetUserID(), frame.Type)
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/LobbyChat/config"
)

// CloseAuthFailed is the close code sent when the credential is rejected.
const CloseAuthFailed = 4401

const writeWait = 10 * time.Second

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator verifies a connection credential.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (Identity, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// GroupChecker returns nil when the group exists and is live.
type GroupChecker interface {
	CheckLive(ctx context.Context, groupID string) error
}

// GroupCheckerFunc adapts a function to GroupChecker.
type GroupCheckerFunc func(ctx context.Context, groupID string) error

func (f GroupCheckerFunc) CheckLive(ctx context.Context, groupID string) error {
	return f(ctx, groupID)
}

// MessageHandler upgrades HTTP requests to WebSocket connections and runs
// their read and write pumps.
type MessageHandler struct {
	manager  *ConnectionManager
	rooms    *RoomBroadcaster
	auth     Authenticator
	groups   GroupChecker
	config   *config.WebsocketConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewMessageHandler(
	manager *ConnectionManager,
	rooms *RoomBroadcaster,
	auth Authenticator,
	groups GroupChecker,
	cfg *config.WebsocketConfig,
	logger *zap.Logger,
) *MessageHandler {
	return &MessageHandler{
		manager: manager,
		rooms:   rooms,
		auth:    auth,
		groups:  groups,
		config:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// tokenFromRequest reads the credential from ?token= or an Authorization bearer header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// ServeHTTP upgrades the request, authenticates once and starts the pumps.
func (h *MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(h.manager.Context(), ws, h.config.SendBuffer)

	identity, err := h.auth.Authenticate(r.Context(), token)
	if err == nil {
		err = conn.Authenticate(identity.UserID, identity.Username)
	}
	if err != nil {
		h.logger.Info("websocket authentication failed",
			zap.String("session_id", conn.SessionID()),
			zap.String("ip", r.RemoteAddr),
			zap.Error(err),
		)
		conn.Close()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseAuthFailed, "authentication failed"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	h.manager.Add(conn)
	h.logger.Info("websocket connected",
		zap.String("session_id", conn.SessionID()),
		zap.String("user_id", identity.UserID),
	)

	go h.writePump(conn)
	go h.readPump(conn)
}

func (h *MessageHandler) readTimeout() time.Duration {
	return time.Duration(h.config.ConnectionTimeout) * time.Second
}

// readPump reads client intents until the transport fails or the connection
// is cancelled, then runs the manager's cleanup path.
func (h *MessageHandler) readPump(conn *Connection) {
	reason := "client closed"
	defer func() {
		h.manager.Remove(conn, reason)
	}()

	if h.config.ReadLimit > 0 {
		conn.Conn.SetReadLimit(int64(h.config.ReadLimit))
	}
	conn.Conn.SetReadDeadline(time.Now().Add(h.readTimeout()))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateHeartbeat()
		return conn.Conn.SetReadDeadline(time.Now().Add(h.readTimeout()))
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if conn.Context().Err() != nil {
				reason = "cancelled"
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reason = "read error"
				h.logger.Info("websocket read error",
					zap.String("session_id", conn.SessionID()),
					zap.Error(err),
				)
			}
			return
		}
		conn.UpdateHeartbeat()
		conn.Conn.SetReadDeadline(time.Now().Add(h.readTimeout()))

		h.handleIntent(conn, data)
	}
}

// writePump drains the send queue and pings the client every heartbeat
// interval. It owns the underlying transport and closes it on exit.
func (h *MessageHandler) writePump(conn *Connection) {
	ticker := time.NewTicker(time.Duration(h.config.HeartbeatInterval) * time.Second)
	defer func() {
		ticker.Stop()
		_ = conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed", zap.String("session_id", conn.SessionID()), zap.Error(err))
				h.manager.Remove(conn, "write error")
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.manager.Remove(conn, "ping failed")
				return
			}

		case <-conn.Context().Done():
			h.manager.Remove(conn, "cancelled")
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *MessageHandler) handleIntent(conn *Connection, data []byte) {
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		h.sendError(conn, "malformed frame")
		return
	}
	if intent.GroupID == "" && (intent.Action == ActionJoinRoom || intent.Action == ActionLeaveRoom) {
		h.sendError(conn, "group_id is required")
		return
	}

	switch intent.Action {
	case ActionJoinRoom:
		h.joinRoom(conn, intent.GroupID)
	case ActionLeaveRoom:
		h.rooms.Unsubscribe(intent.GroupID, conn)
		conn.untrackRoom(intent.GroupID)
	default:
		h.sendError(conn, "unknown action")
	}
}

// joinRoom subscribes the connection to a live group. Membership is not
// required to watch a room; posting goes through the HTTP API.
func (h *MessageHandler) joinRoom(conn *Connection, groupID string) {
	ctx, cancel := context.WithTimeout(conn.Context(), 5*time.Second)
	defer cancel()

	if err := h.groups.CheckLive(ctx, groupID); err != nil {
		h.sendError(conn, "group not found or expired")
		return
	}
	if !conn.trackRoom(groupID) {
		return
	}
	if _, err := h.rooms.Subscribe(groupID, conn); err != nil {
		conn.untrackRoom(groupID)
		if errors.Is(err, ErrRoomDropped) {
			h.sendError(conn, "group not found or expired")
		}
		return
	}
}

func (h *MessageHandler) sendError(conn *Connection, message string) {
	if err := conn.Deliver(NewEvent(EventError, "", ErrorPayload{Message: message})); err != nil {
		h.logger.Debug("failed to deliver error event", zap.String("session_id", conn.SessionID()), zap.Error(err))
	}
}

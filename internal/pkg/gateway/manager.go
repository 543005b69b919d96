package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/LobbyChat/config"
)

// Presence records which users have live sessions. Implemented by the Redis client.
type Presence interface {
	SetUserOnline(ctx context.Context, userID, sessionID string, ttl time.Duration) error
	RemoveUserOnline(ctx context.Context, userID, sessionID string) error
}

// ConnectionManager tracks live connections, runs the heartbeat monitor and
// owns the single cleanup path every closing connection goes through.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	config   *config.WebsocketConfig
	rooms    *RoomBroadcaster
	presence Presence
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnectionManager creates a manager and starts its heartbeat monitor.
//
// Parameters:
//   - ctx: Parent context for the manager and every connection it creates
//   - cfg: WebSocket configuration
//   - rooms: Room registry connections are unsubscribed from on close
//   - presence: Online status store
//   - logger: Structured logger
func NewConnectionManager(ctx context.Context, cfg *config.WebsocketConfig, rooms *RoomBroadcaster, presence Presence, logger *zap.Logger) *ConnectionManager {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConnectionManager{
		connections: make(map[string]*Connection),
		config:      cfg,
		rooms:       rooms,
		presence:    presence,
		logger:      logger,
		ctx:         managerCtx,
		cancel:      cancel,
	}

	cm.wg.Add(1)
	go cm.monitorHeartbeats()

	return cm
}

func (cm *ConnectionManager) heartbeatInterval() time.Duration {
	return time.Duration(cm.config.HeartbeatInterval) * time.Second
}

func (cm *ConnectionManager) presenceTTL() time.Duration {
	return 2 * cm.heartbeatInterval()
}

// Context is the parent of every connection context.
func (cm *ConnectionManager) Context() context.Context {
	return cm.ctx
}

// Add registers an authenticated connection and marks its user online.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn.SessionID()] = conn
	cm.mu.Unlock()

	if err := cm.presence.SetUserOnline(cm.ctx, conn.UserID(), conn.SessionID(), cm.presenceTTL()); err != nil {
		cm.logger.Warn("failed to set user online",
			zap.String("user_id", conn.UserID()),
			zap.Error(err),
		)
	}
}

// Remove closes the connection, unsubscribes it from every room it is still
// in, forgets it and clears its presence. Safe to call more than once.
func (cm *ConnectionManager) Remove(conn *Connection, reason string) {
	rooms, first := conn.Close()

	cm.mu.Lock()
	delete(cm.connections, conn.SessionID())
	remaining := len(cm.connections)
	cm.mu.Unlock()

	if !first {
		return
	}

	for _, groupID := range rooms {
		cm.rooms.Unsubscribe(groupID, conn)
	}

	userID := conn.UserID()
	if userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cm.presence.RemoveUserOnline(ctx, userID, conn.SessionID()); err != nil {
			cm.logger.Warn("failed to remove online status",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}

	cm.logger.Info("connection removed",
		zap.String("session_id", conn.SessionID()),
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Int("rooms", len(rooms)),
		zap.Int("remaining", remaining),
	)
}

// Get returns a connection by session ID.
func (cm *ConnectionManager) Get(sessionID string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conn, ok := cm.connections[sessionID]
	return conn, ok
}

// ConnectionCount returns the number of registered connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (cm *ConnectionManager) snapshot() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	return conns
}

func (cm *ConnectionManager) monitorHeartbeats() {
	defer cm.wg.Done()

	ticker := time.NewTicker(cm.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-cm.ctx.Done():
			return
		case <-ticker.C:
			cm.checkHeartbeats(cm.presenceTTL())
		}
	}
}

// checkHeartbeats removes connections silent for longer than timeout and
// refreshes presence for the rest.
func (cm *ConnectionManager) checkHeartbeats(timeout time.Duration) {
	for _, conn := range cm.snapshot() {
		if !conn.IsAlive(timeout) {
			cm.Remove(conn, "heartbeat timeout")
			continue
		}
		if err := cm.presence.SetUserOnline(cm.ctx, conn.UserID(), conn.SessionID(), timeout); err != nil {
			cm.logger.Warn("failed to refresh online status",
				zap.String("user_id", conn.UserID()),
				zap.Error(err),
			)
		}
	}
}

// Shutdown stops the monitor and removes every connection.
func (cm *ConnectionManager) Shutdown() {
	cm.cancel()
	for _, conn := range cm.snapshot() {
		cm.Remove(conn, "shutdown")
	}
	cm.wg.Wait()
}

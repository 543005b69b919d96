package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State of a gateway connection. Transitions only move forward:
// Connecting -> Authenticated -> Closed, or Connecting -> Closed.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotAuthenticated = errors.New("connection not authenticated")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Connection is one client transport. It implements Subscriber.
type Connection struct {
	id   string
	Conn *websocket.Conn

	// mu guards state, identity, rooms and sends on the send channel.
	mu       sync.Mutex
	state    State
	userID   string
	username string
	rooms    map[string]struct{}
	send     chan []byte

	lastHeartbeat atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnection wraps ws in the Connecting state.
//
// Parameters:
//   - ctx: Parent context; cancelling it stops the connection's pumps
//   - ws: The upgraded WebSocket connection
//   - sendBuffer: Capacity of the outbound queue
func NewConnection(ctx context.Context, ws *websocket.Conn, sendBuffer int) *Connection {
	connCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		id:     uuid.NewString(),
		Conn:   ws,
		state:  StateConnecting,
		rooms:  make(map[string]struct{}),
		send:   make(chan []byte, sendBuffer),
		ctx:    connCtx,
		cancel: cancel,
	}
	c.UpdateHeartbeat()
	return c
}

func (c *Connection) SessionID() string { return c.id }

func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the connection is authenticated and not closed.
func (c *Connection) Active() bool {
	return c.State() == StateAuthenticated
}

// Authenticate binds the verified identity. Only valid while Connecting.
func (c *Connection) Authenticate(userID, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConnecting:
		c.state = StateAuthenticated
		c.userID = userID
		c.username = username
		return nil
	case StateClosed:
		return ErrConnectionClosed
	default:
		return errors.New("connection already authenticated")
	}
}

// Deliver queues the event for the write pump. A full queue means the client
// cannot keep up; the connection is cancelled so its cleanup path runs.
func (c *Connection) Deliver(event *Event) error {
	data, err := event.Bytes()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated {
		if c.state == StateClosed {
			return ErrConnectionClosed
		}
		return ErrNotAuthenticated
	}
	if event.Type == EventGroupDeleted {
		delete(c.rooms, event.GroupID)
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.cancel()
		return ErrSendBufferFull
	}
}

// trackRoom records that the connection is joining groupID. It fails once
// the connection is no longer authenticated.
func (c *Connection) trackRoom(groupID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return false
	}
	c.rooms[groupID] = struct{}{}
	return true
}

func (c *Connection) untrackRoom(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, groupID)
}

// Rooms returns the groups the connection is subscribed to.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// Close moves the connection to Closed, stops its pumps and returns the rooms
// it was in. Only the first call returns ok=true.
func (c *Connection) Close() (rooms []string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil, false
	}
	c.state = StateClosed
	c.cancel()
	close(c.send)

	rooms = make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.rooms = nil
	return rooms, true
}

func (c *Connection) UpdateHeartbeat() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
}

func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// IsAlive reports whether a heartbeat arrived within timeout.
func (c *Connection) IsAlive(timeout time.Duration) bool {
	return time.Since(c.LastHeartbeat()) < timeout
}

// Context is cancelled when the connection closes or overflows.
func (c *Connection) Context() context.Context {
	return c.ctx
}

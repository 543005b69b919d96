package gateway

import (
	"encoding/json"
	"sync"
	"time"
)

// Server to client event types.
const (
	EventNewMessage   = "new_message"
	EventGroupUpdated = "group_updated"
	EventGroupDeleted = "group_deleted"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventError        = "error"
)

// Reasons carried by group_deleted.
const (
	ReasonExpired = "expired"
	ReasonDeleted = "deleted"
)

// Client to server intents.
const (
	ActionJoinRoom  = "join_room"
	ActionLeaveRoom = "leave_room"
)

// Event is the JSON frame pushed to clients. One Event is shared by every
// recipient of a broadcast, so it is encoded at most once.
type Event struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`

	once    sync.Once
	encoded []byte
	err     error
}

func NewEvent(eventType, groupID string, data any) *Event {
	return &Event{
		Type:      eventType,
		GroupID:   groupID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Bytes returns the JSON encoding of the event, computed once.
func (e *Event) Bytes() ([]byte, error) {
	e.once.Do(func() {
		e.encoded, e.err = json.Marshal(struct {
			Type      string `json:"type"`
			GroupID   string `json:"group_id,omitempty"`
			Data      any    `json:"data,omitempty"`
			Timestamp int64  `json:"timestamp"`
		}{e.Type, e.GroupID, e.Data, e.Timestamp})
	})
	return e.encoded, e.err
}

// PresencePayload is the data of user_joined and user_left.
type PresencePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// GroupDeletedPayload is the data of group_deleted.
type GroupDeletedPayload struct {
	GroupID string `json:"group_id"`
	Reason  string `json:"reason"`
}

// GroupUpdatedPayload is the data of group_updated.
type GroupUpdatedPayload struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Intent is a client to server frame.
type Intent struct {
	Action  string `json:"action"`
	GroupID string `json:"group_id"`
}

package service

import (
	"context"
	"time"
)

// Notifier fans events out to the live subscribers of a group.
// Implemented by *gateway.RoomBroadcaster.
type Notifier interface {
	Publish(groupID, eventType string, payload any) int
	DropRoom(groupID, reason string) int
}

// HistoryCache holds the recent message window of each group.
// Implemented by the Redis client.
type HistoryCache interface {
	PushHistory(ctx context.Context, groupID string, entry []byte, limit int, expiresAt time.Time) error
	ReplaceHistory(ctx context.Context, groupID string, entries [][]byte, expiresAt time.Time) error
	History(ctx context.Context, groupID string) ([]string, error)
	HasHistory(ctx context.Context, groupID string) (bool, error)
	PurgeHistory(ctx context.Context, groupID string) error
}

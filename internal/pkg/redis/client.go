package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Gopher0727/LobbyChat/config"
)

// RedisClient is the cache surface used by the gateway and message service:
// presence of connected users and the per-group recent history window.
type RedisClient interface {
	Close() error
	GetClient() *redis.Client
	Ping(ctx context.Context) error

	SetUserOnline(ctx context.Context, userID, sessionID string, ttl time.Duration) error
	RemoveUserOnline(ctx context.Context, userID, sessionID string) error
	IsUserOnline(ctx context.Context, userID string) (bool, error)

	PushHistory(ctx context.Context, groupID string, entry []byte, limit int, expiresAt time.Time) error
	ReplaceHistory(ctx context.Context, groupID string, entries [][]byte, expiresAt time.Time) error
	History(ctx context.Context, groupID string) ([]string, error)
	HasHistory(ctx context.Context, groupID string) (bool, error)
	PurgeHistory(ctx context.Context, groupID string) error
}

type Client struct {
	client *redis.Client
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{client: rdb}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{client: rdb}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func presenceKey(userID string) string {
	return fmt.Sprintf("user:%s:online", userID)
}

func historyKey(groupID string) string {
	return fmt.Sprintf("group:%s:history", groupID)
}

// SetUserOnline records one live session of the user. The key expires after
// ttl unless refreshed.
func (c *Client) SetUserOnline(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	key := presenceKey(userID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, sessionID, time.Now().Unix())
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user %s online: %w", userID, err)
	}
	return nil
}

// RemoveUserOnline drops one session; the user stays online while others remain.
func (c *Client) RemoveUserOnline(ctx context.Context, userID, sessionID string) error {
	if err := c.client.HDel(ctx, presenceKey(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("failed to remove user %s online status: %w", userID, err)
	}
	return nil
}

func (c *Client) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.HLen(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if user %s is online: %w", userID, err)
	}
	return n > 0, nil
}

// PushHistory appends entry to the group's window, keeps the newest limit
// entries and lets the key expire together with the group. Entries are only
// appended to a warm window so a cold key is never mistaken for a full one.
func (c *Client) PushHistory(ctx context.Context, groupID string, entry []byte, limit int, expiresAt time.Time) error {
	key := historyKey(groupID)
	pipe := c.client.TxPipeline()
	pipe.RPushX(ctx, key, entry)
	pipe.LTrim(ctx, key, int64(-limit), -1)
	pipe.ExpireAt(ctx, key, expiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push history for group %s: %w", groupID, err)
	}
	return nil
}

// ReplaceHistory rewrites the window from durable storage, oldest first.
func (c *Client) ReplaceHistory(ctx context.Context, groupID string, entries [][]byte, expiresAt time.Time) error {
	key := historyKey(groupID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	// An empty window is stored as a single sentinel so it still counts as warm.
	values := []any{historySentinel}
	for _, e := range entries {
		values = append(values, e)
	}
	pipe.RPush(ctx, key, values...)
	pipe.ExpireAt(ctx, key, expiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace history for group %s: %w", groupID, err)
	}
	return nil
}

const historySentinel = "~"

// History returns the cached window oldest first, without the sentinel.
func (c *Client) History(ctx context.Context, groupID string) ([]string, error) {
	values, err := c.client.LRange(ctx, historyKey(groupID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read history for group %s: %w", groupID, err)
	}
	out := values[:0]
	for _, v := range values {
		if v != historySentinel {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Client) HasHistory(ctx context.Context, groupID string) (bool, error) {
	n, err := c.client.Exists(ctx, historyKey(groupID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check history for group %s: %w", groupID, err)
	}
	return n > 0, nil
}

func (c *Client) PurgeHistory(ctx context.Context, groupID string) error {
	if err := c.client.Del(ctx, historyKey(groupID)).Err(); err != nil {
		return fmt.Errorf("failed to purge history for group %s: %w", groupID, err)
	}
	return nil
}

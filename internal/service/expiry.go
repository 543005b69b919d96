package service

import (
	"time"

	"github.com/Gopher0727/LobbyChat/internal/model"
)

// ExpiryPolicy is the single source of group lifetime. Read paths and the
// reaper evaluate expiry through it so they agree on the clock.
type ExpiryPolicy struct {
	TTL time.Duration
	Now func() time.Time
}

func NewExpiryPolicy(ttl time.Duration) ExpiryPolicy {
	return ExpiryPolicy{
		TTL: ttl,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// ExpiresAt returns createdAt + TTL.
func (p ExpiryPolicy) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.Add(p.TTL)
}

func (p ExpiryPolicy) IsLive(group *model.Group) bool {
	return group.IsLive(p.Now())
}

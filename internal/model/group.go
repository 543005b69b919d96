package model

import "time"

// Group is a game-scoped meeting point that lives until ExpiresAt.
type Group struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string `gorm:"not null;type:varchar(100)" json:"name"`
	GameID    string `gorm:"index;not null;type:varchar(64)" json:"game_id"`
	CreatorID string `gorm:"index;not null;type:varchar(64)" json:"creator_id"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
}

func (Group) TableName() string {
	return "groups"
}

// IsLive reports whether the group is still usable at now.
func (g *Group) IsLive(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// GroupSummary is a Group with listing metadata.
type GroupSummary struct {
	Group
	MemberCount int64  `json:"member_count"`
	CreatorName string `json:"creator_name"`
	GameTitle   string `json:"game_title"`
}

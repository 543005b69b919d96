package model

import "time"

type GroupMember struct {
	GroupID  string    `gorm:"primaryKey;type:varchar(64)" json:"group_id"`
	UserID   string    `gorm:"primaryKey;type:varchar(64);index" json:"user_id"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`

	Group *Group `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
}

func (GroupMember) TableName() string {
	return "group_members"
}

// MemberView 成员列表项, 附带用户名
type MemberView struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

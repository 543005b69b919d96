package model

import (
	"time"
)

// Message 消息模型, ID 为 snowflake 十进制字符串
type Message struct {
	ID      string `gorm:"primaryKey;type:varchar(32)" json:"id"`
	GroupID string `gorm:"index:idx_messages_group_created,priority:1;not null;type:varchar(64)" json:"group_id"`
	UserID  string `gorm:"not null;type:varchar(64)" json:"author_id"`
	Content string `gorm:"type:text;not null" json:"content"`

	CreatedAt time.Time `gorm:"index:idx_messages_group_created,priority:2;not null" json:"created_at"`

	Group *Group `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageView is a message with its author's username, the shape pushed to rooms.
type MessageView struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	AuthorID  string    `json:"author_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

package repository

import (
	"context"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/LobbyChat/internal/model"
)

type IMessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	FindRecent(ctx context.Context, groupID string, limit int) ([]*model.MessageView, error)
	FindByID(ctx context.Context, id string) (*model.MessageView, error)
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) IMessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(message).Error
}

func (r *MessageRepository) viewQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("messages AS m").
		Select("m.id, m.group_id, m.user_id AS author_id, COALESCE(u.username, '') AS username, m.content, m.created_at").
		Joins("LEFT JOIN users u ON u.id = m.user_id")
}

// FindRecent returns the latest limit messages of a group, oldest first.
func (r *MessageRepository) FindRecent(ctx context.Context, groupID string, limit int) ([]*model.MessageView, error) {
	var messages []*model.MessageView
	err := r.viewQuery(ctx).
		Where("m.group_id = ?", groupID).
		Order("m.created_at DESC, m.id DESC").
		Limit(limit).
		Scan(&messages).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.MessageView, error) {
	var message model.MessageView
	res := r.viewQuery(ctx).Where("m.id = ?", id).Limit(1).Scan(&message)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &message, nil
}

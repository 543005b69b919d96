package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/LobbyChat/internal/model"
)

// IMembershipRepository defines durable (group, user) membership storage.
type IMembershipRepository interface {
	AddIfLive(ctx context.Context, member *model.GroupMember, now time.Time) (bool, error)
	Remove(ctx context.Context, groupID, userID string) (bool, error)
	Exists(ctx context.Context, groupID, userID string) (bool, error)
	ListByGroup(ctx context.Context, groupID string) ([]*model.MemberView, error)
}

type MembershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) IMembershipRepository {
	return &MembershipRepository{db: db}
}

// AddIfLive inserts the membership only while the group exists and is live at
// now, in a single statement. It returns false when the group is missing or
// expired; a duplicate row surfaces as gorm.ErrDuplicatedKey.
func (r *MembershipRepository) AddIfLive(ctx context.Context, member *model.GroupMember, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO group_members (group_id, user_id, joined_at)
		 SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM groups WHERE id = ? AND expires_at > ?)`,
		member.GroupID, member.UserID, member.JoinedAt, member.GroupID, now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Remove deletes the membership row and reports whether one existed.
func (r *MembershipRepository) Remove(ctx context.Context, groupID, userID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&model.GroupMember{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *MembershipRepository) Exists(ctx context.Context, groupID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByGroup returns members in join order with their usernames.
func (r *MembershipRepository) ListByGroup(ctx context.Context, groupID string) ([]*model.MemberView, error) {
	var members []*model.MemberView
	err := r.db.WithContext(ctx).
		Table("group_members AS gm").
		Select("gm.user_id, COALESCE(u.username, '') AS username, gm.joined_at").
		Joins("LEFT JOIN users u ON u.id = gm.user_id").
		Where("gm.group_id = ?", groupID).
		Order("gm.joined_at ASC").
		Scan(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

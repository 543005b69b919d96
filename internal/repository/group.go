package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/LobbyChat/internal/model"
)

// IGroupRepository defines durable group storage. Liveness predicates take
// now explicitly so every caller evaluates expiry against the same clock.
type IGroupRepository interface {
	CreateWithCreator(ctx context.Context, group *model.Group) error
	FindByID(ctx context.Context, id string) (*model.Group, error)
	FindLive(ctx context.Context, gameID string, now time.Time) ([]*model.GroupSummary, error)
	UpdateName(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) (bool, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Group, error)
	DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error)
}

// GroupRepository implements IGroupRepository interface
type GroupRepository struct {
	db *gorm.DB
}

// NewGroupRepository creates a new IGroupRepository instance
func NewGroupRepository(db *gorm.DB) IGroupRepository {
	return &GroupRepository{db: db}
}

// CreateWithCreator inserts the group and its creator's membership in one transaction.
func (r *GroupRepository) CreateWithCreator(ctx context.Context, group *model.Group) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(group).Error; err != nil {
			return err
		}
		return tx.Create(&model.GroupMember{
			GroupID:  group.ID,
			UserID:   group.CreatorID,
			JoinedAt: group.CreatedAt,
		}).Error
	})
}

// FindByID finds a group by ID regardless of expiry
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*model.Group, error) {
	var group model.Group
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

// FindLive lists groups with expires_at > now, newest first. An empty gameID
// lists every game.
func (r *GroupRepository) FindLive(ctx context.Context, gameID string, now time.Time) ([]*model.GroupSummary, error) {
	query := r.db.WithContext(ctx).
		Table("groups AS g").
		Select("g.*, COUNT(gm.user_id) AS member_count, COALESCE(u.username, '') AS creator_name, COALESCE(ga.title, '') AS game_title").
		Joins("LEFT JOIN group_members gm ON gm.group_id = g.id").
		Joins("LEFT JOIN users u ON u.id = g.creator_id").
		Joins("LEFT JOIN games ga ON ga.id = g.game_id").
		Where("g.expires_at > ?", now)
	if gameID != "" {
		query = query.Where("g.game_id = ?", gameID)
	}

	var groups []*model.GroupSummary
	err := query.
		Group("g.id, u.username, ga.title").
		Order("g.created_at DESC").
		Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// UpdateName renames a group
func (r *GroupRepository) UpdateName(ctx context.Context, id, name string) error {
	res := r.db.WithContext(ctx).Model(&model.Group{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes the group with its memberships and messages. It reports
// whether a group row was removed.
func (r *GroupRepository) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = deleteCascade(tx, id)
		return err
	})
	return deleted, err
}

// FindExpired lists groups with expires_at <= now, oldest expiry first.
func (r *GroupRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Group, error) {
	var groups []*model.Group
	query := r.db.WithContext(ctx).Where("expires_at <= ?", now).Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// DeleteIfExpired deletes the group only if it is still expired at now,
// locking the row first so a concurrent delete cannot interleave.
func (r *GroupRepository) DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group model.Group
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND expires_at <= ?", id, now).
			First(&group).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted, err = deleteCascade(tx, id)
		return err
	})
	return deleted, err
}

func deleteCascade(tx *gorm.DB, groupID string) (bool, error) {
	if err := tx.Where("group_id = ?", groupID).Delete(&model.Message{}).Error; err != nil {
		return false, err
	}
	if err := tx.Where("group_id = ?", groupID).Delete(&model.GroupMember{}).Error; err != nil {
		return false, err
	}
	res := tx.Where("id = ?", groupID).Delete(&model.Group{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

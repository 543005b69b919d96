package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/LobbyChat/internal/model"
	"github.com/Gopher0727/LobbyChat/internal/pkg/gateway"
	"github.com/Gopher0727/LobbyChat/internal/pkg/kafka"
	"github.com/Gopher0727/LobbyChat/internal/repository"
	"github.com/Gopher0727/LobbyChat/internal/utils"
)

// CreateGroupRequest represents a request to create a new group
type CreateGroupRequest struct {
	Name   string `json:"name" binding:"required"`
	GameID string `json:"game_id" binding:"required"`
}

// RenameGroupRequest represents a request to rename a group
type RenameGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

// IGroupService defines group lifecycle and membership operations
type IGroupService interface {
	CreateGroup(ctx context.Context, creatorID string, req *CreateGroupRequest) (*model.Group, error)
	RenameGroup(ctx context.Context, groupID, requesterID, name string) (*model.Group, error)
	DeleteGroup(ctx context.Context, groupID, requesterID string) error
	GetGroup(ctx context.Context, groupID string) (*model.Group, error)
	ListGroupsForGame(ctx context.Context, gameID string) ([]*model.GroupSummary, error)

	JoinGroup(ctx context.Context, groupID, userID string) error
	LeaveGroup(ctx context.Context, groupID, userID string) error
	ListMembers(ctx context.Context, groupID string) ([]*model.MemberView, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	CheckLive(ctx context.Context, groupID string) error

	ListExpired(ctx context.Context, limit int) ([]*model.Group, error)
	DeleteExpired(ctx context.Context, groupID string) (bool, error)
}

// GroupService implements the IGroupService interface
type GroupService struct {
	groupRepo   repository.IGroupRepository
	memberRepo  repository.IMembershipRepository
	catalogRepo repository.ICatalogRepository
	history     HistoryCache
	notifier    Notifier
	sink        kafka.Sink
	policy      ExpiryPolicy
	logger      *zap.Logger
}

// NewGroupService creates a new IGroupService instance
func NewGroupService(
	groupRepo repository.IGroupRepository,
	memberRepo repository.IMembershipRepository,
	catalogRepo repository.ICatalogRepository,
	history HistoryCache,
	notifier Notifier,
	sink kafka.Sink,
	policy ExpiryPolicy,
	logger *zap.Logger,
) IGroupService {
	return &GroupService{
		groupRepo:   groupRepo,
		memberRepo:  memberRepo,
		catalogRepo: catalogRepo,
		history:     history,
		notifier:    notifier,
		sink:        sink,
		policy:      policy,
		logger:      logger,
	}
}

// CreateGroup creates a group expiring one TTL from now; the creator becomes
// its first member in the same transaction.
func (s *GroupService) CreateGroup(ctx context.Context, creatorID string, req *CreateGroupRequest) (*model.Group, error) {
	name, ok := utils.NormalizeGroupName(req.Name)
	if !ok {
		return nil, invalidInput("group name must be %d-%d characters", utils.MinGroupNameLength, utils.MaxGroupNameLength)
	}
	if req.GameID == "" {
		return nil, invalidInput("game_id is required")
	}
	exists, err := s.catalogRepo.GameExists(ctx, req.GameID)
	if err != nil {
		return nil, transient("check game", err)
	}
	if !exists {
		return nil, invalidInput("unknown game %q", req.GameID)
	}

	now := s.policy.Now()
	group := &model.Group{
		ID:        uuid.New().String(),
		Name:      name,
		GameID:    req.GameID,
		CreatorID: creatorID,
		CreatedAt: now,
		ExpiresAt: s.policy.ExpiresAt(now),
	}
	if err := s.groupRepo.CreateWithCreator(ctx, group); err != nil {
		return nil, transient("create group", err)
	}

	s.logger.Info("group created",
		zap.String("group_id", group.ID),
		zap.String("game_id", group.GameID),
		zap.String("creator_id", creatorID),
		zap.Time("expires_at", group.ExpiresAt),
	)
	s.sink.Emit(ctx, kafka.LifecycleEvent{
		Type:       kafka.EventGroupCreated,
		GroupID:    group.ID,
		ActorID:    creatorID,
		OccurredAt: now,
		Attributes: map[string]string{"name": group.Name, "game_id": group.GameID},
	})
	return group, nil
}

// liveGroup loads a group, treating an expired one as absent.
func (s *GroupService) liveGroup(ctx context.Context, groupID string) (*model.Group, error) {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, transient("find group", err)
	}
	if !s.policy.IsLive(group) {
		return nil, ErrNotFound
	}
	return group, nil
}

func (s *GroupService) RenameGroup(ctx context.Context, groupID, requesterID, name string) (*model.Group, error) {
	group, err := s.liveGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.CreatorID != requesterID {
		return nil, ErrForbidden
	}
	name, ok := utils.NormalizeGroupName(name)
	if !ok {
		return nil, invalidInput("group name must be %d-%d characters", utils.MinGroupNameLength, utils.MaxGroupNameLength)
	}

	if err := s.groupRepo.UpdateName(ctx, groupID, name); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, transient("rename group", err)
	}
	group.Name = name

	s.notifier.Publish(groupID, gateway.EventGroupUpdated, gateway.GroupUpdatedPayload{
		GroupID: groupID,
		Name:    name,
	})
	s.sink.Emit(ctx, kafka.LifecycleEvent{
		Type:       kafka.EventGroupRenamed,
		GroupID:    groupID,
		ActorID:    requesterID,
		Attributes: map[string]string{"name": name},
	})
	return group, nil
}

// DeleteGroup removes the group with its memberships and messages, then tells
// every subscriber the group is gone.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID, requesterID string) error {
	group, err := s.liveGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID != requesterID {
		return ErrForbidden
	}

	deleted, err := s.groupRepo.Delete(ctx, groupID)
	if err != nil {
		return transient("delete group", err)
	}
	if !deleted {
		return ErrNotFound
	}

	s.purgeHistory(ctx, groupID)
	delivered := s.notifier.DropRoom(groupID, gateway.ReasonDeleted)

	s.logger.Info("group deleted",
		zap.String("group_id", groupID),
		zap.String("requester_id", requesterID),
		zap.Int("notified", delivered),
	)
	s.sink.Emit(ctx, kafka.LifecycleEvent{
		Type:    kafka.EventGroupDeleted,
		GroupID: groupID,
		ActorID: requesterID,
		Reason:  gateway.ReasonDeleted,
	})
	return nil
}

func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*model.Group, error) {
	return s.liveGroup(ctx, groupID)
}

// ListGroupsForGame lists live groups newest first. An empty gameID lists all games.
func (s *GroupService) ListGroupsForGame(ctx context.Context, gameID string) ([]*model.GroupSummary, error) {
	groups, err := s.groupRepo.FindLive(ctx, gameID, s.policy.Now())
	if err != nil {
		return nil, transient("list groups", err)
	}
	return groups, nil
}

// JoinGroup inserts the membership only while the group is live. Races with a
// concurrent delete or a duplicate join are resolved by the database.
func (s *GroupService) JoinGroup(ctx context.Context, groupID, userID string) error {
	now := s.policy.Now()
	added, err := s.memberRepo.AddIfLive(ctx, &model.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		JoinedAt: now,
	}, now)
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrAlreadyMember
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrNotFound
	case err != nil:
		return transient("join group", err)
	case !added:
		return ErrNotFound
	}

	s.sink.Emit(ctx, kafka.LifecycleEvent{
		Type:       kafka.EventMemberJoined,
		GroupID:    groupID,
		ActorID:    userID,
		OccurredAt: now,
	})
	return nil
}

func (s *GroupService) LeaveGroup(ctx context.Context, groupID, userID string) error {
	group, err := s.liveGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID == userID {
		return ErrCreatorCannotLeave
	}

	removed, err := s.memberRepo.Remove(ctx, groupID, userID)
	if err != nil {
		return transient("leave group", err)
	}
	if !removed {
		return ErrNotMember
	}

	s.sink.Emit(ctx, kafka.LifecycleEvent{
		Type:    kafka.EventMemberLeft,
		GroupID: groupID,
		ActorID: userID,
	})
	return nil
}

// ListMembers returns members in join order.
func (s *GroupService) ListMembers(ctx context.Context, groupID string) ([]*model.MemberView, error) {
	if _, err := s.liveGroup(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := s.memberRepo.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, transient("list members", err)
	}
	return members, nil
}

func (s *GroupService) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	ok, err := s.memberRepo.Exists(ctx, groupID, userID)
	if err != nil {
		return false, transient("check membership", err)
	}
	return ok, nil
}

// CheckLive returns ErrNotFound unless the group exists and has not expired.
func (s *GroupService) CheckLive(ctx context.Context, groupID string) error {
	_, err := s.liveGroup(ctx, groupID)
	return err
}

// ListExpired returns up to limit groups whose expiry has passed.
func (s *GroupService) ListExpired(ctx context.Context, limit int) ([]*model.Group, error) {
	groups, err := s.groupRepo.FindExpired(ctx, s.policy.Now(), limit)
	if err != nil {
		return nil, transient("list expired groups", err)
	}
	return groups, nil
}

// DeleteExpired deletes the group only if it is still expired at the time of
// the delete. It reports false when the group was already gone.
func (s *GroupService) DeleteExpired(ctx context.Context, groupID string) (bool, error) {
	now := s.policy.Now()
	deleted, err := s.groupRepo.DeleteIfExpired(ctx, groupID, now)
	if err != nil {
		return false, transient("delete expired group", err)
	}
	if !deleted {
		return false, nil
	}

	s.purgeHistory(ctx, groupID)
	s.sink.Emit(ctx, kafka.LifecycleEvent{
		Type:       kafka.EventGroupExpired,
		GroupID:    groupID,
		Reason:     gateway.ReasonExpired,
		OccurredAt: now,
	})
	return true, nil
}

func (s *GroupService) purgeHistory(ctx context.Context, groupID string) {
	if err := s.history.PurgeHistory(ctx, groupID); err != nil {
		s.logger.Warn("failed to purge history cache", zap.String("group_id", groupID), zap.Error(err))
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/LobbyChat/internal/model"
	"github.com/Gopher0727/LobbyChat/internal/pkg/gateway"
	"github.com/Gopher0727/LobbyChat/internal/pkg/kafka"
	"github.com/Gopher0727/LobbyChat/internal/repository"
	"github.com/Gopher0727/LobbyChat/internal/utils"
	"github.com/Gopher0727/LobbyChat/utils/snowflake"
)

// SendMessageRequest represents a request to post a message to a group
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// IMessageService defines message posting and history
type IMessageService interface {
	SendMessage(ctx context.Context, groupID, userID, content string) (*model.MessageView, error)
	RecentMessages(ctx context.Context, groupID string, limit int) ([]*model.MessageView, error)
	GetMessage(ctx context.Context, messageID string) (*model.MessageView, error)
}

// MessageService implements the IMessageService interface
type MessageService struct {
	groupRepo    repository.IGroupRepository
	memberRepo   repository.IMembershipRepository
	messageRepo  repository.IMessageRepository
	userRepo     repository.IUserRepository
	history      HistoryCache
	notifier     Notifier
	sink         kafka.Sink
	ids          *snowflake.Generator
	policy       ExpiryPolicy
	historyLimit int
	logger       *zap.Logger
}

// MessageServiceDeps groups the collaborators of MessageService.
type MessageServiceDeps struct {
	Groups   repository.IGroupRepository
	Members  repository.IMembershipRepository
	Messages repository.IMessageRepository
	Users    repository.IUserRepository
	History  HistoryCache
	Notifier Notifier
	Sink     kafka.Sink
	IDs      *snowflake.Generator
}

// NewMessageService creates a new IMessageService instance. historyLimit is
// the size of the recent window kept in the cache.
func NewMessageService(deps MessageServiceDeps, policy ExpiryPolicy, historyLimit int, logger *zap.Logger) IMessageService {
	return &MessageService{
		groupRepo:    deps.Groups,
		memberRepo:   deps.Members,
		messageRepo:  deps.Messages,
		userRepo:     deps.Users,
		history:      deps.History,
		notifier:     deps.Notifier,
		sink:         deps.Sink,
		ids:          deps.IDs,
		policy:       policy,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

func (s *MessageService) liveGroup(ctx context.Context, groupID string) (*model.Group, error) {
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

// SendMessage persists the message, appends it to the cached window and
// publishes new_message to the group's room.
func (s *MessageService) SendMessage(ctx context.Context, groupID, userID, content string) (*model.MessageView, error) {
	content, ok := utils.NormalizeMessage(content)
	if !ok {
		return nil, invalidInput("content must be 1-%d characters", utils.MaxMessageLength)
	}

	group, err := s.liveGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	member, err := s.memberRepo.Exists(ctx, groupID, userID)
	if err != nil {
		return nil, transient("check membership", err)
	}
	if !member {
		return nil, ErrForbidden
	}

	author, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrForbidden
		}
		return nil, transient("find author", err)
	}

	id, err := s.ids.NextString()
	if err != nil {
		return nil, transient("generate message id", err)
	}
	msg := &model.Message{
		ID:        id,
		GroupID:   groupID,
		UserID:    userID,
		Content:   content,
		CreatedAt: s.policy.Now(),
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return nil, ErrNotFound
		}
		return nil, transient("save message", err)
	}

	view := &model.MessageView{
		ID:        msg.ID,
		GroupID:   msg.GroupID,
		AuthorID:  msg.UserID,
		Username:  author.UserName,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	s.appendHistory(ctx, group, view)

	s.notifier.Publish(groupID, gateway.EventNewMessage, view)
	s.sink.Emit(ctx, kafka.LifecycleEvent{
		Type:       kafka.EventMessageSent,
		GroupID:    groupID,
		ActorID:    userID,
		OccurredAt: msg.CreatedAt,
		Attributes: map[string]string{"message_id": msg.ID},
	})
	return view, nil
}

func (s *MessageService) appendHistory(ctx context.Context, group *model.Group, view *model.MessageView) {
	data, err := json.Marshal(view)
	if err == nil {
		err = s.history.PushHistory(ctx, group.ID, data, s.historyLimit, group.ExpiresAt)
	}
	if err != nil {
		s.logger.Warn("failed to append message to history cache",
			zap.String("group_id", group.ID),
			zap.String("message_id", view.ID),
			zap.Error(err),
		)
	}
}

// RecentMessages returns up to limit of the latest messages, oldest first.
// A non-positive or oversized limit is clamped to the history window.
func (s *MessageService) RecentMessages(ctx context.Context, groupID string, limit int) ([]*model.MessageView, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	group, err := s.liveGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if cached, ok := s.cachedHistory(ctx, groupID); ok {
		return tail(cached, limit), nil
	}

	messages, err := s.messageRepo.FindRecent(ctx, groupID, s.historyLimit)
	if err != nil {
		return nil, transient("load history", err)
	}
	s.warmHistory(ctx, group, messages)
	return tail(messages, limit), nil
}

// cachedHistory reads the window from the cache. ok is false when the cache
// is cold, unreachable or holds an entry that does not decode.
func (s *MessageService) cachedHistory(ctx context.Context, groupID string) ([]*model.MessageView, bool) {
	warm, err := s.history.HasHistory(ctx, groupID)
	if err != nil || !warm {
		return nil, false
	}
	entries, err := s.history.History(ctx, groupID)
	if err != nil {
		s.logger.Warn("failed to read history cache", zap.String("group_id", groupID), zap.Error(err))
		return nil, false
	}
	messages := make([]*model.MessageView, 0, len(entries))
	for _, entry := range entries {
		var m model.MessageView
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			s.logger.Warn("corrupt history entry", zap.String("group_id", groupID), zap.Error(err))
			return nil, false
		}
		messages = append(messages, &m)
	}
	return messages, true
}

func (s *MessageService) warmHistory(ctx context.Context, group *model.Group, messages []*model.MessageView) {
	entries := make([][]byte, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return
		}
		entries = append(entries, data)
	}
	if err := s.history.ReplaceHistory(ctx, group.ID, entries, group.ExpiresAt); err != nil {
		s.logger.Warn("failed to warm history cache", zap.String("group_id", group.ID), zap.Error(err))
	}
}

func tail(messages []*model.MessageView, n int) []*model.MessageView {
	if len(messages) > n {
		return messages[len(messages)-n:]
	}
	return messages
}

func (s *MessageService) GetMessage(ctx context.Context, messageID string) (*model.MessageView, error) {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, transient("find message", err)
	}
	return msg, nil
}

package service

import (
	"context"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/LobbyChat/internal/model"
	"github.com/Gopher0727/LobbyChat/internal/pkg/gateway"
	"github.com/Gopher0727/LobbyChat/internal/pkg/kafka"
	redispkg "github.com/Gopher0727/LobbyChat/internal/pkg/redis"
	"github.com/Gopher0727/LobbyChat/middleware/jwt"
	"github.com/Gopher0727/LobbyChat/utils/snowflake"
)

// memStore is an in-memory stand-in for the Postgres schema. The repository
// views below share it so cascades behave like the real foreign keys.
type memStore struct {
	mu        sync.Mutex
	groups    map[string]*model.Group
	members   map[string]map[string]time.Time
	messages  []*model.Message
	users     map[string]*model.User
	games     map[string]*model.Game
	platforms []*model.Platform

	// failWrites makes the named write fail: "update_name", "delete" or "create_message".
	failWrites map[string]error
}

func (s *memStore) failWrite(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites == nil {
		s.failWrites = make(map[string]error)
	}
	s.failWrites[name] = err
}

func newMemStore() *memStore {
	return &memStore{
		groups:  make(map[string]*model.Group),
		members: make(map[string]map[string]time.Time),
		users:   make(map[string]*model.User),
		games: map[string]*model.Game{
			"wow": {ID: "wow", PlatformID: "pc", Title: "World of Warcraft"},
			"ffx": {ID: "ffx", PlatformID: "ps", Title: "Final Fantasy X"},
		},
		platforms: []*model.Platform{{ID: "pc", Name: "PC"}, {ID: "ps", Name: "PlayStation"}},
	}
}

func (s *memStore) addUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &model.User{ID: id, UserName: name, Email: name + "@example.com"}
}

func (s *memStore) deleteCascadeLocked(groupID string) bool {
	if _, ok := s.groups[groupID]; !ok {
		return false
	}
	delete(s.groups, groupID)
	delete(s.members, groupID)
	s.messages = slices.DeleteFunc(s.messages, func(m *model.Message) bool { return m.GroupID == groupID })
	return true
}

type memGroupRepo struct{ s *memStore }

func (r memGroupRepo) CreateWithCreator(_ context.Context, group *model.Group) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.groups[group.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	g := *group
	r.s.groups[g.ID] = &g
	r.s.members[g.ID] = map[string]time.Time{g.CreatorID: g.CreatedAt}
	return nil
}

func (r memGroupRepo) FindByID(_ context.Context, id string) (*model.Group, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *g
	return &cp, nil
}

func (r memGroupRepo) FindLive(_ context.Context, gameID string, now time.Time) ([]*model.GroupSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.GroupSummary
	for _, g := range r.s.groups {
		if !g.ExpiresAt.After(now) || (gameID != "" && g.GameID != gameID) {
			continue
		}
		summary := &model.GroupSummary{Group: *g, MemberCount: int64(len(r.s.members[g.ID]))}
		if u, ok := r.s.users[g.CreatorID]; ok {
			summary.CreatorName = u.UserName
		}
		if game, ok := r.s.games[g.GameID]; ok {
			summary.GameTitle = game.Title
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memGroupRepo) UpdateName(_ context.Context, id, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failWrites["update_name"]; err != nil {
		return err
	}
	g, ok := r.s.groups[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	g.Name = name
	return nil
}

func (r memGroupRepo) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failWrites["delete"]; err != nil {
		return false, err
	}
	return r.s.deleteCascadeLocked(id), nil
}

func (r memGroupRepo) FindExpired(_ context.Context, now time.Time, limit int) ([]*model.Group, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Group
	for _, g := range r.s.groups {
		if !g.ExpiresAt.After(now) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memGroupRepo) DeleteIfExpired(_ context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[id]
	if !ok || g.ExpiresAt.After(now) {
		return false, nil
	}
	return r.s.deleteCascadeLocked(id), nil
}

type memMemberRepo struct{ s *memStore }

func (r memMemberRepo) AddIfLive(_ context.Context, member *model.GroupMember, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[member.GroupID]
	if !ok || !g.ExpiresAt.After(now) {
		return false, nil
	}
	if _, dup := r.s.members[member.GroupID][member.UserID]; dup {
		return false, gorm.ErrDuplicatedKey
	}
	r.s.members[member.GroupID][member.UserID] = member.JoinedAt
	return true, nil
}

func (r memMemberRepo) Remove(_ context.Context, groupID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.members[groupID][userID]; !ok {
		return false, nil
	}
	delete(r.s.members[groupID], userID)
	return true, nil
}

func (r memMemberRepo) Exists(_ context.Context, groupID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.members[groupID][userID]
	return ok, nil
}

func (r memMemberRepo) ListByGroup(_ context.Context, groupID string) ([]*model.MemberView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.MemberView
	for userID, joined := range r.s.members[groupID] {
		view := &model.MemberView{UserID: userID, JoinedAt: joined}
		if u, ok := r.s.users[userID]; ok {
			view.Username = u.UserName
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

type memMessageRepo struct{ s *memStore }

func (r memMessageRepo) Create(_ context.Context, message *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failWrites["create_message"]; err != nil {
		return err
	}
	if _, ok := r.s.groups[message.GroupID]; !ok {
		return gorm.ErrForeignKeyViolated
	}
	m := *message
	r.s.messages = append(r.s.messages, &m)
	return nil
}

func (r memMessageRepo) viewLocked(m *model.Message) *model.MessageView {
	view := &model.MessageView{
		ID: m.ID, GroupID: m.GroupID, AuthorID: m.UserID, Content: m.Content, CreatedAt: m.CreatedAt,
	}
	if u, ok := r.s.users[m.UserID]; ok {
		view.Username = u.UserName
	}
	return view
}

func (r memMessageRepo) FindRecent(_ context.Context, groupID string, limit int) ([]*model.MessageView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.MessageView
	for _, m := range r.s.messages {
		if m.GroupID == groupID {
			out = append(out, r.viewLocked(m))
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r memMessageRepo) FindByID(_ context.Context, id string) (*model.MessageView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == id {
			return r.viewLocked(m), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type memUserRepo struct{ s *memStore }

func (r memUserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.UserName == user.UserName || u.Email == user.Email {
			return gorm.ErrDuplicatedKey
		}
	}
	u := *user
	r.s.users[u.ID] = &u
	return nil
}

func (r memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memUserRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.UserName == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

type memCatalogRepo struct{ s *memStore }

func (r memCatalogRepo) ListPlatforms(context.Context) ([]*model.Platform, error) {
	return r.s.platforms, nil
}

func (r memCatalogRepo) ListGames(_ context.Context, platformID string) ([]*model.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Game
	for _, g := range r.s.games {
		if platformID == "" || g.PlatformID == platformID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (r memCatalogRepo) GameExists(_ context.Context, gameID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.games[gameID]
	return ok, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []kafka.LifecycleEvent
}

func (s *recordingSink) Emit(_ context.Context, event kafka.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// watcher is a room subscriber that records every event it receives.
type watcher struct {
	id     string
	userID string
	mu     sync.Mutex
	events []*gateway.Event
}

func (w *watcher) SessionID() string { return w.id }
func (w *watcher) UserID() string    { return w.userID }
func (w *watcher) Username() string  { return w.userID }
func (w *watcher) Active() bool      { return true }

func (w *watcher) Deliver(event *gateway.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

func (w *watcher) of(eventType string) []*gateway.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*gateway.Event
	for _, e := range w.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

const testTTL = 4 * time.Hour

type harness struct {
	store    *memStore
	clock    *fakeClock
	rooms    *gateway.RoomBroadcaster
	sink     *recordingSink
	redis    *miniredis.Miniredis
	cache    *redispkg.Client
	policy   ExpiryPolicy
	groups   IGroupService
	messages IMessageService
	auth     IAuthService
	catalog  ICatalogService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
	policy := ExpiryPolicy{TTL: testTTL, Now: clock.Now}
	rooms := gateway.NewRoomBroadcaster(zap.NewNop())
	sink := &recordingSink{}

	mr := miniredis.RunT(t)
	cache := redispkg.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })

	ids, err := snowflake.NewGenerator(1)
	require.NoError(t, err)

	groupRepo := memGroupRepo{store}
	memberRepo := memMemberRepo{store}
	userRepo := memUserRepo{store}

	h := &harness{
		store:  store,
		clock:  clock,
		rooms:  rooms,
		sink:   sink,
		redis:  mr,
		cache:  cache,
		policy: policy,
		groups: NewGroupService(groupRepo, memberRepo, memCatalogRepo{store}, cache, rooms, sink, policy, zap.NewNop()),
		messages: NewMessageService(MessageServiceDeps{
			Groups:   groupRepo,
			Members:  memberRepo,
			Messages: memMessageRepo{store},
			Users:    userRepo,
			History:  cache,
			Notifier: rooms,
			Sink:     sink,
			IDs:      ids,
		}, policy, 50, zap.NewNop()),
		auth:    NewAuthService(userRepo, jwt.NewTokenManager("test-secret", 24*7, 24), zap.NewNop()),
		catalog: NewCatalogService(memCatalogRepo{store}),
	}
	for _, u := range []string{"alice", "bob", "carol"} {
		store.addUser(u, u)
	}
	return h
}

func (h *harness) watch(t *testing.T, groupID, userID string) *watcher {
	t.Helper()
	w := &watcher{id: "session-" + userID, userID: userID}
	_, err := h.rooms.Subscribe(groupID, w)
	require.NoError(t, err)
	return w
}

func (h *harness) createGroup(t *testing.T, creatorID, name string) *model.Group {
	t.Helper()
	g, err := h.groups.CreateGroup(context.Background(), creatorID, &CreateGroupRequest{Name: name, GameID: "wow"})
	require.NoError(t, err)
	return g
}

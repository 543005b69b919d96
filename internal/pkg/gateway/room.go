package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/twmb/murmur3"
	"go.uber.org/zap"
)

const (
	shardCount = 32

	// tombstoneTTL bounds how long a dropped group refuses new subscribers.
	tombstoneTTL = 10 * time.Minute
)

var (
	ErrRoomDropped      = errors.New("room has been dropped")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

// Subscriber is a live endpoint that can receive room events.
type Subscriber interface {
	SessionID() string
	UserID() string
	Username() string
	// Active reports whether the subscriber still accepts subscriptions.
	Active() bool
	// Deliver enqueues the event without blocking.
	Deliver(event *Event) error
}

type room struct {
	mu   sync.Mutex
	subs map[string]Subscriber
	dead bool
}

type shard struct {
	mu      sync.Mutex
	rooms   map[string]*room
	dropped map[string]time.Time
}

// RoomBroadcaster maps group IDs to the set of live subscribers. Operations
// on one group are serialized by that room's mutex; rooms are spread over
// murmur3-selected shards so different groups never contend on one lock.
type RoomBroadcaster struct {
	shards [shardCount]*shard
	logger *zap.Logger
	now    func() time.Time
}

func NewRoomBroadcaster(logger *zap.Logger) *RoomBroadcaster {
	b := &RoomBroadcaster{logger: logger, now: time.Now}
	for i := range b.shards {
		b.shards[i] = &shard{
			rooms:   make(map[string]*room),
			dropped: make(map[string]time.Time),
		}
	}
	return b
}

func (b *RoomBroadcaster) shardFor(groupID string) *shard {
	return b.shards[murmur3.Sum32([]byte(groupID))%shardCount]
}

// lockRoom returns the group's room locked, or nil when it does not exist and
// create is false. A room found dead was removed concurrently and is retried.
func (b *RoomBroadcaster) lockRoom(groupID string, create bool) (*room, error) {
	s := b.shardFor(groupID)
	for {
		s.mu.Lock()
		r, ok := s.rooms[groupID]
		if !ok {
			if !create {
				s.mu.Unlock()
				return nil, nil
			}
			if at, dropped := s.dropped[groupID]; dropped && b.now().Sub(at) < tombstoneTTL {
				s.mu.Unlock()
				return nil, ErrRoomDropped
			}
			r = &room{subs: make(map[string]Subscriber)}
			s.rooms[groupID] = r
		}
		s.mu.Unlock()

		r.mu.Lock()
		if !r.dead {
			return r, nil
		}
		r.mu.Unlock()
	}
}

// removeLocked unlinks r from its shard. Caller holds r.mu.
func (b *RoomBroadcaster) removeLocked(groupID string, r *room, tombstone bool) {
	r.dead = true
	s := b.shardFor(groupID)
	s.mu.Lock()
	if s.rooms[groupID] == r {
		delete(s.rooms, groupID)
	}
	if tombstone {
		b.tombstoneLocked(s, groupID)
	}
	s.mu.Unlock()
}

// tombstoneLocked records groupID as dropped and forgets tombstones older
// than tombstoneTTL. Caller holds s.mu.
func (b *RoomBroadcaster) tombstoneLocked(s *shard, groupID string) {
	now := b.now()
	for id, at := range s.dropped {
		if now.Sub(at) >= tombstoneTTL {
			delete(s.dropped, id)
		}
	}
	s.dropped[groupID] = now
}

func (b *RoomBroadcaster) tombstoneCount() int {
	n := 0
	for _, s := range b.shards {
		s.mu.Lock()
		n += len(s.dropped)
		s.mu.Unlock()
	}
	return n
}

// deliverLocked sends event to every subscriber except skip and returns the
// number of successful deliveries. Caller holds r.mu.
func (b *RoomBroadcaster) deliverLocked(r *room, event *Event, skip string) int {
	delivered := 0
	for id, sub := range r.subs {
		if id == skip {
			continue
		}
		if err := sub.Deliver(event); err != nil {
			b.logger.Warn("room delivery failed",
				zap.String("group_id", event.GroupID),
				zap.String("type", event.Type),
				zap.String("session_id", id),
				zap.String("user_id", sub.UserID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Subscribe adds sub to the group's room and announces user_joined to the
// other subscribers. It returns false when sub was already subscribed.
func (b *RoomBroadcaster) Subscribe(groupID string, sub Subscriber) (bool, error) {
	r, err := b.lockRoom(groupID, true)
	if err != nil {
		return false, err
	}
	defer func() {
		if len(r.subs) == 0 {
			b.removeLocked(groupID, r, false)
		}
		r.mu.Unlock()
	}()

	if !sub.Active() {
		return false, ErrSubscriberClosed
	}
	if _, ok := r.subs[sub.SessionID()]; ok {
		return false, nil
	}
	r.subs[sub.SessionID()] = sub

	b.deliverLocked(r, NewEvent(EventUserJoined, groupID, PresencePayload{
		UserID:   sub.UserID(),
		Username: sub.Username(),
	}), sub.SessionID())
	return true, nil
}

// Unsubscribe removes sub from the room and announces user_left to the
// remaining subscribers. It is a no-op returning false when sub is absent.
func (b *RoomBroadcaster) Unsubscribe(groupID string, sub Subscriber) bool {
	r, _ := b.lockRoom(groupID, false)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.SessionID()]; !ok {
		return false
	}
	delete(r.subs, sub.SessionID())

	if len(r.subs) == 0 {
		b.removeLocked(groupID, r, false)
		return true
	}
	b.deliverLocked(r, NewEvent(EventUserLeft, groupID, PresencePayload{
		UserID:   sub.UserID(),
		Username: sub.Username(),
	}), "")
	return true
}

// Publish delivers one event to every current subscriber of the group and
// returns how many deliveries succeeded.
func (b *RoomBroadcaster) Publish(groupID, eventType string, payload any) int {
	r, _ := b.lockRoom(groupID, false)
	if r == nil {
		return 0
	}
	defer r.mu.Unlock()

	return b.deliverLocked(r, NewEvent(eventType, groupID, payload), "")
}

// DropRoom sends group_deleted with reason to every subscriber, then removes
// the room. Later subscriptions to the group are refused for a while so a
// join racing with the deletion cannot recreate it.
func (b *RoomBroadcaster) DropRoom(groupID, reason string) int {
	r, _ := b.lockRoom(groupID, false)
	if r == nil {
		s := b.shardFor(groupID)
		s.mu.Lock()
		b.tombstoneLocked(s, groupID)
		s.mu.Unlock()
		return 0
	}
	defer r.mu.Unlock()

	delivered := b.deliverLocked(r, NewEvent(EventGroupDeleted, groupID, GroupDeletedPayload{
		GroupID: groupID,
		Reason:  reason,
	}), "")
	clear(r.subs)
	b.removeLocked(groupID, r, true)

	b.logger.Info("room dropped",
		zap.String("group_id", groupID),
		zap.String("reason", reason),
		zap.Int("delivered", delivered),
	)
	return delivered
}

// RoomSize returns the number of subscribers in the group's room.
func (b *RoomBroadcaster) RoomSize(groupID string) int {
	r, _ := b.lockRoom(groupID, false)
	if r == nil {
		return 0
	}
	defer r.mu.Unlock()
	return len(r.subs)
}

// IsSubscribed reports whether the session is in the group's room.
func (b *RoomBroadcaster) IsSubscribed(groupID, sessionID string) bool {
	r, _ := b.lockRoom(groupID, false)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()
	_, ok := r.subs[sessionID]
	return ok
}

// RoomCount returns the number of non-empty rooms.
func (b *RoomBroadcaster) RoomCount() int {
	n := 0
	for _, s := range b.shards {
		s.mu.Lock()
		n += len(s.rooms)
		s.mu.Unlock()
	}
	return n
}

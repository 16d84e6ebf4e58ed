package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"roomchat/pkg/domain"
)

// MemoryStore keeps rooms, messages and users in-process. Used by tests and
// local runs without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	rooms     map[string]domain.Room
	messages  map[string][]domain.Message // room ID -> messages in created order
	users     map[string]domain.User      // key: user ID
	nicknames map[string]string           // nickname -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     make(map[string]domain.Room),
		messages:  make(map[string][]domain.Message),
		users:     make(map[string]domain.User),
		nicknames: make(map[string]string),
	}
}

func (m *MemoryStore) CreateRoom(_ context.Context, room domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.ID]; ok {
		return ErrConflict
	}
	m.rooms[room.ID] = room
	return nil
}

func (m *MemoryStore) RoomExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[id]
	return ok, nil
}

func (m *MemoryStore) ListRooms(_ context.Context) ([]domain.Room, error) {
	m.mu.RLock()
	res := make([]domain.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		res = append(res, r)
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// AppendMessage inserts msg keeping the room's log sorted by CreatedAt.
func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.messages[msg.RoomID]
	idx := sort.Search(len(log), func(i int) bool {
		return log[i].CreatedAt.After(msg.CreatedAt)
	})
	m.messages[msg.RoomID] = slices.Insert(log, idx, msg)
	return nil
}

func (m *MemoryStore) LastMessages(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	limit = ClampHistoryLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.messages[roomID]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	return slices.Clone(log), nil
}

func (m *MemoryStore) RoomTranscript(_ context.Context, roomID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.messages[roomID]), nil
}

func (m *MemoryStore) CreateUser(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nicknames[user.Nickname]; ok {
		return ErrConflict
	}
	if _, ok := m.users[user.ID]; ok {
		return ErrConflict
	}
	m.users[user.ID] = user
	m.nicknames[user.Nickname] = user.ID
	return nil
}

func (m *MemoryStore) GetUserByNickname(_ context.Context, nickname string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.nicknames[nickname]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) Close() error { return nil }

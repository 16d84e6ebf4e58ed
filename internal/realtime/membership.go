package realtime

import (
	"context"
	"sort"
	"sync"
)

// GroupStore is the many-to-many association between group keys (rooms) and
// connection ids. Every operation is idempotent.
type GroupStore interface {
	AddToGroup(ctx context.Context, group, memberID string) error
	RemoveFromGroup(ctx context.Context, group, memberID string) error
	// GetMembers returns the members of group sorted by id; empty if unused.
	GetMembers(ctx context.Context, group string) ([]string, error)
	// GetGroupsOf returns the groups memberID belongs to, sorted.
	GetGroupsOf(ctx context.Context, memberID string) ([]string, error)
}

// NameStore maps a connection id to the display name it joined with.
type NameStore interface {
	SetDisplayName(ctx context.Context, connectionID, name string) error
	DisplayName(ctx context.Context, connectionID string) (string, bool, error)
	ForgetDisplayName(ctx context.Context, connectionID string) error
}

// Membership is the realtime presence state: room membership plus display names.
type Membership interface {
	GroupStore
	NameStore
}

// MemoryMembership keeps presence state in-process (single instance only).
type MemoryMembership struct {
	mu      sync.RWMutex
	groups  map[string]map[string]struct{} // group -> members
	members map[string]map[string]struct{} // member -> groups
	names   map[string]string
}

func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{
		groups:  make(map[string]map[string]struct{}),
		members: make(map[string]map[string]struct{}),
		names:   make(map[string]string),
	}
}

func (m *MemoryMembership) AddToGroup(_ context.Context, group, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addPair(m.groups, group, memberID)
	addPair(m.members, memberID, group)
	return nil
}

func (m *MemoryMembership) RemoveFromGroup(_ context.Context, group, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	removePair(m.groups, group, memberID)
	removePair(m.members, memberID, group)
	return nil
}

func (m *MemoryMembership) GetMembers(_ context.Context, group string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.groups[group]), nil
}

func (m *MemoryMembership) GetGroupsOf(_ context.Context, memberID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.members[memberID]), nil
}

// SetDisplayName is last-write-wins.
func (m *MemoryMembership) SetDisplayName(_ context.Context, connectionID, name string) error {
	m.mu.Lock()
	m.names[connectionID] = name
	m.mu.Unlock()
	return nil
}

func (m *MemoryMembership) DisplayName(_ context.Context, connectionID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.names[connectionID]
	return name, ok, nil
}

func (m *MemoryMembership) ForgetDisplayName(_ context.Context, connectionID string) error {
	m.mu.Lock()
	delete(m.names, connectionID)
	m.mu.Unlock()
	return nil
}

func addPair(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[value] = struct{}{}
}

func removePair(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(index, key)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

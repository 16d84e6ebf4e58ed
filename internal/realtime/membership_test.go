package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisMembership(t *testing.T) (*RedisMembership, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m, err := NewRedisMembership(client, RedisMembershipConfig{Prefix: "test"})
	if err != nil {
		t.Fatalf("new redis membership: %v", err)
	}
	return m, srv
}

func TestMembershipStores(t *testing.T) {
	impls := map[string]func(t *testing.T) Membership{
		"memory": func(*testing.T) Membership { return NewMemoryMembership() },
		"redis": func(t *testing.T) Membership {
			m, _ := newRedisMembership(t)
			return m
		},
	}
	for name, open := range impls {
		t.Run(name, func(t *testing.T) {
			t.Run("idempotent add and remove", func(t *testing.T) { testIdempotence(t, open(t)) })
			t.Run("reverse index", func(t *testing.T) { testReverseIndex(t, open(t)) })
			t.Run("display names", func(t *testing.T) { testDisplayNames(t, open(t)) })
			t.Run("concurrent mutation", func(t *testing.T) { testConcurrentMutation(t, open(t)) })
		})
	}
}

func testIdempotence(t *testing.T, m Membership) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.AddToGroup(ctx, "room1", "c1"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	members, err := m.GetMembers(ctx, "room1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if fmt.Sprint(members) != "[c1]" {
		t.Fatalf("members after repeated add = %v", members)
	}
	for i := 0; i < 3; i++ {
		if err := m.RemoveFromGroup(ctx, "room1", "c1"); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	members, err = m.GetMembers(ctx, "room1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty group, got %v", members)
	}
	if err := m.RemoveFromGroup(ctx, "never-used", "c9"); err != nil {
		t.Fatalf("remove from unused group: %v", err)
	}
	unused, err := m.GetMembers(ctx, "never-used")
	if err != nil || len(unused) != 0 {
		t.Fatalf("unused group = %v, err = %v", unused, err)
	}
}

func testReverseIndex(t *testing.T, m Membership) {
	ctx := context.Background()
	for _, pair := range [][2]string{{"room2", "c1"}, {"room1", "c1"}, {"room1", "c2"}} {
		if err := m.AddToGroup(ctx, pair[0], pair[1]); err != nil {
			t.Fatalf("add %v: %v", pair, err)
		}
	}
	groups, err := m.GetGroupsOf(ctx, "c1")
	if err != nil {
		t.Fatalf("groups of c1: %v", err)
	}
	if fmt.Sprint(groups) != "[room1 room2]" {
		t.Fatalf("groups of c1 = %v", groups)
	}
	if err := m.RemoveFromGroup(ctx, "room2", "c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	groups, err = m.GetGroupsOf(ctx, "c1")
	if err != nil {
		t.Fatalf("groups of c1: %v", err)
	}
	if fmt.Sprint(groups) != "[room1]" {
		t.Fatalf("groups of c1 after remove = %v", groups)
	}
	members, err := m.GetMembers(ctx, "room1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if fmt.Sprint(members) != "[c1 c2]" {
		t.Fatalf("room1 members = %v", members)
	}
}

func testDisplayNames(t *testing.T, m Membership) {
	ctx := context.Background()
	if _, ok, err := m.DisplayName(ctx, "c1"); err != nil || ok {
		t.Fatalf("unset name ok=%v err=%v", ok, err)
	}
	if err := m.SetDisplayName(ctx, "c1", "Anonymous"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := m.SetDisplayName(ctx, "c1", "alice"); err != nil {
		t.Fatalf("overwrite name: %v", err)
	}
	name, ok, err := m.DisplayName(ctx, "c1")
	if err != nil || !ok || name != "alice" {
		t.Fatalf("name = %q ok=%v err=%v", name, ok, err)
	}
	groups, err := m.GetGroupsOf(ctx, "c1")
	if err != nil || len(groups) != 0 {
		t.Fatalf("display names must not appear as groups: %v, err = %v", groups, err)
	}
	if err := m.ForgetDisplayName(ctx, "c1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok, err := m.DisplayName(ctx, "c1"); err != nil || ok {
		t.Fatalf("forgotten name ok=%v err=%v", ok, err)
	}
}

func testConcurrentMutation(t *testing.T, m Membership) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%02d", i)
			if err := m.AddToGroup(ctx, "busy", id); err != nil {
				t.Errorf("add %s: %v", id, err)
			}
			if i%2 == 0 {
				if err := m.RemoveFromGroup(ctx, "busy", id); err != nil {
					t.Errorf("remove %s: %v", id, err)
				}
			}
		}(i)
	}
	wg.Wait()
	members, err := m.GetMembers(ctx, "busy")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 10 {
		t.Fatalf("expected 10 remaining members, got %d: %v", len(members), members)
	}
}

func TestRedisMembershipKeys(t *testing.T) {
	m, srv := newRedisMembership(t)
	ctx := context.Background()
	if err := m.AddToGroup(ctx, "room1", "c1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.SetDisplayName(ctx, "c1", "alice"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if ok, _ := srv.SIsMember("test:group:room1", "c1"); !ok {
		t.Fatalf("expected group set entry")
	}
	if ok, _ := srv.SIsMember("test:member:c1", "room1"); !ok {
		t.Fatalf("expected reverse index entry")
	}
	// Names live until the connection is released; an open connection never
	// falls back to the anonymous name.
	srv.FastForward(48 * time.Hour)
	if name, ok, err := m.DisplayName(ctx, "c1"); err != nil || !ok || name != "alice" {
		t.Fatalf("name=%q ok=%v err=%v", name, ok, err)
	}
}

func TestRedisMembershipResetClearsStalePresence(t *testing.T) {
	m, srv := newRedisMembership(t)
	ctx := context.Background()
	for i := range 250 {
		id := fmt.Sprintf("c%d", i)
		if err := m.AddToGroup(ctx, "room1", id); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := m.SetDisplayName(ctx, id, "user"); err != nil {
			t.Fatalf("set name: %v", err)
		}
	}
	if err := srv.Set("test:ratelimit:send:u1", "3"); err != nil {
		t.Fatalf("seed unrelated key: %v", err)
	}
	if err := srv.Set("other:group:room1", "x"); err != nil {
		t.Fatalf("seed foreign key: %v", err)
	}

	removed, err := m.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	// one group set, 250 reverse indexes, 250 names
	if removed != 501 {
		t.Fatalf("removed %d keys, want 501", removed)
	}
	members, err := m.GetMembers(ctx, "room1")
	if err != nil || len(members) != 0 {
		t.Fatalf("expected empty room after reset, got %v err=%v", members, err)
	}
	if _, ok, _ := m.DisplayName(ctx, "c1"); ok {
		t.Fatalf("expected names cleared")
	}
	if !srv.Exists("test:ratelimit:send:u1") || !srv.Exists("other:group:room1") {
		t.Fatalf("reset removed keys outside the presence namespace: %v", srv.Keys())
	}
}

func TestRedisMembershipSurfacesErrors(t *testing.T) {
	m, srv := newRedisMembership(t)
	srv.Close()
	ctx := context.Background()
	if err := m.AddToGroup(ctx, "room1", "c1"); err == nil {
		t.Fatalf("expected add to fail when redis is down")
	}
	if _, err := m.GetMembers(ctx, "room1"); err == nil {
		t.Fatalf("expected members lookup to fail when redis is down")
	}
}

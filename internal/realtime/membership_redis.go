package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisMembershipConfig struct {
	Prefix string
}

// RedisMembership keeps presence state in Redis sets. Event delivery is local
// to the process that owns the connections, so one process owns a prefix;
// Reset clears what a previous run of that process left behind.
//
//	<prefix>:group:<group>   SET of member ids
//	<prefix>:member:<id>     SET of groups (reverse index)
//	<prefix>:name:<id>       STRING display name
type RedisMembership struct {
	client *redis.Client
	prefix string
}

func NewRedisMembership(client *redis.Client, cfg RedisMembershipConfig) (*RedisMembership, error) {
	if client == nil {
		return nil, errors.New("redis membership requires a client")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "roomchat"
	}
	return &RedisMembership{client: client, prefix: prefix}, nil
}

// Reset deletes every presence key under the prefix. Connection ids do not
// survive a restart, so members recorded by an earlier process are stale.
// It returns the number of keys removed.
func (m *RedisMembership) Reset(ctx context.Context) (int, error) {
	removed := 0
	for _, pattern := range []string{m.prefix + ":group:*", m.prefix + ":member:*", m.prefix + ":name:*"} {
		iter := m.client.Scan(ctx, 0, pattern, 200).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == 200 {
				if err := m.client.Del(ctx, batch...).Err(); err != nil {
					return removed, fmt.Errorf("delete presence keys: %w", err)
				}
				removed += len(batch)
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(batch) > 0 {
			if err := m.client.Del(ctx, batch...).Err(); err != nil {
				return removed, fmt.Errorf("delete presence keys: %w", err)
			}
			removed += len(batch)
		}
	}
	return removed, nil
}

func (m *RedisMembership) AddToGroup(ctx context.Context, group, memberID string) error {
	pipe := m.client.TxPipeline()
	pipe.SAdd(ctx, m.groupKey(group), memberID)
	pipe.SAdd(ctx, m.memberKey(memberID), group)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *RedisMembership) RemoveFromGroup(ctx context.Context, group, memberID string) error {
	pipe := m.client.TxPipeline()
	pipe.SRem(ctx, m.groupKey(group), memberID)
	pipe.SRem(ctx, m.memberKey(memberID), group)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *RedisMembership) GetMembers(ctx context.Context, group string) ([]string, error) {
	return m.sortedMembers(ctx, m.groupKey(group))
}

func (m *RedisMembership) GetGroupsOf(ctx context.Context, memberID string) ([]string, error) {
	return m.sortedMembers(ctx, m.memberKey(memberID))
}

func (m *RedisMembership) SetDisplayName(ctx context.Context, connectionID, name string) error {
	return m.client.Set(ctx, m.nameKey(connectionID), name, 0).Err()
}

func (m *RedisMembership) DisplayName(ctx context.Context, connectionID string) (string, bool, error) {
	name, err := m.client.Get(ctx, m.nameKey(connectionID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (m *RedisMembership) ForgetDisplayName(ctx context.Context, connectionID string) error {
	return m.client.Del(ctx, m.nameKey(connectionID)).Err()
}

func (m *RedisMembership) sortedMembers(ctx context.Context, key string) ([]string, error) {
	members, err := m.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (m *RedisMembership) groupKey(group string) string   { return m.prefix + ":group:" + group }
func (m *RedisMembership) memberKey(member string) string { return m.prefix + ":member:" + member }
func (m *RedisMembership) nameKey(member string) string   { return m.prefix + ":name:" + member }

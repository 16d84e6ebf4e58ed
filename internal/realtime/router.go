package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Router delivers payloads to the live connections of a group, or to a single
// connection on the direct channel.
type Router struct {
	registry *Registry
	groups   GroupStore
}

func NewRouter(registry *Registry, groups GroupStore) *Router {
	return &Router{registry: registry, groups: groups}
}

// SendToGroup delivers payload to every current member of group. Members that
// are not attached to an open stream are skipped.
func (r *Router) SendToGroup(ctx context.Context, group string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	members, err := r.groups.GetMembers(ctx, group)
	if err != nil {
		return fmt.Errorf("list members of %q: %w", group, err)
	}
	ev := Event{Destination: group, Data: data}
	for _, id := range members {
		r.registry.Deliver(id, ev)
	}
	return nil
}

// SendToConnection delivers payload on the direct channel. An unknown or
// closed connection is a silent no-op.
func (r *Router) SendToConnection(_ context.Context, connectionID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	r.registry.Deliver(connectionID, Event{Destination: DirectDestination, Data: data})
	return nil
}

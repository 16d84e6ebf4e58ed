package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"roomchat/internal/realtime"
	"roomchat/pkg/domain"
	"roomchat/pkg/events"
)

// OpenConnection registers a new push stream. The caller must pass it to
// Stream so that disconnect cleanup runs.
func (a *App) OpenConnection() (*realtime.Connection, ConnectionResponse, error) {
	conn, err := a.registry.Open()
	if err != nil {
		return nil, ConnectionResponse{}, err
	}
	return conn, ConnectionResponse{EventType: EventConnectionResponse, ConnectionID: conn.ID()}, nil
}

// Stream forwards the connection's events to write until the client goes away.
func (a *App) Stream(ctx context.Context, conn *realtime.Connection, write func(realtime.Event) error) error {
	return a.registry.Stream(ctx, conn, write)
}

// Join adds a connection to a room. The join announcement goes out before the
// connection is added so the joiner never receives its own announcement, and
// recent history is delivered to the joiner alone.
func (a *App) Join(ctx context.Context, roomID, connectionID string, user *domain.User) error {
	roomID, err := validateRoomID(roomID)
	if err != nil {
		return err
	}
	connectionID, err = validateConnectionID(connectionID)
	if err != nil {
		return err
	}
	if err := a.requireRoom(ctx, roomID); err != nil {
		return err
	}
	if !a.registry.Has(connectionID) {
		return errConnectionNotOpen(connectionID)
	}

	name := domain.AnonymousNickname
	if user != nil && user.Nickname != "" {
		name = user.Nickname
	}
	if err := a.membership.SetDisplayName(ctx, connectionID, name); err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	if err := a.router.SendToGroup(ctx, roomID, newSystemMessage(KindJoin, "someone entered "+roomID)); err != nil {
		return fmt.Errorf("announce join: %w", err)
	}
	if err := a.membership.AddToGroup(ctx, roomID, connectionID); err != nil {
		return fmt.Errorf("add to room: %w", err)
	}
	// The stream may have ended after the first check, past the point where
	// its disconnect cleanup could see this membership.
	if !a.registry.Has(connectionID) {
		if err := a.membership.RemoveFromGroup(ctx, roomID, connectionID); err != nil {
			return fmt.Errorf("undo add to room: %w", err)
		}
		if err := a.membership.ForgetDisplayName(ctx, connectionID); err != nil {
			return fmt.Errorf("undo display name: %w", err)
		}
		if err := a.broadcastMembers(ctx, roomID); err != nil {
			return err
		}
		return errConnectionNotOpen(connectionID)
	}
	if err := a.broadcastMembers(ctx, roomID); err != nil {
		return err
	}

	history, err := a.store.LastMessages(ctx, roomID, a.historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	return a.router.SendToConnection(ctx, connectionID, RoomHistory{
		EventType: EventRoomHistory,
		RoomID:    roomID,
		Messages:  HistoryFromMessages(history),
	})
}

// Leave removes a connection from a room. Its display name is kept for any
// other rooms it is still in.
func (a *App) Leave(ctx context.Context, roomID, connectionID string) error {
	roomID, err := validateRoomID(roomID)
	if err != nil {
		return err
	}
	connectionID, err = validateConnectionID(connectionID)
	if err != nil {
		return err
	}
	if err := a.requireRoom(ctx, roomID); err != nil {
		return err
	}
	if err := a.membership.RemoveFromGroup(ctx, roomID, connectionID); err != nil {
		return fmt.Errorf("remove from room: %w", err)
	}
	if err := a.router.SendToGroup(ctx, roomID, newSystemMessage(KindLeave, "someone left "+roomID)); err != nil {
		return fmt.Errorf("announce leave: %w", err)
	}
	return a.broadcastMembers(ctx, roomID)
}

// SendMessage persists a message and then broadcasts it to the room.
func (a *App) SendMessage(ctx context.Context, roomID, content string, user *domain.User) (domain.Message, error) {
	if user == nil {
		return domain.Message{}, ErrUnauthenticated
	}
	roomID, err := validateRoomID(roomID)
	if err != nil {
		return domain.Message{}, err
	}
	content, err = validateContent(content)
	if err != nil {
		return domain.Message{}, err
	}
	if err := a.requireRoom(ctx, roomID); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Content:   content,
		From:      user.Nickname,
		CreatedAt: a.now(),
	}
	if err := a.store.AppendMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	if err := a.router.SendToGroup(ctx, roomID, MessageReceived{
		EventType: EventMessageReceived,
		Kind:      KindMessage,
		Message:   msg.Content,
		From:      msg.From,
	}); err != nil {
		return domain.Message{}, fmt.Errorf("broadcast message: %w", err)
	}
	a.publish(ctx, events.MessageCreated, events.MessageCreatedEvent{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		Content:   msg.Content,
		From:      msg.From,
		CreatedAt: msg.CreatedAt,
	})
	return msg, nil
}

// Poke notifies one connection. Unknown targets are ignored.
func (a *App) Poke(ctx context.Context, targetConnectionID string, user *domain.User) error {
	if user == nil {
		return ErrUnauthenticated
	}
	targetConnectionID, err := validateConnectionID(targetConnectionID)
	if err != nil {
		return err
	}
	return a.router.SendToConnection(ctx, targetConnectionID, PokeResponse{
		EventType: EventPokeResponse,
		Kind:      KindPoke,
		Message:   pokeMessage,
	})
}

// handleDisconnect runs once per closed stream. A failure in one room is
// logged and does not stop cleanup of the others.
func (a *App) handleDisconnect(ctx context.Context, d realtime.Disconnect) {
	logger := slog.With("connection_id", d.ConnectionID)
	for _, roomID := range d.Groups {
		if err := a.membership.RemoveFromGroup(ctx, roomID, d.ConnectionID); err != nil {
			logger.Warn("disconnect cleanup: remove from room", "room_id", roomID, "err", err)
		}
		if err := a.router.SendToGroup(ctx, roomID, newSystemMessage(KindDisconnect, "someone disconnected")); err != nil {
			logger.Warn("disconnect cleanup: announce", "room_id", roomID, "err", err)
		}
	}
	if err := a.membership.ForgetDisplayName(ctx, d.ConnectionID); err != nil {
		logger.Warn("disconnect cleanup: forget display name", "err", err)
	}
}

func (a *App) broadcastMembers(ctx context.Context, roomID string) error {
	ids, err := a.membership.GetMembers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		name, ok, err := a.membership.DisplayName(ctx, id)
		if err != nil {
			return fmt.Errorf("resolve display name: %w", err)
		}
		if !ok {
			name = domain.AnonymousNickname
		}
		members = append(members, Member{ConnectionID: id, Nickname: name})
	}
	if err := a.router.SendToGroup(ctx, roomID, MemberList{EventType: EventMemberList, Members: members}); err != nil {
		return fmt.Errorf("broadcast members: %w", err)
	}
	return nil
}

// publish emits a domain event. Failures are logged; the operation that
// produced the event has already committed.
func (a *App) publish(ctx context.Context, routingKey string, data any) {
	if err := a.publisher.Publish(ctx, routingKey, data); err != nil {
		slog.Warn("publish domain event", "routing_key", routingKey, "err", err)
	}
}

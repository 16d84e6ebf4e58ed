package app

import (
	"context"
	"errors"
	"fmt"

	"roomchat/pkg/domain"
	"roomchat/pkg/events"
	"roomchat/pkg/store"
)

func (a *App) CreateRoom(ctx context.Context, roomID string) (domain.Room, error) {
	roomID, err := validateRoomID(roomID)
	if err != nil {
		return domain.Room{}, err
	}
	room := domain.Room{ID: roomID, CreatedAt: a.now()}
	if err := a.store.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Room{}, ErrRoomAlreadyExists
		}
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	a.publish(ctx, events.RoomCreated, events.RoomCreatedEvent{RoomID: room.ID})
	return room, nil
}

// ListRooms returns every room ordered by creation time.
func (a *App) ListRooms(ctx context.Context) ([]domain.Room, error) {
	rooms, err := a.store.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// ListMessages returns the newest messages of a room, oldest first. A nil
// limit selects the configured history size; any other value is clamped.
func (a *App) ListMessages(ctx context.Context, roomID string, limit *int) ([]domain.Message, error) {
	roomID, err := validateRoomID(roomID)
	if err != nil {
		return nil, err
	}
	if err := a.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	n := a.historyLimit
	if limit != nil {
		n = *limit
	}
	msgs, err := a.store.LastMessages(ctx, roomID, store.ClampHistoryLimit(n))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

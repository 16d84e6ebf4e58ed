package store

import (
	"context"
	"errors"

	"roomchat/pkg/domain"
)

const (
	DefaultHistoryLimit = 5
	MaxHistoryLimit     = 50
)

// ErrConflict is returned when a unique key (room id, nickname) already exists.
var ErrConflict = errors.New("store: conflict")

// Store defines persistence for rooms, messages and users.
type Store interface {
	// rooms
	CreateRoom(ctx context.Context, room domain.Room) error
	RoomExists(ctx context.Context, id string) (bool, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)

	// messages
	AppendMessage(ctx context.Context, msg domain.Message) error
	// LastMessages returns the newest limit messages of a room, oldest first.
	LastMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	// RoomTranscript returns every message of a room, oldest first.
	RoomTranscript(ctx context.Context, roomID string) ([]domain.Message, error)

	// users
	CreateUser(ctx context.Context, user domain.User) error
	GetUserByNickname(ctx context.Context, nickname string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)

	Close() error
}

// SessionStore issues and validates bearer tokens.
type SessionStore interface {
	NewSession(userID string, role domain.UserRole) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// ClampHistoryLimit bounds a history page size to [1, MaxHistoryLimit].
func ClampHistoryLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

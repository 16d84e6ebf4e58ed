package store

import (
	"time"

	"roomchat/pkg/domain"
)

// GORM models used for persistence.
type RoomModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (RoomModel) TableName() string { return "rooms" }

type MessageModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	RoomID    string    `gorm:"size:64;not null;index:idx_messages_room_created,priority:1"`
	Content   string    `gorm:"type:text;not null"`
	FromName  *string   `gorm:"column:from_name"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_room_created,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

type UserModel struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Nickname     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

func roomToModel(r domain.Room) RoomModel {
	return RoomModel{ID: r.ID, CreatedAt: r.CreatedAt.UTC()}
}

func roomFromModel(m RoomModel) domain.Room {
	return domain.Room{ID: m.ID, CreatedAt: m.CreatedAt.UTC()}
}

func messageToModel(msg domain.Message) MessageModel {
	model := MessageModel{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UTC(),
	}
	if msg.From != "" {
		from := msg.From
		model.FromName = &from
	}
	return model
}

func messageFromModel(m MessageModel) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.FromName != nil {
		msg.From = *m.FromName
	}
	return msg
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Nickname:     u.Nickname,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt.UTC(),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Nickname:     m.Nickname,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

package app

import (
	"time"

	"roomchat/pkg/domain"
)

// Values of the "eventType" discriminant carried by every pushed payload.
const (
	EventConnectionResponse = "ConnectionResponse"
	EventSystemMessage      = "SystemMessage"
	EventMessageReceived    = "messageHasBeenReceived"
	EventRoomHistory        = "RoomHistory"
	EventPokeResponse       = "PokeResponse"
	EventMemberList         = "JoinRoomBroadcast"
)

type SystemKind string

const (
	KindJoin       SystemKind = "join"
	KindLeave      SystemKind = "leave"
	KindDisconnect SystemKind = "disconnect"
	KindMessage    SystemKind = "message"
	KindPoke       SystemKind = "poke"
)

const pokeMessage = "you have been poked"

type ConnectionResponse struct {
	EventType    string `json:"eventType"`
	ConnectionID string `json:"connectionId"`
}

type SystemMessage struct {
	EventType string     `json:"eventType"`
	Kind      SystemKind `json:"kind"`
	Message   string     `json:"message"`
}

type MessageReceived struct {
	EventType string     `json:"eventType"`
	Kind      SystemKind `json:"kind"`
	Message   string     `json:"message"`
	From      string     `json:"from"`
}

type HistoryMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	From      *string   `json:"from"`
	CreatedAt time.Time `json:"createdAt"`
}

type RoomHistory struct {
	EventType string           `json:"eventType"`
	RoomID    string           `json:"roomId"`
	Messages  []HistoryMessage `json:"messages"`
}

type PokeResponse struct {
	EventType string     `json:"eventType"`
	Kind      SystemKind `json:"kind"`
	Message   string     `json:"message"`
}

type Member struct {
	ConnectionID string `json:"connectionId"`
	Nickname     string `json:"nickname"`
}

type MemberList struct {
	EventType string   `json:"eventType"`
	Members   []Member `json:"connectionIdAndUserNames"`
}

func newSystemMessage(kind SystemKind, message string) SystemMessage {
	return SystemMessage{EventType: EventSystemMessage, Kind: kind, Message: message}
}

// HistoryFromMessages converts stored messages to their wire form; a missing
// sender encodes as null.
func HistoryFromMessages(msgs []domain.Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		hm := HistoryMessage{ID: m.ID, Content: m.Content, CreatedAt: m.CreatedAt}
		if m.From != "" {
			from := m.From
			hm.From = &from
		}
		out = append(out, hm)
	}
	return out
}

package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "User"
	RoleAdmin UserRole = "Admin"
)

// AnonymousNickname labels connections whose owner is not signed in.
const AnonymousNickname = "Anonymous"

type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one persisted chat line. From is empty when the sender is unknown.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"-"`
	Content   string    `json:"content"`
	From      string    `json:"from"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID           string    `json:"id"`
	Nickname     string    `json:"nickname"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ExportStatus string

const (
	ExportQueued     ExportStatus = "queued"
	ExportProcessing ExportStatus = "processing"
	ExportDone       ExportStatus = "done"
	ExportFailed     ExportStatus = "failed"
)

// ExportJob tracks an asynchronous room transcript export.
type ExportJob struct {
	ID           string       `json:"id"`
	RoomID       string       `json:"roomId"`
	RequestedBy  string       `json:"requestedBy"`
	Status       ExportStatus `json:"status"`
	ObjectKey    string       `json:"-"`
	DownloadURL  string       `json:"downloadUrl,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

package types

import (
	"time"
)

// Message is a single chat message as exchanged with clients. The ID is
// assigned by the durable store on persist; client-side temporary ids never
// appear on the wire.
type Message struct {
	ID        string    `json:"_id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserEmoji string    `json:"userEmoji"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	// Pending marks a locally queued message that has not been confirmed by
	// the server yet. Never set on server responses.
	Pending bool `json:"pending,omitempty"`
}

type ActiveUser struct {
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	UserEmoji  string    `json:"userEmoji"`
	LastActive time.Time `json:"lastActive"`
}

type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

type Room struct {
	ID               string       `json:"_id"`
	Name             string       `json:"name"`
	CreatorID        string       `json:"creatorId,omitempty"`
	IsPrivate        bool         `json:"isPrivate,omitempty"`
	IsPersonal       bool         `json:"isPersonal,omitempty"`
	P1               *Participant `json:"p1,omitempty"`
	P2               *Participant `json:"p2,omitempty"`
	LastActive       time.Time    `json:"lastActive"`
	ActiveUsersCount int          `json:"activeUsersCount"`
	CreatedAt        time.Time    `json:"createdAt,omitempty"`
}

// Envelope wraps a message for the recency buffer and the fan-out channel.
// TS is the message's creation time in unix milliseconds and is the ordering
// key, so replay stays chronological regardless of persistence latency.
type Envelope struct {
	TS      int64   `json:"ts"`
	Message Message `json:"message"`
}

func NewEnvelope(msg Message) Envelope {
	return Envelope{TS: msg.CreatedAt.UnixMilli(), Message: msg}
}

// Now returns the current UTC time rounded to millisecond precision, the
// resolution carried by envelope timestamps.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

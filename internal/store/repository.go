package store

import (
	"context"
	"errors"

	"github.com/anonchat/anonchat/internal/types"
)

var (
	// ErrUnavailable is returned when the backing store cannot be reached
	// after connection retries. Callers surface it as a transient failure.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned for unknown rooms, messages, or invite codes.
	ErrNotFound = errors.New("not found")
	// ErrInviteConsumed is returned when a one-time invite has already been
	// used by a different user.
	ErrInviteConsumed = errors.New("invite already used")
)

type CreateRoomParams struct {
	Name      string `json:"name"`
	CreatorID string `json:"-"`
	IsPrivate bool   `json:"isPrivate"`
}

type PersonalRoomParams struct {
	P1 types.Participant
	P2 types.Participant
}

// Repository is the durable store contract consumed by the delivery core.
// All persisted data is subject to coordinated time-based expiry: messages
// expire a fixed period after creation, rooms a fixed period after their
// last activity.
type Repository interface {
	Ping(ctx context.Context) error
	// SaveMessage assigns the authoritative id and timestamp, bumps the
	// owning room's lastActive, and persists the message.
	SaveMessage(ctx context.Context, msg types.Message) (types.Message, error)
	// ListRecentMessages returns up to limit persisted messages for the
	// room, ascending by creation time.
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]types.Message, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error)
	GetRoom(ctx context.Context, roomID string) (types.Room, error)
	ListRooms(ctx context.Context, limit int) ([]types.Room, error)
	CreatePersonalRoom(ctx context.Context, params PersonalRoomParams) (types.Room, error)
	AddInvite(ctx context.Context, roomID, code string, oneTime bool) error
	ConsumeInvite(ctx context.Context, code, userID string) (types.Room, error)
	// HeartbeatActiveUser prunes stale active-user entries, upserts the
	// caller, and returns the surviving entries.
	HeartbeatActiveUser(ctx context.Context, roomID string, user types.ActiveUser) ([]types.ActiveUser, error)
}

package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/anonchat/anonchat/internal/types"
)

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomID    primitive.ObjectID `bson:"roomId"`
	UserID    string             `bson:"userId"`
	UserName  string             `bson:"userName"`
	UserEmoji string             `bson:"userEmoji"`
	Content   string             `bson:"content"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func (d messageDoc) toMessage() types.Message {
	return types.Message{
		ID:        d.ID.Hex(),
		RoomID:    d.RoomID.Hex(),
		UserID:    d.UserID,
		UserName:  d.UserName,
		UserEmoji: d.UserEmoji,
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
	}
}

type activeUserDoc struct {
	UserID     string    `bson:"userId"`
	UserName   string    `bson:"userName"`
	UserEmoji  string    `bson:"userEmoji"`
	LastActive time.Time `bson:"lastActive"`
}

type participantDoc struct {
	ID    string `bson:"id"`
	Name  string `bson:"name"`
	Emoji string `bson:"emoji"`
}

type inviteDoc struct {
	Code      string    `bson:"code"`
	IsOneTime bool      `bson:"isOneTime"`
	UsedBy    []string  `bson:"usedBy,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
}

type roomDoc struct {
	ID          primitive.ObjectID       `bson:"_id,omitempty"`
	Name        string                   `bson:"name"`
	CreatorID   string                   `bson:"creatorId"`
	IsPrivate   bool                     `bson:"isPrivate"`
	IsPersonal  bool                     `bson:"isPersonal,omitempty"`
	P1          *participantDoc          `bson:"p1,omitempty"`
	P2          *participantDoc          `bson:"p2,omitempty"`
	InviteLinks []inviteDoc              `bson:"inviteLinks,omitempty"`
	ActiveUsers map[string]activeUserDoc `bson:"activeUsers,omitempty"`
	LastActive  time.Time                `bson:"lastActive"`
	CreatedAt   time.Time                `bson:"createdAt"`
}

func (d roomDoc) toRoom() types.Room {
	room := types.Room{
		ID:               d.ID.Hex(),
		Name:             d.Name,
		CreatorID:        d.CreatorID,
		IsPrivate:        d.IsPrivate,
		IsPersonal:       d.IsPersonal,
		LastActive:       d.LastActive,
		ActiveUsersCount: len(d.ActiveUsers),
		CreatedAt:        d.CreatedAt,
	}
	if d.P1 != nil {
		room.P1 = &types.Participant{ID: d.P1.ID, Name: d.P1.Name, Emoji: d.P1.Emoji}
	}
	if d.P2 != nil {
		room.P2 = &types.Participant{ID: d.P2.ID, Name: d.P2.Name, Emoji: d.P2.Emoji}
	}
	return room
}

// pruneActiveUsers removes entries whose lastActive is older than the
// staleness threshold. Returns true when anything was removed, so callers
// know to write the document back.
func (d *roomDoc) pruneActiveUsers(threshold time.Duration, now time.Time) bool {
	cutoff := now.Add(-threshold)
	pruned := false
	for id, u := range d.ActiveUsers {
		if u.LastActive.Before(cutoff) {
			delete(d.ActiveUsers, id)
			pruned = true
		}
	}
	return pruned
}

func (d *roomDoc) activeUserList() []types.ActiveUser {
	users := make([]types.ActiveUser, 0, len(d.ActiveUsers))
	for _, u := range d.ActiveUsers {
		users = append(users, types.ActiveUser{
			UserID:     u.UserID,
			UserName:   u.UserName,
			UserEmoji:  u.UserEmoji,
			LastActive: u.LastActive,
		})
	}
	return users
}

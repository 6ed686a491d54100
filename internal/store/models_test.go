package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMessageDocToMessage(t *testing.T) {
	id := primitive.NewObjectID()
	roomID := primitive.NewObjectID()
	created := time.Now().UTC().Round(time.Millisecond)

	doc := messageDoc{
		ID:        id,
		RoomID:    roomID,
		UserID:    "u1",
		UserName:  "QuietOtter",
		UserEmoji: "🦊",
		Content:   "hello",
		CreatedAt: created,
	}

	msg := doc.toMessage()
	assert.Equal(t, id.Hex(), msg.ID, "expected hex object id")
	assert.Equal(t, roomID.Hex(), msg.RoomID)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, created, msg.CreatedAt)
	assert.False(t, msg.Pending, "server messages are never pending")
}

func TestRoomDocToRoom(t *testing.T) {
	id := primitive.NewObjectID()
	doc := roomDoc{
		ID:        id,
		Name:      "general",
		CreatorID: "u1",
		IsPrivate: true,
		ActiveUsers: map[string]activeUserDoc{
			"u1": {UserID: "u1", UserName: "QuietOtter"},
			"u2": {UserID: "u2", UserName: "SwiftLynx"},
		},
	}

	room := doc.toRoom()
	assert.Equal(t, id.Hex(), room.ID)
	assert.Equal(t, "general", room.Name)
	assert.True(t, room.IsPrivate)
	assert.False(t, room.IsPersonal)
	assert.Equal(t, 2, room.ActiveUsersCount, "expected count derived from active users map")
	assert.Nil(t, room.P1)
	assert.Nil(t, room.P2)
}

func TestRoomDocToRoomPersonal(t *testing.T) {
	doc := roomDoc{
		ID:         primitive.NewObjectID(),
		IsPersonal: true,
		P1:         &participantDoc{ID: "u1", Name: "QuietOtter", Emoji: "🦊"},
		P2:         &participantDoc{ID: "u2", Name: "SwiftLynx", Emoji: "🦉"},
	}

	room := doc.toRoom()
	assert.True(t, room.IsPersonal)
	if assert.NotNil(t, room.P1) {
		assert.Equal(t, "u1", room.P1.ID)
	}
	if assert.NotNil(t, room.P2) {
		assert.Equal(t, "SwiftLynx", room.P2.Name)
	}
}

func TestPruneActiveUsers(t *testing.T) {
	now := time.Now().UTC()

	tcases := []struct {
		name      string
		users     map[string]activeUserDoc
		pruned    bool
		remaining int
	}{
		{
			name: "stale entries removed",
			users: map[string]activeUserDoc{
				"fresh": {UserID: "fresh", LastActive: now.Add(-5 * time.Second)},
				"stale": {UserID: "stale", LastActive: now.Add(-2 * time.Minute)},
			},
			pruned:    true,
			remaining: 1,
		},
		{
			name: "all fresh",
			users: map[string]activeUserDoc{
				"u1": {UserID: "u1", LastActive: now},
				"u2": {UserID: "u2", LastActive: now.Add(-29 * time.Second)},
			},
			pruned:    false,
			remaining: 2,
		},
		{
			name:      "empty map",
			users:     map[string]activeUserDoc{},
			pruned:    false,
			remaining: 0,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			doc := roomDoc{ActiveUsers: tc.users}
			pruned := doc.pruneActiveUsers(30*time.Second, now)
			assert.Equal(t, tc.pruned, pruned)
			assert.Len(t, doc.ActiveUsers, tc.remaining)
			assert.Len(t, doc.activeUserList(), tc.remaining)
		})
	}
}

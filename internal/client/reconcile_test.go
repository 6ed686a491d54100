package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/anonchat/anonchat/internal/types"
)

func TestNewTempID(t *testing.T) {
	id := NewTempID()
	assert.True(t, IsTempID(id))
	assert.False(t, IsTempID("507f1f77bcf86cd799439011"))
	assert.NotEqual(t, id, NewTempID(), "temp ids are unique")
}

func TestReconcilerApplyDeduplicates(t *testing.T) {
	r := NewReconciler("me")

	msg := types.Message{ID: "m1", UserID: "other", Content: "hello", CreatedAt: types.Now()}
	assert.True(t, r.Apply(msg), "first apply is new")
	assert.False(t, r.Apply(msg), "second apply is a duplicate")
	assert.Equal(t, 1, r.Len())
}

func TestReconcilerTempPromotion(t *testing.T) {
	r := NewReconciler("me")

	temp := types.Message{ID: NewTempID(), UserID: "me", Content: "hello", CreatedAt: types.Now()}
	r.AddOptimistic(temp)

	// another message lands between send and confirm
	other := types.Message{ID: "m9", UserID: "other", Content: "hi there", CreatedAt: types.Now()}
	assert.True(t, r.Apply(other))

	confirmed := types.Message{ID: "m10", UserID: "me", Content: "hello", CreatedAt: types.Now()}
	assert.True(t, r.Apply(confirmed), "promotion counts as a change")

	msgs := r.Messages()
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, "m10", msgs[0].ID, "expected promotion in place, keeping list position")
		assert.Equal(t, "m9", msgs[1].ID)
	}

	// the confirmed id is now known; neither the stream copy nor a replay
	// adds a new entry
	assert.False(t, r.Apply(confirmed))
	assert.Equal(t, 2, r.Len())
}

func TestReconcilerPromotionOutsideWindow(t *testing.T) {
	r := NewReconciler("me")

	old := types.Message{ID: NewTempID(), UserID: "me", Content: "hello", CreatedAt: types.Now().Add(-time.Minute)}
	r.AddOptimistic(old)

	confirmed := types.Message{ID: "m1", UserID: "me", Content: "hello", CreatedAt: types.Now()}
	assert.False(t, r.Apply(confirmed))

	// too far apart to promote the optimistic entry, but still a fresh
	// copy of our own content, so the duplicate rule drops it
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, old.ID, r.Messages()[0].ID, "expected the optimistic entry untouched")
}

func TestReconcilerOwnMessageSuppression(t *testing.T) {
	r := NewReconciler("me")

	// submit response already applied, under a real id
	first := types.Message{ID: "m1", UserID: "me", Content: "hello", CreatedAt: types.Now()}
	assert.True(t, r.Apply(first))

	// the same message arrives through the stream under a different id
	// within the window
	dup := types.Message{ID: "m2", UserID: "me", Content: "hello", CreatedAt: types.Now()}
	assert.False(t, r.Apply(dup), "expected own-message duplicate suppressed")
	assert.Equal(t, 1, r.Len())

	// a different user with identical content is not suppressed
	r2 := NewReconciler("me")
	assert.True(t, r2.Apply(first))
	otherUser := types.Message{ID: "m3", UserID: "other", Content: "hello", CreatedAt: types.Now()}
	assert.True(t, r2.Apply(otherUser))
	assert.Equal(t, 2, r2.Len())

	// the window is measured against the arriving message's timestamp,
	// so an old own message replayed later is kept
	r3 := NewReconciler("me")
	assert.True(t, r3.Apply(first))
	stale := types.Message{ID: "m4", UserID: "me", Content: "hello", CreatedAt: types.Now().Add(-time.Minute)}
	assert.True(t, r3.Apply(stale), "expected a stale replay appended, not suppressed")
	assert.Equal(t, 2, r3.Len())
}

func TestReconcilerMarkPending(t *testing.T) {
	r := NewReconciler("me")

	temp := types.Message{ID: NewTempID(), UserID: "me", Content: "queued", CreatedAt: types.Now()}
	r.AddOptimistic(temp)
	r.MarkPending(temp.ID)

	msgs := r.Messages()
	if assert.Len(t, msgs, 1) {
		assert.True(t, msgs[0].Pending)
	}
}

func TestReconcilerMessagesReturnsCopy(t *testing.T) {
	r := NewReconciler("me")
	r.Apply(types.Message{ID: "m1", UserID: "other", Content: "x", CreatedAt: types.Now()})

	msgs := r.Messages()
	msgs[0].Content = "mutated"
	assert.Equal(t, "x", r.Messages()[0].Content, "expected callers to get a copy")
}

func TestNewRandomIdentity(t *testing.T) {
	id := NewRandomIdentity()
	assert.NotEmpty(t, id.ID)
	assert.NotEmpty(t, id.Name)
	assert.NotEmpty(t, id.Emoji)

	other := NewRandomIdentity()
	assert.NotEqual(t, id.ID, other.ID)
}

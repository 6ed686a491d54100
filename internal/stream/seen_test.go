package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetAdd(t *testing.T) {
	s := NewSeenSet(10)

	assert.True(t, s.Add("a"), "first add is new")
	assert.False(t, s.Add("a"), "second add is a duplicate")
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("b"))
	assert.Equal(t, 1, s.Len())
}

func TestSeenSetEviction(t *testing.T) {
	s := NewSeenSet(4)

	for i := 0; i < 5; i++ {
		assert.True(t, s.Add(fmt.Sprintf("id%d", i)))
	}

	// crossing the cap evicts the oldest half
	assert.False(t, s.Has("id0"))
	assert.False(t, s.Has("id1"))
	assert.True(t, s.Has("id4"))
	assert.LessOrEqual(t, s.Len(), 4)

	// an evicted id counts as new again
	assert.True(t, s.Add("id0"))
}

func TestSeenSetDefaultCap(t *testing.T) {
	s := NewSeenSet(0)

	for i := 0; i < 1001; i++ {
		s.Add(fmt.Sprintf("id%d", i))
	}
	assert.LessOrEqual(t, s.Len(), 1000, "expected the default cap enforced")
}

package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orbit-chat/orbit-client/channel"
)

func TestOnlineUnionAcrossScopes(t *testing.T) {
	a := NewAggregator(0, 0)
	a.ApplyRoomPresence([]string{"u1"}, nil)
	a.ApplySpacePresence("s1", []string{"u2"}, []string{"u2"})
	a.ApplyGlobalPresence([]string{"u3"}, nil)

	assert.True(t, a.IsOnline("u1"))
	assert.True(t, a.IsOnline("u2"))
	assert.True(t, a.IsOnline("u3"))
	assert.False(t, a.IsOnline("u4"))

	assert.True(t, a.OnlineInSpace("s1", "u2"))
	assert.False(t, a.OnlineInSpace("s1", "u1"))

	assert.True(t, a.IsMobile("u2"))
	assert.False(t, a.IsMobile("u1"))
}

func TestScopePushIsFullReplace(t *testing.T) {
	a := NewAggregator(0, 0)
	a.ApplyRoomPresence([]string{"u1", "u2"}, nil)
	a.ApplyRoomPresence([]string{"u2"}, nil)
	assert.False(t, a.IsOnline("u1"))
	assert.True(t, a.IsOnline("u2"))

	a.ApplySpacePresence("s1", []string{"u3"}, nil)
	a.ApplySpacePresence("s1", nil, nil)
	assert.False(t, a.IsOnline("u3"))
}

func TestTypingExpiry(t *testing.T) {
	a := NewAggregator(120*time.Millisecond, 30*time.Millisecond)
	key := channel.Normalize("s1", "general")

	a.StartTyping(key, "u1", "Alice")
	assert.Equal(t, map[string]string{"u1": "Alice"}, a.Typers(key))

	// Повторный start продлевает таймер.
	time.Sleep(80 * time.Millisecond)
	a.StartTyping(key, "u1", "Alice")
	time.Sleep(80 * time.Millisecond)
	assert.Contains(t, a.Typers(key), "u1")

	assert.Eventually(t, func() bool {
		return len(a.Typers(key)) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestTypingStopGrace(t *testing.T) {
	a := NewAggregator(500*time.Millisecond, 40*time.Millisecond)
	key := channel.Normalize("s1", "general")

	a.StartTyping(key, "u1", "Alice")
	a.StopTyping(key, "u1")

	// Stop не убирает индикатор мгновенно, только сокращает окно.
	assert.Contains(t, a.Typers(key), "u1")
	assert.Eventually(t, func() bool {
		return len(a.Typers(key)) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestTypingPerChannel(t *testing.T) {
	a := NewAggregator(0, 0)
	k1 := channel.Normalize("s1", "general")
	k2 := channel.Normalize("s1", "random")

	a.StartTyping(k1, "u1", "Alice")
	a.StartTyping(k2, "u2", "Bob")

	assert.Equal(t, map[string]string{"u1": "Alice"}, a.Typers(k1))
	assert.Equal(t, map[string]string{"u2": "Bob"}, a.Typers(k2))
}

func TestReset(t *testing.T) {
	a := NewAggregator(0, 0)
	key := channel.Normalize("s1", "general")
	a.StartTyping(key, "u1", "Alice")

	a.Reset()
	assert.Empty(t, a.Typers(key))
}

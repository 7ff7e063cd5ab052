package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orbit-chat/orbit-client/channel"
)

type recordingSounder struct {
	mu     sync.Mutex
	alerts []channel.Key
}

func (s *recordingSounder) Alert(key channel.Key, authorName, preview string) {
	s.mu.Lock()
	s.alerts = append(s.alerts, key)
	s.mu.Unlock()
}

func (s *recordingSounder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func TestOwnMessagesNeverCount(t *testing.T) {
	snd := &recordingSounder{}
	c := NewCoordinator("me", snd)
	key := channel.Normalize("s1", "general")

	c.OnMessage(key, "me", "Me", "hi", false)
	assert.Zero(t, c.Unread(key))
	assert.Zero(t, snd.count())
}

func TestActiveVisibleSuppresses(t *testing.T) {
	snd := &recordingSounder{}
	c := NewCoordinator("me", snd)
	key := channel.Normalize("s1", "general")

	c.OnMessage(key, "u1", "Alice", "hi", true)
	assert.Zero(t, c.Unread(key))
	assert.Zero(t, snd.count())
}

func TestOneShotAlertGate(t *testing.T) {
	snd := &recordingSounder{}
	c := NewCoordinator("me", snd)
	key := channel.Normalize("s1", "general")

	c.OnMessage(key, "u1", "Alice", "one", false)
	c.OnMessage(key, "u1", "Alice", "two", false)
	c.OnMessage(key, "u2", "Bob", "three", false)

	assert.Equal(t, 3, c.Unread(key))
	// Ровно один алерт на канал до следующего визита.
	assert.Equal(t, 1, snd.count())

	c.MarkViewed(key)
	assert.Zero(t, c.Unread(key))

	c.OnMessage(key, "u1", "Alice", "four", false)
	assert.Equal(t, 1, c.Unread(key))
	assert.Equal(t, 2, snd.count())
}

func TestMutedSpaceStillCounts(t *testing.T) {
	snd := &recordingSounder{}
	c := NewCoordinator("me", snd)
	key := channel.Normalize("s1", "general")

	c.SetSpaceMuted("s1", true)
	assert.True(t, c.IsSpaceMuted("s1"))

	c.OnMessage(key, "u1", "Alice", "hi", false)
	assert.Equal(t, 1, c.Unread(key))
	assert.Zero(t, snd.count())

	c.SetSpaceMuted("s1", false)
	assert.False(t, c.IsSpaceMuted("s1"))
}

func TestTotalUnread(t *testing.T) {
	c := NewCoordinator("me", nil)
	k1 := channel.Normalize("s1", "general")
	k2 := channel.Normalize("s2", "random")

	c.OnMessage(k1, "u1", "Alice", "a", false)
	c.OnMessage(k1, "u1", "Alice", "b", false)
	c.OnMessage(k2, "u2", "Bob", "c", false)

	assert.Equal(t, 3, c.TotalUnread())
	c.MarkViewed(k1)
	assert.Equal(t, 1, c.TotalUnread())
}

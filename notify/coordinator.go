// Package notify derives per-channel unread counts and one-shot notification
// gating from the confirmed message stream. It holds no message data of its
// own; it only counts and gates.
package notify

import (
	"sync"

	"github.com/orbit-chat/orbit-client/channel"
)

// Sounder is whatever the shell uses to actually alert the user (sound,
// desktop notification). Push registration is out of scope here.
type Sounder interface {
	Alert(key channel.Key, authorName, preview string)
}

// Coordinator counts unread messages per channel and arms at most one alert
// per channel until the user visits it again.
type Coordinator struct {
	mu       sync.Mutex
	selfID   string
	unread   map[channel.Key]int
	notified map[channel.Key]bool
	muted    map[string]bool // spaceID -> muted
	sounder  Sounder
}

func NewCoordinator(selfID string, sounder Sounder) *Coordinator {
	return &Coordinator{
		selfID:   selfID,
		unread:   make(map[channel.Key]int),
		notified: make(map[channel.Key]bool),
		muted:    make(map[string]bool),
		sounder:  sounder,
	}
}

// OnMessage processes one server-confirmed message event. activeVisible is
// true when the target channel is the focused, visible view right now; the
// caller derives it from the explicit view context, not from captured state.
// Own messages never count against their author.
func (c *Coordinator) OnMessage(key channel.Key, authorID, authorName, preview string, activeVisible bool) {
	if authorID == c.selfID {
		return
	}
	if activeVisible {
		return
	}
	c.mu.Lock()
	c.unread[key]++
	fire := !c.notified[key] && !c.muted[key.SpaceID()]
	if fire {
		c.notified[key] = true
	}
	sounder := c.sounder
	c.mu.Unlock()

	if fire && sounder != nil {
		sounder.Alert(key, authorName, preview)
	}
}

// MarkViewed resets the unread count and re-arms the one-shot gate the moment
// the user actively views the channel.
func (c *Coordinator) MarkViewed(key channel.Key) {
	c.mu.Lock()
	delete(c.unread, key)
	delete(c.notified, key)
	c.mu.Unlock()
}

// Unread returns the unread count for one channel.
func (c *Coordinator) Unread(key channel.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[key]
}

// TotalUnread sums unread counts across all channels (badge).
func (c *Coordinator) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.unread {
		total += n
	}
	return total
}

// SetSpaceMuted silences alerts for a whole space. Unread counts still accrue
// so badges stay accurate.
func (c *Coordinator) SetSpaceMuted(spaceID string, muted bool) {
	c.mu.Lock()
	if muted {
		c.muted[spaceID] = true
	} else {
		delete(c.muted, spaceID)
	}
	c.mu.Unlock()
}

// IsSpaceMuted reports the mute flag for a space.
func (c *Coordinator) IsSpaceMuted(spaceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted[spaceID]
}

// Package presence merges the three independently-pushed presence scopes
// (room, space, global) and typing signals into one queryable view. Every
// scope push is a full snapshot replace, never a diff.
package presence

import (
	"sync"
	"time"

	"github.com/orbit-chat/orbit-client/channel"
)

const (
	// DefaultTypingTimeout is the hard expiry after the last typing-start.
	DefaultTypingTimeout = 8 * time.Second
	// DefaultStopGrace debounces an explicit typing-stop so a brief pause
	// between keystrokes does not flicker the indicator.
	DefaultStopGrace = 1200 * time.Millisecond
)

type set map[string]struct{}

func toSet(ids []string) set {
	s := make(set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

type typerKey struct {
	channel channel.Key
	userID  string
}

type typerEntry struct {
	name  string
	timer *time.Timer
}

// Aggregator owns the presence and typing state. All methods are safe for
// concurrent use; timer callbacks re-enter through the same lock.
type Aggregator struct {
	mu sync.RWMutex

	room         set
	roomMobile   set
	global       set
	globalMobile set
	spaces       map[string]set
	spacesMobile map[string]set

	typers        map[typerKey]*typerEntry
	typingTimeout time.Duration
	stopGrace     time.Duration
}

func NewAggregator(typingTimeout, stopGrace time.Duration) *Aggregator {
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeout
	}
	if stopGrace <= 0 || stopGrace >= typingTimeout {
		stopGrace = DefaultStopGrace
	}
	return &Aggregator{
		room:          set{},
		roomMobile:    set{},
		global:        set{},
		globalMobile:  set{},
		spaces:        make(map[string]set),
		spacesMobile:  make(map[string]set),
		typers:        make(map[typerKey]*typerEntry),
		typingTimeout: typingTimeout,
		stopGrace:     stopGrace,
	}
}

// ApplyRoomPresence replaces the room-scoped snapshot.
func (a *Aggregator) ApplyRoomPresence(ids, mobileIDs []string) {
	a.mu.Lock()
	a.room = toSet(ids)
	a.roomMobile = toSet(mobileIDs)
	a.mu.Unlock()
}

// ApplySpacePresence replaces one space's snapshot. Pushes for spaces other
// than the active one are retained (badge counts need them) but callers
// render only the scope they ask for.
func (a *Aggregator) ApplySpacePresence(spaceID string, ids, mobileIDs []string) {
	a.mu.Lock()
	a.spaces[spaceID] = toSet(ids)
	a.spacesMobile[spaceID] = toSet(mobileIDs)
	a.mu.Unlock()
}

// ApplyGlobalPresence replaces the global snapshot.
func (a *Aggregator) ApplyGlobalPresence(ids, mobileIDs []string) {
	a.mu.Lock()
	a.global = toSet(ids)
	a.globalMobile = toSet(mobileIDs)
	a.mu.Unlock()
}

// IsOnline reports union membership across every current presence set.
func (a *Aggregator) IsOnline(userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.room[userID]; ok {
		return true
	}
	if _, ok := a.global[userID]; ok {
		return true
	}
	for _, s := range a.spaces {
		if _, ok := s[userID]; ok {
			return true
		}
	}
	return false
}

// OnlineInSpace reports membership in one space's current snapshot only.
func (a *Aggregator) OnlineInSpace(spaceID, userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.spaces[spaceID][userID]
	return ok
}

// IsMobile reports whether any scope marked the user as a mobile client.
// Device class is informational only and never affects online state.
func (a *Aggregator) IsMobile(userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.roomMobile[userID]; ok {
		return true
	}
	if _, ok := a.globalMobile[userID]; ok {
		return true
	}
	for _, s := range a.spacesMobile {
		if _, ok := s[userID]; ok {
			return true
		}
	}
	return false
}

// StartTyping records a typing user and (re)arms the hard expiry timer.
func (a *Aggregator) StartTyping(key channel.Key, userID, displayName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tk := typerKey{channel: key, userID: userID}
	if e, ok := a.typers[tk]; ok {
		e.name = displayName
		e.timer.Reset(a.typingTimeout)
		return
	}
	e := &typerEntry{name: displayName}
	e.timer = time.AfterFunc(a.typingTimeout, func() { a.expire(tk) })
	a.typers[tk] = e
}

// StopTyping shortens the entry's expiry to the stop-grace window instead of
// removing it outright, debouncing pauses in a burst of typing.
func (a *Aggregator) StopTyping(key channel.Key, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tk := typerKey{channel: key, userID: userID}
	if e, ok := a.typers[tk]; ok {
		e.timer.Reset(a.stopGrace)
	}
}

func (a *Aggregator) expire(tk typerKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.typers[tk]; ok {
		e.timer.Stop()
		delete(a.typers, tk)
	}
}

// Typers returns userID -> displayName for one channel.
func (a *Aggregator) Typers(key channel.Key) map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string)
	for tk, e := range a.typers {
		if tk.channel == key {
			out[tk.userID] = e.name
		}
	}
	return out
}

// Reset drops all typing state; presence scopes are left to the next snapshot
// push. Called on resync, since typing has no authoritative re-request.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for tk, e := range a.typers {
		e.timer.Stop()
		delete(a.typers, tk)
	}
}

// Package channel owns every per-channel message snapshot. Snapshots are
// mutated only through the operations defined here; no other component holds
// a reference into a message list.
package channel

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbit-chat/orbit-client/eventwire"
	"github.com/orbit-chat/orbit-client/internal/logger"
)

// Store keys per-channel snapshots by normalized Key. Events for channels the
// store has never seen create the snapshot on demand; reconciliations for
// unknown channels are dropped silently — the user may have switched away and
// out-of-order delivery is expected, not an error.
type Store struct {
	mu       sync.RWMutex
	self     Author
	channels map[Key]*snapshot
}

type snapshot struct {
	messages []Message
}

func NewStore(self Author) *Store {
	return &Store{
		self:     self,
		channels: make(map[Key]*snapshot),
	}
}

func (s *Store) get(key Key) *snapshot {
	snap, ok := s.channels[key]
	if !ok {
		snap = &snapshot{}
		s.channels[key] = snap
	}
	return snap
}

// SendOptimistic appends a message with a fresh correlation id and returns
// that id. The caller emits the outbound action carrying the same id; the UI
// sees the entry before any network round-trip.
func (s *Store) SendOptimistic(key Key, d Draft) (string, Message) {
	tempID := uuid.New().String()
	m := Message{
		TempID:      tempID,
		Content:     d.Content,
		AuthorID:    s.self.ID,
		AuthorName:  s.self.Name,
		AuthorColor: s.self.Color,
		CreatedAt:   time.Now().UTC(),
		Attachments: d.Attachments,
		ReplyToID:   d.ReplyToID,
		Spoiler:     d.Spoiler,
		Optimistic:  true,
	}
	s.mu.Lock()
	snap := s.get(key)
	snap.messages = append(snap.messages, m)
	s.mu.Unlock()
	return tempID, m
}

// Reconcile replaces the optimistic entry for tempID in place, preserving its
// list position and clearing the optimistic flag. If the entry is gone (the
// snapshot was replaced by a backlog reload in the interim) the confirmed
// message is appended instead; backlog reload and live confirmation race and
// both orders must converge on exactly one entry.
func (s *Store) Reconcile(key Key, tempID string, w eventwire.WireMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.channels[key]
	if !ok {
		logger.Debugf("channel reconcile for unknown key=%s", key)
		return
	}
	confirmed := fromWire(w, s.self.ID)
	for i := range snap.messages {
		if snap.messages[i].TempID == tempID && snap.messages[i].Optimistic {
			snap.messages[i] = confirmed
			return
		}
	}
	// Fallback append, but never a duplicate of an id the backlog brought in.
	for i := range snap.messages {
		if confirmed.ID != "" && snap.messages[i].ID == confirmed.ID {
			return
		}
	}
	snap.messages = append(snap.messages, confirmed)
}

// Reject removes an optimistic entry the server refused. Unknown channels and
// unknown correlation ids are absorbed silently.
func (s *Store) Reject(key Key, tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.channels[key]
	if !ok {
		return
	}
	for i := range snap.messages {
		if snap.messages[i].TempID == tempID && snap.messages[i].Optimistic {
			snap.messages = append(snap.messages[:i], snap.messages[i+1:]...)
			return
		}
	}
}

// ApplyNew handles a server-confirmed new message. A confirmation carrying
// our own correlation id reconciles; anything else appends once.
func (s *Store) ApplyNew(key Key, w eventwire.WireMessage) {
	if w.TempID != "" && w.AuthorID == s.self.ID {
		s.Reconcile(key, w.TempID, w)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.get(key)
	for i := range snap.messages {
		if w.ID != "" && snap.messages[i].ID == w.ID {
			return
		}
	}
	m := fromWire(w, s.self.ID)
	if w.ReplyToID != "" {
		if ref, ok := findByID(snap.messages, w.ReplyToID); ok {
			preview := Message{
				ID:         ref.ID,
				AuthorID:   ref.AuthorID,
				AuthorName: ref.AuthorName,
				Content:    ref.Content,
				Spoiler:    ref.Spoiler,
			}
			m.ReplyTo = &preview
		}
	}
	snap.messages = append(snap.messages, m)
}

// ApplyEdited updates content and edit time by message id.
func (s *Store) ApplyEdited(key Key, messageID, content string, editedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.channels[key]
	if !ok {
		return
	}
	for i := range snap.messages {
		if snap.messages[i].ID == messageID {
			snap.messages[i].Content = content
			t := editedAt
			snap.messages[i].UpdatedAt = &t
			return
		}
	}
}

// ApplyDeleted removes a message by id.
func (s *Store) ApplyDeleted(key Key, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.channels[key]
	if !ok {
		return
	}
	for i := range snap.messages {
		if snap.messages[i].ID == messageID {
			snap.messages = append(snap.messages[:i], snap.messages[i+1:]...)
			return
		}
	}
}

// ApplyReactions replaces a message's aggregated reaction groups with the
// server-confirmed state.
func (s *Store) ApplyReactions(key Key, messageID string, groups []eventwire.WireReaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.channels[key]
	if !ok {
		return
	}
	for i := range snap.messages {
		if snap.messages[i].ID == messageID {
			snap.messages[i].Reactions = reactionsFromWire(groups, s.self.ID)
			return
		}
	}
}

// ApplySeenUpTo annotates the latest message of the channel with the viewer.
// The UI shows one aggregate read receipt, so only the latest entry carries
// SeenByIDs; the author never counts as a viewer of their own message.
func (s *Store) ApplySeenUpTo(key Key, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.channels[key]
	if !ok || len(snap.messages) == 0 {
		return
	}
	for i := range snap.messages {
		snap.messages[i].SeenByIDs = removeID(snap.messages[i].SeenByIDs, userID)
	}
	last := &snap.messages[len(snap.messages)-1]
	if last.AuthorID == userID {
		return
	}
	last.SeenByIDs = append(last.SeenByIDs, userID)
}

// ApplyPinned sets or clears the pinned flag on a message.
func (s *Store) ApplyPinned(key Key, messageID string, pinned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.channels[key]
	if !ok {
		return
	}
	for i := range snap.messages {
		if snap.messages[i].ID == messageID {
			snap.messages[i].Pinned = pinned
			return
		}
	}
}

// LoadBacklog replaces the snapshot wholesale with the authoritative history.
func (s *Store) LoadBacklog(key Key, wire []eventwire.WireMessage) {
	msgs := make([]Message, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, fromWire(w, s.self.ID))
	}
	s.mu.Lock()
	s.get(key).messages = msgs
	s.mu.Unlock()
}

// Messages returns a copy of the channel snapshot in insertion order.
func (s *Store) Messages(key Key) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.channels[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(snap.messages))
	copy(out, snap.messages)
	return out
}

// Latest returns the newest message of the channel, if any.
func (s *Store) Latest(key Key) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.channels[key]
	if !ok || len(snap.messages) == 0 {
		return Message{}, false
	}
	return snap.messages[len(snap.messages)-1], true
}

func findByID(msgs []Message, id string) (Message, bool) {
	for i := range msgs {
		if msgs[i].ID == id {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// removeID rebuilds into a fresh slice: snapshots handed out by Messages share
// the old backing array, so an in-place shift would change them under the caller.
func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}

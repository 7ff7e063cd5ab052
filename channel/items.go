package channel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbit-chat/orbit-client/eventwire"
)

// Surface names one synchronized collaboration surface backed by an ItemStore.
type Surface string

const (
	SurfaceBoard Surface = "board"
	SurfaceForm  Surface = "form"
	SurfaceHabit Surface = "habit"
)

// Item is one kanban card, form answer, or habit entry. Body stays opaque to
// the sync core; only identity and correlation matter here.
type Item struct {
	ID         string          `json:"id"`
	TempID     string          `json:"temp_id,omitempty"`
	AuthorID   string          `json:"author_id,omitempty"`
	Body       json.RawMessage `json:"body"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Optimistic bool            `json:"optimistic,omitempty"`
}

// ItemStore applies the message store's optimistic-append / reconcile-or-append
// algorithm to board cards, form answers, and habit entries, keyed by item id
// instead of message id. One instance per surface.
type ItemStore struct {
	mu      sync.RWMutex
	surface Surface
	selfID  string
	byKey   map[Key][]Item
}

func NewItemStore(surface Surface, selfID string) *ItemStore {
	return &ItemStore{
		surface: surface,
		selfID:  selfID,
		byKey:   make(map[Key][]Item),
	}
}

func (s *ItemStore) Surface() Surface { return s.surface }

// SendOptimistic appends an optimistic item and returns its correlation id.
func (s *ItemStore) SendOptimistic(key Key, body json.RawMessage) (string, Item) {
	it := Item{
		TempID:     uuid.New().String(),
		AuthorID:   s.selfID,
		Body:       body,
		UpdatedAt:  time.Now().UTC(),
		Optimistic: true,
	}
	s.mu.Lock()
	s.byKey[key] = append(s.byKey[key], it)
	s.mu.Unlock()
	return it.TempID, it
}

// Reconcile replaces the optimistic item in place, or appends once if a state
// reload dropped it meanwhile. Unknown keys are absorbed silently.
func (s *ItemStore) Reconcile(key Key, tempID string, w eventwire.WireItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.byKey[key]
	if !ok {
		return
	}
	confirmed := itemFromWire(w)
	for i := range items {
		if items[i].TempID == tempID && items[i].Optimistic {
			items[i] = confirmed
			return
		}
	}
	for i := range items {
		if confirmed.ID != "" && items[i].ID == confirmed.ID {
			return
		}
	}
	s.byKey[key] = append(items, confirmed)
}

// ApplyEvent handles one incremental server confirmation: upsert by id, or
// removal when the event marks the item deleted.
func (s *ItemStore) ApplyEvent(key Key, w eventwire.WireItem, deleted bool) {
	if w.TempID != "" && w.AuthorID == s.selfID && !deleted {
		s.Reconcile(key, w.TempID, w)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.byKey[key]
	for i := range items {
		if items[i].ID == w.ID {
			if deleted {
				s.byKey[key] = append(items[:i], items[i+1:]...)
			} else {
				items[i] = itemFromWire(w)
			}
			return
		}
	}
	if !deleted {
		s.byKey[key] = append(items, itemFromWire(w))
	}
}

// LoadState replaces the surface snapshot wholesale.
func (s *ItemStore) LoadState(key Key, wire []eventwire.WireItem) {
	items := make([]Item, 0, len(wire))
	for _, w := range wire {
		items = append(items, itemFromWire(w))
	}
	s.mu.Lock()
	s.byKey[key] = items
	s.mu.Unlock()
}

// Items returns a copy of the surface snapshot in insertion order.
func (s *ItemStore) Items(key Key) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.byKey[key]
	if !ok {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

func itemFromWire(w eventwire.WireItem) Item {
	return Item{
		ID:        w.ID,
		AuthorID:  w.AuthorID,
		Body:      w.Body,
		UpdatedAt: w.UpdatedAt,
	}
}

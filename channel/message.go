package channel

import (
	"time"

	"github.com/orbit-chat/orbit-client/eventwire"
)

// ReactionState is one emoji's aggregated state on a message. Mine is derived
// from the server-confirmed user list, never from a client-side guess.
type ReactionState struct {
	Count int  `json:"count"`
	Mine  bool `json:"mine"`
}

// Author identifies the local user when producing optimistic entries.
type Author struct {
	ID    string
	Name  string
	Color string
}

// Message is one entry of a channel snapshot. An optimistic message carries
// TempID in place of ID until the server confirms it.
type Message struct {
	ID          string                   `json:"id"`
	TempID      string                   `json:"temp_id,omitempty"`
	Content     string                   `json:"content"`
	AuthorID    string                   `json:"author_id"`
	AuthorName  string                   `json:"author_name,omitempty"`
	AuthorColor string                   `json:"author_color,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   *time.Time               `json:"updated_at,omitempty"`
	Attachments []eventwire.Attachment   `json:"attachments,omitempty"`
	Reactions   map[string]ReactionState `json:"reactions,omitempty"`
	SeenByIDs   []string                 `json:"seen_by_ids,omitempty"`
	ReplyToID   string                   `json:"reply_to_id,omitempty"`
	ReplyTo     *Message                 `json:"reply_to,omitempty"`
	Spoiler     bool                     `json:"spoiler,omitempty"`
	Pinned      bool                     `json:"pinned,omitempty"`
	Optimistic  bool                     `json:"optimistic,omitempty"`
}

// Draft is the user-entered part of an optimistic send.
type Draft struct {
	Content     string
	Spoiler     bool
	ReplyToID   string
	Attachments []eventwire.Attachment
}

// fromWire converts a server-confirmed wire message, deriving Mine on every
// reaction group from selfID.
func fromWire(w eventwire.WireMessage, selfID string) Message {
	m := Message{
		ID:          w.ID,
		Content:     w.Content,
		AuthorID:    w.AuthorID,
		AuthorName:  w.AuthorName,
		AuthorColor: w.AuthorColor,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.EditedAt,
		Attachments: w.Attachments,
		ReplyToID:   w.ReplyToID,
		Spoiler:     w.Spoiler,
	}
	if len(w.Reactions) > 0 {
		m.Reactions = reactionsFromWire(w.Reactions, selfID)
	}
	return m
}

func reactionsFromWire(groups []eventwire.WireReaction, selfID string) map[string]ReactionState {
	out := make(map[string]ReactionState, len(groups))
	for _, g := range groups {
		st := ReactionState{Count: g.Count}
		for _, uid := range g.UserIDs {
			if uid == selfID {
				st.Mine = true
				break
			}
		}
		out[g.Emoji] = st
	}
	return out
}

package eventwire

import (
	"encoding/json"
	"time"
)

type EventType string

// Inbound event kinds (server -> client).
const (
	EventPresenceRoom   EventType = "presence_room"
	EventPresenceSpace  EventType = "presence_space"
	EventPresenceGlobal EventType = "presence_global"
	EventTypingStart    EventType = "typing_start"
	EventTypingStop     EventType = "typing_stop"

	EventNewMessage       EventType = "new_message"
	EventMessageEdited    EventType = "message_edited"
	EventMessageDeleted   EventType = "message_deleted"
	EventMessageRejected  EventType = "message_rejected"
	EventMessagePinned    EventType = "message_pinned"
	EventMessageUnpinned  EventType = "message_unpinned"
	EventReactionsChanged EventType = "reactions_changed"
	EventSeenUpTo         EventType = "seen_up_to"
	EventBacklog          EventType = "backlog"

	EventBoardState EventType = "board_state"
	EventFormState  EventType = "form_state"
	EventHabitState EventType = "habit_state"
	EventBoardItem  EventType = "board_item"
	EventFormAnswer EventType = "form_answer"
	EventHabitEntry EventType = "habit_entry"

	EventVoiceRoster     EventType = "voice_roster"
	EventVoicePeerJoined EventType = "voice_peer_joined"
	EventVoicePeerLeft   EventType = "voice_peer_left"
	EventVoiceSignal     EventType = "voice_signal"

	EventError EventType = "error"
)

// Outbound event kinds (client -> server).
const (
	ActionChannelSwitch    EventType = "channel_switch"
	ActionChannelList      EventType = "channel_list"
	ActionChannelSubscribe EventType = "channel_subscribe"
	ActionSendMessage      EventType = "send_message"
	ActionEditMessage      EventType = "edit_message"
	ActionDeleteMessage    EventType = "delete_message"
	ActionAddReaction      EventType = "add_reaction"
	ActionRemoveReaction   EventType = "remove_reaction"
	ActionTypingSet        EventType = "typing_set"
	ActionSeenAck          EventType = "seen_ack"
	ActionVoiceJoin        EventType = "voice_join"
	ActionVoiceLeave       EventType = "voice_leave"
	ActionVoiceSignal      EventType = "voice_signal"
)

// Event is a decoded inbound frame. Payload stays raw until the reducer for
// the kind unmarshals it into its typed struct.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutgoingMessage is what the client sends to the server.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- Typed payloads ---

// PresencePayload is a full-replace snapshot of one presence scope.
// SpaceID is set only for the space scope.
type PresencePayload struct {
	SpaceID   string   `json:"space_id,omitempty"`
	UserIDs   []string `json:"user_ids"`
	MobileIDs []string `json:"mobile_ids,omitempty"`
}

// TypingPayload carries typing start/stop for a channel.
type TypingPayload struct {
	ChannelID   string `json:"channel_id"`
	SpaceID     string `json:"space_id,omitempty"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Attachment is an opaque uploaded-file tuple.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
}

// WireMessage is a server-confirmed message as it travels on the wire.
type WireMessage struct {
	ID          string         `json:"id"`
	ChannelID   string         `json:"channel_id"`
	SpaceID     string         `json:"space_id,omitempty"`
	TempID      string         `json:"temp_id,omitempty"`
	AuthorID    string         `json:"author_id"`
	AuthorName  string         `json:"author_name,omitempty"`
	AuthorColor string         `json:"author_color,omitempty"`
	Content     string         `json:"content"`
	Spoiler     bool           `json:"spoiler,omitempty"`
	ReplyToID   string         `json:"reply_to_id,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Reactions   []WireReaction `json:"reactions,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	EditedAt    *time.Time     `json:"edited_at,omitempty"`
}

// WireReaction is an aggregated reaction group for one emoji.
type WireReaction struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids,omitempty"`
}

// MessageEditedPayload is pushed when a message is edited.
type MessageEditedPayload struct {
	MessageID string    `json:"message_id"`
	ChannelID string    `json:"channel_id"`
	SpaceID   string    `json:"space_id,omitempty"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

// MessageDeletedPayload is pushed when a message is deleted.
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
}

// MessageRejectedPayload rolls back an optimistic send the server refused.
type MessageRejectedPayload struct {
	TempID    string `json:"temp_id"`
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PinPayload is pushed when a message is pinned or unpinned.
type PinPayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
	PinnedBy  string `json:"pinned_by,omitempty"`
}

// ReactionsChangedPayload replaces a message's aggregated reaction groups.
// UserID is the actor, so clients can derive "mine" without guessing.
type ReactionsChangedPayload struct {
	MessageID string         `json:"message_id"`
	ChannelID string         `json:"channel_id"`
	SpaceID   string         `json:"space_id,omitempty"`
	UserID    string         `json:"user_id"`
	Reactions []WireReaction `json:"reactions"`
}

// SeenUpToPayload is the aggregate read receipt for a channel.
type SeenUpToPayload struct {
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
	UserID    string `json:"user_id"`
}

// BacklogPayload replaces a channel's snapshot wholesale.
type BacklogPayload struct {
	ChannelID string        `json:"channel_id"`
	SpaceID   string        `json:"space_id,omitempty"`
	Messages  []WireMessage `json:"messages"`
}

// WireItem is one kanban card / form answer / habit entry on the wire.
// The same reconcile-by-correlation-id algorithm applies to all three.
type WireItem struct {
	ID        string          `json:"id"`
	TempID    string          `json:"temp_id,omitempty"`
	AuthorID  string          `json:"author_id,omitempty"`
	Body      json.RawMessage `json:"body"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ItemStatePayload replaces a board/form/habit snapshot wholesale.
type ItemStatePayload struct {
	ChannelID string     `json:"channel_id"`
	SpaceID   string     `json:"space_id,omitempty"`
	Items     []WireItem `json:"items"`
}

// ItemEventPayload is one incremental card/answer/entry confirmation.
type ItemEventPayload struct {
	ChannelID string   `json:"channel_id"`
	SpaceID   string   `json:"space_id,omitempty"`
	Item      WireItem `json:"item"`
	Deleted   bool     `json:"deleted,omitempty"`
}

// VoiceRosterPayload lists everyone already in the voice room at join time.
// The joiner offers to each of these peers; they do not offer back.
type VoiceRosterPayload struct {
	RoomID string      `json:"room_id"`
	Peers  []VoicePeer `json:"peers"`
}

// VoicePeer identifies one participant of a voice room.
type VoicePeer struct {
	PeerID      string `json:"peer_id"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// VoicePeerJoinedPayload announces a newly joined peer (no offer from us).
type VoicePeerJoinedPayload struct {
	RoomID string    `json:"room_id"`
	Peer   VoicePeer `json:"peer"`
}

// VoicePeerLeftPayload announces a peer leaving the voice room.
type VoicePeerLeftPayload struct {
	RoomID string `json:"room_id"`
	PeerID string `json:"peer_id"`
}

// VoiceSignalPayload relays SDP offers/answers and trickled ICE candidates.
type VoiceSignalPayload struct {
	RoomID    string `json:"room_id"`
	PeerID    string `json:"peer_id"` // sender on inbound, target on outbound
	Kind      string `json:"kind"`    // offer, answer, ice
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

// ErrorPayload is a server-side rejection of an outbound action.
type ErrorPayload struct {
	Message string `json:"message"`
}

// --- Outbound payloads ---

// SendMessagePayload carries an optimistic send with its correlation id.
type SendMessagePayload struct {
	ChannelID   string       `json:"channel_id"`
	SpaceID     string       `json:"space_id,omitempty"`
	TempID      string       `json:"temp_id"`
	Content     string       `json:"content"`
	Spoiler     bool         `json:"spoiler,omitempty"`
	ReplyToID   string       `json:"reply_to_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// EditMessagePayload asks the server to edit an own message.
type EditMessagePayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
	Content   string `json:"content"`
}

// DeleteMessagePayload asks the server to delete an own message.
type DeleteMessagePayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
}

// ReactionActionPayload adds or removes one emoji reaction.
type ReactionActionPayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
	Emoji     string `json:"emoji"`
}

// TypingSetPayload tells the server the local user is (not) typing.
type TypingSetPayload struct {
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
	Typing    bool   `json:"typing"`
}

// SeenAckPayload acknowledges the latest message of a channel as read.
type SeenAckPayload struct {
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
	MessageID string `json:"message_id"`
}

// ChannelSwitchPayload tells the server which channel is active now.
type ChannelSwitchPayload struct {
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
}

// ChannelSubscribePayload subscribes to a channel's event stream.
type ChannelSubscribePayload struct {
	ChannelID string `json:"channel_id"`
	SpaceID   string `json:"space_id,omitempty"`
}

// VoiceJoinPayload asks to join a voice room.
type VoiceJoinPayload struct {
	RoomID string `json:"room_id"`
}

// VoiceLeavePayload leaves a voice room.
type VoiceLeavePayload struct {
	RoomID string `json:"room_id"`
}

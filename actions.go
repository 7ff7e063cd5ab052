package orbitclient

import (
	"context"
	"encoding/json"

	"github.com/orbit-chat/orbit-client/channel"
	"github.com/orbit-chat/orbit-client/eventwire"
	"github.com/orbit-chat/orbit-client/internal/logger"
)

// User-initiated actions: each mutates the local store optimistically where
// the data model allows it, then emits the outbound event carrying the same
// correlation id so the server confirmation can be reconciled later.

// SendMessage appends an optimistic message to the active channel and emits
// the send action. The returned tempId identifies the entry until the server
// confirms it.
func (c *Client) SendMessage(d channel.Draft) (string, error) {
	view := c.currentView()
	if view.Active == "" {
		return "", errNoActiveChannel
	}
	tempID, _ := c.messages.SendOptimistic(view.Active, d)
	p := eventwire.SendMessagePayload{
		ChannelID:   view.Active.ChannelID(),
		SpaceID:     view.Active.SpaceID(),
		TempID:      tempID,
		Content:     d.Content,
		Spoiler:     d.Spoiler,
		ReplyToID:   d.ReplyToID,
		Attachments: d.Attachments,
	}
	if err := c.mgr.Send(eventwire.ActionSendMessage, p); err != nil {
		// The optimistic entry stays, visibly unconfirmed, until a rejection
		// or a reconnect-backlog settles it.
		return tempID, err
	}
	return tempID, nil
}

// EditMessage asks the server to edit an own message; the store updates on
// the confirmed message_edited event.
func (c *Client) EditMessage(key channel.Key, messageID, content string) error {
	return c.mgr.Send(eventwire.ActionEditMessage, eventwire.EditMessagePayload{
		MessageID: messageID,
		ChannelID: key.ChannelID(),
		SpaceID:   key.SpaceID(),
		Content:   content,
	})
}

// DeleteMessage asks the server to delete an own message.
func (c *Client) DeleteMessage(key channel.Key, messageID string) error {
	return c.mgr.Send(eventwire.ActionDeleteMessage, eventwire.DeleteMessagePayload{
		MessageID: messageID,
		ChannelID: key.ChannelID(),
		SpaceID:   key.SpaceID(),
	})
}

// AddReaction emits a reaction add and records the emoji as recently used.
func (c *Client) AddReaction(ctx context.Context, key channel.Key, messageID, emoji string) error {
	if err := c.prefs.PushRecentEmoji(ctx, emoji); err != nil {
		logger.Debugf("push recent emoji: %v", err)
	}
	return c.mgr.Send(eventwire.ActionAddReaction, eventwire.ReactionActionPayload{
		MessageID: messageID,
		ChannelID: key.ChannelID(),
		SpaceID:   key.SpaceID(),
		Emoji:     emoji,
	})
}

// RemoveReaction emits a reaction removal.
func (c *Client) RemoveReaction(key channel.Key, messageID, emoji string) error {
	return c.mgr.Send(eventwire.ActionRemoveReaction, eventwire.ReactionActionPayload{
		MessageID: messageID,
		ChannelID: key.ChannelID(),
		SpaceID:   key.SpaceID(),
		Emoji:     emoji,
	})
}

// SetTyping emits a typing signal for the active channel. Starts are
// throttled so a keypress storm produces at most one signal per window;
// stops always go out.
func (c *Client) SetTyping(typing bool) {
	view := c.currentView()
	if view.Active == "" {
		return
	}
	if typing && !c.typingLimiter.Allow() {
		return
	}
	p := eventwire.TypingSetPayload{
		ChannelID: view.Active.ChannelID(),
		SpaceID:   view.Active.SpaceID(),
		Typing:    typing,
	}
	if err := c.mgr.Send(eventwire.ActionTypingSet, p); err != nil {
		logger.Debugf("typing set: %v", err)
	}
}

// SwitchChannel makes key the active view, resets its unread state, tells
// the server, and acknowledges the latest known message. In-flight backlog
// requests for the previous channel are not cancelled; their results still
// land in that channel's cache, they are just no longer rendered.
func (c *Client) SwitchChannel(key channel.Key) {
	c.mu.Lock()
	c.view.Active = key
	c.mu.Unlock()

	c.unread.MarkViewed(key)
	p := eventwire.ChannelSwitchPayload{ChannelID: key.ChannelID(), SpaceID: key.SpaceID()}
	if err := c.mgr.Send(eventwire.ActionChannelSwitch, p); err != nil {
		logger.Errorf("channel switch %s: %v", key, err)
	}
	c.subscribe(key)
	if last, ok := c.messages.Latest(key); ok && last.AuthorID != c.self.ID && last.ID != "" {
		c.ackSeen(key, last.ID)
	}
}

// SendBoardItem, SendFormAnswer, and SendHabitEntry apply the optimistic
// append to their surface store and emit the matching action.
func (c *Client) SendBoardItem(key channel.Key, body json.RawMessage) (string, error) {
	return c.sendItem(c.boards, eventwire.EventBoardItem, key, body)
}

func (c *Client) SendFormAnswer(key channel.Key, body json.RawMessage) (string, error) {
	return c.sendItem(c.forms, eventwire.EventFormAnswer, key, body)
}

func (c *Client) SendHabitEntry(key channel.Key, body json.RawMessage) (string, error) {
	return c.sendItem(c.habits, eventwire.EventHabitEntry, key, body)
}

func (c *Client) sendItem(store *channel.ItemStore, typ eventwire.EventType, key channel.Key, body json.RawMessage) (string, error) {
	tempID, it := store.SendOptimistic(key, body)
	p := eventwire.ItemEventPayload{
		ChannelID: key.ChannelID(),
		SpaceID:   key.SpaceID(),
		Item: eventwire.WireItem{
			TempID:    tempID,
			AuthorID:  c.self.ID,
			Body:      it.Body,
			UpdatedAt: it.UpdatedAt,
		},
	}
	if err := c.mgr.Send(typ, p); err != nil {
		return tempID, err
	}
	return tempID, nil
}

// JoinVoice acquires the capture device and announces the join. A capture
// failure aborts before anything is sent; no automatic retry.
func (c *Client) JoinVoice(ctx context.Context, roomID, deviceID string) error {
	if err := c.mesh.Join(ctx, roomID, deviceID); err != nil {
		return err
	}
	if err := c.mgr.Send(eventwire.ActionVoiceJoin, eventwire.VoiceJoinPayload{RoomID: roomID}); err != nil {
		c.mesh.Leave()
		return err
	}
	return nil
}

// LeaveVoice announces the leave and synchronously tears the mesh down.
func (c *Client) LeaveVoice() {
	roomID, ok := c.mesh.InRoom()
	if !ok {
		return
	}
	if err := c.mgr.Send(eventwire.ActionVoiceLeave, eventwire.VoiceLeavePayload{RoomID: roomID}); err != nil {
		logger.Debugf("voice leave: %v", err)
	}
	c.mesh.Leave()
}

// SwitchVoiceDevice hot-swaps the capture device mid-call.
func (c *Client) SwitchVoiceDevice(ctx context.Context, deviceID string) error {
	return c.mesh.SwitchDevice(ctx, deviceID)
}

// SetSpaceMuted flips alerting for a space and persists the preference.
func (c *Client) SetSpaceMuted(ctx context.Context, spaceID string, muted bool) error {
	c.unread.SetSpaceMuted(spaceID, muted)
	return c.prefs.SetSpaceMuted(ctx, spaceID, muted)
}

// Package orbitclient is the client-side realtime synchronization core: it
// reconciles optimistic mutations with server-confirmed events, aggregates
// presence across scopes, and drives the voice mesh — all over the single
// event connection owned by eventwire.Manager.
//
// Inbound events are handled by a dispatch table of reducers. Every reducer
// receives the current View explicitly at call time, so no handler ever
// captures selection state at subscription time.
package orbitclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/orbit-chat/orbit-client/channel"
	"github.com/orbit-chat/orbit-client/eventwire"
	"github.com/orbit-chat/orbit-client/internal/config"
	"github.com/orbit-chat/orbit-client/internal/logger"
	"github.com/orbit-chat/orbit-client/notify"
	"github.com/orbit-chat/orbit-client/prefs"
	"github.com/orbit-chat/orbit-client/prefs/memory"
	redisprefs "github.com/orbit-chat/orbit-client/prefs/redis"
	"github.com/orbit-chat/orbit-client/presence"
	"github.com/orbit-chat/orbit-client/voice"
)

// View is the explicit current-selection context: which channel is active and
// whether the shell's document is focused and visible right now.
type View struct {
	Active  channel.Key
	Focused bool
	Visible bool
}

// ActiveVisible reports whether key is the channel the user is actually
// looking at this instant.
func (v View) ActiveVisible(key channel.Key) bool {
	return v.Active == key && v.Focused && v.Visible
}

// Options wires the collaborators the shell supplies.
type Options struct {
	Self    channel.Author
	Creds   eventwire.CredentialSource
	Capture voice.CaptureSource
	// Transport overrides the default pion transport (tests).
	Transport voice.Transport
	Sounder   notify.Sounder
	// Prefs overrides the config-selected preference cache (redis or memory).
	Prefs  prefs.Store
	Config *config.Config
	// OnLevels receives metering samples while a call is active.
	OnLevels func(map[string]float64)
	// OnServerError surfaces server-side action rejections to the shell.
	OnServerError func(string)
}

type reducer func(c *Client, view View, payload json.RawMessage)

// Client composes the stores and owns the reducer dispatch table.
type Client struct {
	cfg  *config.Config
	self channel.Author

	mgr      *eventwire.Manager
	messages *channel.Store
	boards   *channel.ItemStore
	forms    *channel.ItemStore
	habits   *channel.ItemStore
	pres     *presence.Aggregator
	unread   *notify.Coordinator
	meter    *voice.Meter
	mesh     *voice.Controller
	prefs    prefs.Store
	// ownPrefs marks a store created from config rather than supplied by the
	// shell; only owned stores are closed by Close.
	ownPrefs bool

	mu            sync.Mutex
	view          View
	typingLimiter *rate.Limiter
	reducers      map[eventwire.EventType]reducer
	onServerError func(string)
}

// New builds the client. The connection is not dialed until Connect.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}
	logger.SetLevel(cfg.LogLevel)

	transport := opts.Transport
	if transport == nil {
		t, err := voice.NewWebRTCTransport(cfg.CallICEServers)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	// Кеш предпочтений: переданный снаружи, иначе redis из конфига, иначе память.
	store := opts.Prefs
	ownPrefs := false
	if store == nil {
		if cfg.PrefsRedisURL != "" {
			rc, err := redisprefs.New(context.Background(), cfg.PrefsRedisURL, opts.Self.ID)
			if err != nil {
				return nil, err
			}
			store = rc
		} else {
			store = memory.New()
		}
		ownPrefs = true
	}

	c := &Client{
		cfg:           cfg,
		self:          opts.Self,
		messages:      channel.NewStore(opts.Self),
		boards:        channel.NewItemStore(channel.SurfaceBoard, opts.Self.ID),
		forms:         channel.NewItemStore(channel.SurfaceForm, opts.Self.ID),
		habits:        channel.NewItemStore(channel.SurfaceHabit, opts.Self.ID),
		pres:          presence.NewAggregator(cfg.TypingTimeout, cfg.TypingStopGrace),
		unread:        notify.NewCoordinator(opts.Self.ID, opts.Sounder),
		meter:         voice.NewMeter(opts.OnLevels),
		prefs:         store,
		ownPrefs:      ownPrefs,
		typingLimiter: rate.NewLimiter(rate.Every(cfg.TypingThrottle), 1),
		onServerError: opts.OnServerError,
	}
	c.mgr = eventwire.NewManager(cfg.EventURL, opts.Creds, c.dispatch, eventwire.Tuning{
		WriteTimeout:   cfg.WriteTimeout,
		PongTimeout:    cfg.PongTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBufferSize: cfg.SendBufferSize,
	})
	c.mesh = voice.NewController(uuid.New().String(), transport, opts.Capture, c.meter, func(p eventwire.VoiceSignalPayload) error {
		return c.mgr.Send(eventwire.ActionVoiceSignal, p)
	})
	c.reducers = defaultReducers()

	c.mgr.OnResync(c.resync)
	c.mgr.OnStateChange(func(s eventwire.State) {
		// A dropped signaling channel cannot sustain a mesh call.
		if s == eventwire.StateDisconnected || s == eventwire.StateError {
			c.mesh.Leave()
			c.pres.Reset()
		}
	})
	return c, nil
}

// Connect dials the event channel and seeds preference-backed state.
func (c *Client) Connect(ctx context.Context) error {
	if muted, err := c.prefs.MutedSpaces(ctx); err == nil {
		for _, spaceID := range muted {
			c.unread.SetSpaceMuted(spaceID, true)
		}
	}
	return c.mgr.Connect(ctx)
}

// Disconnect deliberately closes the connection and ends any voice call.
func (c *Client) Disconnect() {
	c.mesh.Leave()
	c.mgr.Disconnect()
}

// Close disconnects and releases the preference cache if the client created
// it itself; a store supplied by the shell stays open.
func (c *Client) Close() {
	c.Disconnect()
	if c.ownPrefs {
		if err := c.prefs.Close(); err != nil {
			logger.Errorf("prefs close: %v", err)
		}
	}
}

// NotifyVisible forwards a visibility regain to the connection manager and
// records the new view state.
func (c *Client) NotifyVisible(ctx context.Context, focused, visible bool) {
	c.mu.Lock()
	c.view.Focused = focused
	c.view.Visible = visible
	c.mu.Unlock()
	if visible {
		c.mgr.NotifyVisible(ctx)
	}
}

// ConnectionState exposes the manager state for the status indicator.
func (c *Client) ConnectionState() eventwire.State { return c.mgr.State() }

// OnConnectionState registers a connection status observer.
func (c *Client) OnConnectionState(f func(eventwire.State)) { c.mgr.OnStateChange(f) }

func (c *Client) currentView() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// resync runs after every successful (re)connect: re-request the
// authoritative snapshots instead of trusting any stale cache. Per-channel
// ordering does not survive a reconnect boundary, so there is no delta replay.
func (c *Client) resync() {
	if err := c.mgr.Send(eventwire.ActionChannelList, nil); err != nil {
		logger.Errorf("resync channel list: %v", err)
		return
	}
	view := c.currentView()
	if view.Active != "" {
		c.subscribe(view.Active)
	}
}

func (c *Client) subscribe(key channel.Key) {
	p := eventwire.ChannelSubscribePayload{ChannelID: key.ChannelID(), SpaceID: key.SpaceID()}
	if err := c.mgr.Send(eventwire.ActionChannelSubscribe, p); err != nil {
		logger.Errorf("subscribe %s: %v", key, err)
	}
}

// --- Inbound dispatch ---

func (c *Client) dispatch(ev eventwire.Event) {
	r, ok := c.reducers[ev.Type]
	if !ok {
		logger.Debugf("no reducer for event type=%s", ev.Type)
		return
	}
	r(c, c.currentView(), ev.Payload)
}

func defaultReducers() map[eventwire.EventType]reducer {
	return map[eventwire.EventType]reducer{
		eventwire.EventPresenceRoom:   reducePresenceRoom,
		eventwire.EventPresenceSpace:  reducePresenceSpace,
		eventwire.EventPresenceGlobal: reducePresenceGlobal,
		eventwire.EventTypingStart:    reduceTypingStart,
		eventwire.EventTypingStop:     reduceTypingStop,

		eventwire.EventNewMessage:       reduceNewMessage,
		eventwire.EventMessageEdited:    reduceMessageEdited,
		eventwire.EventMessageDeleted:   reduceMessageDeleted,
		eventwire.EventMessageRejected:  reduceMessageRejected,
		eventwire.EventMessagePinned:    reduceMessagePinned,
		eventwire.EventMessageUnpinned:  reduceMessageUnpinned,
		eventwire.EventReactionsChanged: reduceReactionsChanged,
		eventwire.EventSeenUpTo:         reduceSeenUpTo,
		eventwire.EventBacklog:          reduceBacklog,

		eventwire.EventBoardState: reduceItemState((*Client).boardStore),
		eventwire.EventFormState:  reduceItemState((*Client).formStore),
		eventwire.EventHabitState: reduceItemState((*Client).habitStore),
		eventwire.EventBoardItem:  reduceItemEvent((*Client).boardStore),
		eventwire.EventFormAnswer: reduceItemEvent((*Client).formStore),
		eventwire.EventHabitEntry: reduceItemEvent((*Client).habitStore),

		eventwire.EventVoiceRoster:     reduceVoiceRoster,
		eventwire.EventVoicePeerJoined: reduceVoicePeerJoined,
		eventwire.EventVoicePeerLeft:   reduceVoicePeerLeft,
		eventwire.EventVoiceSignal:     reduceVoiceSignal,

		eventwire.EventError: reduceServerError,
	}
}

func decode[T any](payload json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		logger.Errorf("decode payload: %v", err)
		return v, false
	}
	return v, true
}

func reducePresenceRoom(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.PresencePayload](payload)
	if !ok {
		return
	}
	c.pres.ApplyRoomPresence(p.UserIDs, p.MobileIDs)
}

func reducePresenceSpace(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.PresencePayload](payload)
	if !ok {
		return
	}
	c.pres.ApplySpacePresence(p.SpaceID, p.UserIDs, p.MobileIDs)
}

func reducePresenceGlobal(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.PresencePayload](payload)
	if !ok {
		return
	}
	c.pres.ApplyGlobalPresence(p.UserIDs, p.MobileIDs)
}

func reduceTypingStart(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.TypingPayload](payload)
	if !ok || p.UserID == c.self.ID {
		return
	}
	c.pres.StartTyping(channel.Normalize(p.SpaceID, p.ChannelID), p.UserID, p.DisplayName)
}

func reduceTypingStop(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.TypingPayload](payload)
	if !ok || p.UserID == c.self.ID {
		return
	}
	c.pres.StopTyping(channel.Normalize(p.SpaceID, p.ChannelID), p.UserID)
}

func reduceNewMessage(c *Client, view View, payload json.RawMessage) {
	w, ok := decode[eventwire.WireMessage](payload)
	if !ok {
		return
	}
	key := channel.Normalize(w.SpaceID, w.ChannelID)
	c.messages.ApplyNew(key, w)

	activeVisible := view.ActiveVisible(key)
	c.unread.OnMessage(key, w.AuthorID, w.AuthorName, w.Content, activeVisible)
	if activeVisible && w.AuthorID != c.self.ID {
		c.ackSeen(key, w.ID)
	}
}

func reduceMessageEdited(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.MessageEditedPayload](payload)
	if !ok {
		return
	}
	c.messages.ApplyEdited(channel.Normalize(p.SpaceID, p.ChannelID), p.MessageID, p.Content, p.EditedAt)
}

func reduceMessageDeleted(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.MessageDeletedPayload](payload)
	if !ok {
		return
	}
	c.messages.ApplyDeleted(channel.Normalize(p.SpaceID, p.ChannelID), p.MessageID)
}

func reduceMessageRejected(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.MessageRejectedPayload](payload)
	if !ok {
		return
	}
	c.messages.Reject(channel.Normalize(p.SpaceID, p.ChannelID), p.TempID)
	if c.onServerError != nil && p.Reason != "" {
		c.onServerError(p.Reason)
	}
}

func reduceMessagePinned(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.PinPayload](payload)
	if !ok {
		return
	}
	c.messages.ApplyPinned(channel.Normalize(p.SpaceID, p.ChannelID), p.MessageID, true)
}

func reduceMessageUnpinned(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.PinPayload](payload)
	if !ok {
		return
	}
	c.messages.ApplyPinned(channel.Normalize(p.SpaceID, p.ChannelID), p.MessageID, false)
}

func reduceReactionsChanged(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.ReactionsChangedPayload](payload)
	if !ok {
		return
	}
	c.messages.ApplyReactions(channel.Normalize(p.SpaceID, p.ChannelID), p.MessageID, p.Reactions)
}

func reduceSeenUpTo(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.SeenUpToPayload](payload)
	if !ok {
		return
	}
	c.messages.ApplySeenUpTo(channel.Normalize(p.SpaceID, p.ChannelID), p.UserID)
}

func reduceBacklog(c *Client, view View, payload json.RawMessage) {
	p, ok := decode[eventwire.BacklogPayload](payload)
	if !ok {
		return
	}
	key := channel.Normalize(p.SpaceID, p.ChannelID)
	c.messages.LoadBacklog(key, p.Messages)
	// Reading the backlog of the active channel acknowledges its last message.
	if view.ActiveVisible(key) {
		if last, ok := c.messages.Latest(key); ok && last.AuthorID != c.self.ID {
			c.ackSeen(key, last.ID)
		}
	}
}

func (c *Client) boardStore() *channel.ItemStore { return c.boards }
func (c *Client) formStore() *channel.ItemStore  { return c.forms }
func (c *Client) habitStore() *channel.ItemStore { return c.habits }

func reduceItemState(pick func(*Client) *channel.ItemStore) reducer {
	return func(c *Client, _ View, payload json.RawMessage) {
		p, ok := decode[eventwire.ItemStatePayload](payload)
		if !ok {
			return
		}
		pick(c).LoadState(channel.Normalize(p.SpaceID, p.ChannelID), p.Items)
	}
}

func reduceItemEvent(pick func(*Client) *channel.ItemStore) reducer {
	return func(c *Client, _ View, payload json.RawMessage) {
		p, ok := decode[eventwire.ItemEventPayload](payload)
		if !ok {
			return
		}
		pick(c).ApplyEvent(channel.Normalize(p.SpaceID, p.ChannelID), p.Item, p.Deleted)
	}
}

func reduceVoiceRoster(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.VoiceRosterPayload](payload)
	if !ok {
		return
	}
	c.mesh.HandleRoster(context.Background(), p)
}

func reduceVoicePeerJoined(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.VoicePeerJoinedPayload](payload)
	if !ok {
		return
	}
	c.mesh.HandlePeerJoined(p)
}

func reduceVoicePeerLeft(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.VoicePeerLeftPayload](payload)
	if !ok {
		return
	}
	c.mesh.HandlePeerLeft(p)
}

func reduceVoiceSignal(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.VoiceSignalPayload](payload)
	if !ok {
		return
	}
	c.mesh.HandleSignal(context.Background(), p)
}

func reduceServerError(c *Client, _ View, payload json.RawMessage) {
	p, ok := decode[eventwire.ErrorPayload](payload)
	if !ok {
		return
	}
	logger.Errorf("server error: %s", p.Message)
	if c.onServerError != nil {
		c.onServerError(p.Message)
	}
}

func (c *Client) ackSeen(key channel.Key, messageID string) {
	p := eventwire.SeenAckPayload{ChannelID: key.ChannelID(), SpaceID: key.SpaceID(), MessageID: messageID}
	if err := c.mgr.Send(eventwire.ActionSeenAck, p); err != nil {
		logger.Debugf("seen ack %s: %v", key, err)
	}
}

var errNoActiveChannel = errors.New("orbitclient: no active channel")

// --- queries ---

// Messages returns the snapshot for a channel.
func (c *Client) Messages(key channel.Key) []channel.Message { return c.messages.Messages(key) }

// BoardItems, FormAnswers, HabitEntries return the surface snapshots.
func (c *Client) BoardItems(key channel.Key) []channel.Item   { return c.boards.Items(key) }
func (c *Client) FormAnswers(key channel.Key) []channel.Item  { return c.forms.Items(key) }
func (c *Client) HabitEntries(key channel.Key) []channel.Item { return c.habits.Items(key) }

// IsOnline reports union presence across the three scopes.
func (c *Client) IsOnline(userID string) bool { return c.pres.IsOnline(userID) }

// Typers returns who is typing in a channel.
func (c *Client) Typers(key channel.Key) map[string]string { return c.pres.Typers(key) }

// Unread returns the unread count for a channel.
func (c *Client) Unread(key channel.Key) int { return c.unread.Unread(key) }

// VoicePeers returns the current mesh roster.
func (c *Client) VoicePeers() map[string]voice.PeerState { return c.mesh.Peers() }

// MeterActive reports whether audio metering is currently running.
func (c *Client) MeterActive() bool { return c.meter.Active() }

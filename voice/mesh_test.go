package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-chat/orbit-client/eventwire"
)

// --- фейковый транспорт для тестов логики переговоров ---

type fakeSource struct {
	mu     sync.Mutex
	id     string
	closed bool
}

func (s *fakeSource) DeviceID() string { return s.id }
func (s *fakeSource) ReadFrame() ([]byte, time.Duration, error) {
	return nil, 0, errors.New("fake source has no frames")
}
func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeCapture struct {
	mu     sync.Mutex
	err    error
	opened []*fakeSource
}

func (c *fakeCapture) Devices(ctx context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "dev1", Label: "Mic 1"}, {ID: "dev2", Label: "Mic 2"}}, nil
}

func (c *fakeCapture) Open(ctx context.Context, deviceID string) (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeSource{id: deviceID}
	c.opened = append(c.opened, s)
	return s, nil
}

type fakeTrack struct {
	mu     sync.Mutex
	src    Source
	closed bool
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeLink struct {
	mu         sync.Mutex
	cb         LinkCallbacks
	offers     int
	offersIn   []string
	answersIn  []string
	candidates []string
	replaced   []LocalTrack
	closed     bool
	replaceErr error
}

func (l *fakeLink) Offer(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offers++
	return "offer-sdp", nil
}

func (l *fakeLink) HandleOffer(ctx context.Context, sdp string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offersIn = append(l.offersIn, sdp)
	return "answer-sdp", nil
}

func (l *fakeLink) HandleAnswer(ctx context.Context, sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answersIn = append(l.answersIn, sdp)
	return nil
}

func (l *fakeLink) AddRemoteCandidate(candidate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = append(l.candidates, candidate)
	return nil
}

func (l *fakeLink) ReplaceTrack(lt LocalTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.replaceErr != nil {
		return l.replaceErr
	}
	l.replaced = append(l.replaced, lt)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeTransport struct {
	mu    sync.Mutex
	links []*fakeLink
}

func (t *fakeTransport) NewLocalTrack(src Source, onLevel func(float64)) (LocalTrack, error) {
	return &fakeTrack{src: src}, nil
}

func (t *fakeTransport) NewLink(lt LocalTrack, cb LinkCallbacks) (Link, error) {
	l := &fakeLink{cb: cb}
	t.mu.Lock()
	t.links = append(t.links, l)
	t.mu.Unlock()
	return l, nil
}

func (t *fakeTransport) linkCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}

func (t *fakeTransport) link(i int) *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[i]
}

type signalRecorder struct {
	mu   sync.Mutex
	sent []eventwire.VoiceSignalPayload
}

func (r *signalRecorder) send(p eventwire.VoiceSignalPayload) error {
	r.mu.Lock()
	r.sent = append(r.sent, p)
	r.mu.Unlock()
	return nil
}

func (r *signalRecorder) byKind(kind string) []eventwire.VoiceSignalPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventwire.VoiceSignalPayload
	for _, p := range r.sent {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func newTestController(selfID string) (*Controller, *fakeTransport, *fakeCapture, *signalRecorder) {
	tr := &fakeTransport{}
	cap := &fakeCapture{}
	rec := &signalRecorder{}
	c := NewController(selfID, tr, cap, NewMeter(nil), rec.send)
	return c, tr, cap, rec
}

func TestJoinCaptureFailureAborts(t *testing.T) {
	c, _, cap, rec := newTestController("self")
	cap.err = errors.New("device busy")

	err := c.Join(context.Background(), "room1", "dev1")
	require.ErrorIs(t, err, ErrNoDevice)

	_, joined := c.InRoom()
	assert.False(t, joined)
	assert.Empty(t, rec.sent)
}

func TestJoinIdempotentSameRoom(t *testing.T) {
	c, _, _, _ := newTestController("self")
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	assert.Error(t, c.Join(ctx, "room2", "dev1"))

	room, joined := c.InRoom()
	assert.True(t, joined)
	assert.Equal(t, "room1", room)
}

func TestRosterOffersToEachDiscoveredPeer(t *testing.T) {
	c, tr, _, rec := newTestController("self")
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room1", "dev1"))

	roster := eventwire.VoiceRosterPayload{
		RoomID: "room1",
		Peers:  []eventwire.VoicePeer{{PeerID: "p1"}, {PeerID: "p2"}, {PeerID: "self"}},
	}
	c.HandleRoster(ctx, roster)

	assert.Equal(t, 2, tr.linkCount())
	assert.Len(t, rec.byKind("offer"), 2)
	assert.Len(t, c.Peers(), 2)

	// Повторный ростер не создаёт второй линк на тот же peerID.
	c.HandleRoster(ctx, roster)
	assert.Equal(t, 2, tr.linkCount())
	assert.Len(t, rec.byKind("offer"), 2)
}

func TestPeerJoinedDoesNotOffer(t *testing.T) {
	c, tr, _, rec := newTestController("self")
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room1", "dev1"))

	// Новичок увидел нас в своём ростере и предложит первым.
	c.HandlePeerJoined(eventwire.VoicePeerJoinedPayload{RoomID: "room1", Peer: eventwire.VoicePeer{PeerID: "p1"}})
	assert.Equal(t, 1, tr.linkCount())
	assert.Empty(t, rec.byKind("offer"))

	c.HandleSignal(ctx, eventwire.VoiceSignalPayload{RoomID: "room1", PeerID: "p1", Kind: "offer", SDP: "their-offer"})
	answers := rec.byKind("answer")
	require.Len(t, answers, 1)
	assert.Equal(t, "p1", answers[0].PeerID)
	assert.Equal(t, []string{"their-offer"}, tr.link(0).offersIn)
}

func TestGlareTieBreak(t *testing.T) {
	ctx := context.Background()

	// Меньший peer id сохраняет свой оффер, встречный отбрасывается.
	c, tr, _, rec := newTestController("aaa")
	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	c.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "bbb"}}})
	c.HandleSignal(ctx, eventwire.VoiceSignalPayload{RoomID: "room1", PeerID: "bbb", Kind: "offer", SDP: "their-offer"})
	assert.Empty(t, rec.byKind("answer"))
	assert.False(t, tr.link(0).isClosed())

	// Больший peer id уступает: пересоздаёт линк и отвечает.
	c2, tr2, _, rec2 := newTestController("zzz")
	require.NoError(t, c2.Join(ctx, "room1", "dev1"))
	c2.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "bbb"}}})
	c2.HandleSignal(ctx, eventwire.VoiceSignalPayload{RoomID: "room1", PeerID: "bbb", Kind: "offer", SDP: "their-offer"})
	require.Len(t, rec2.byKind("answer"), 1)
	assert.True(t, tr2.link(0).isClosed())
	assert.Equal(t, 2, tr2.linkCount())
	assert.Len(t, c2.Peers(), 1)
}

func TestSignalRouting(t *testing.T) {
	c, tr, _, _ := newTestController("self")
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	c.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "p1"}}})

	c.HandleSignal(ctx, eventwire.VoiceSignalPayload{RoomID: "room1", PeerID: "p1", Kind: "answer", SDP: "their-answer"})
	c.HandleSignal(ctx, eventwire.VoiceSignalPayload{RoomID: "room1", PeerID: "p1", Kind: "ice", Candidate: "cand1"})

	l := tr.link(0)
	assert.Equal(t, []string{"their-answer"}, l.answersIn)
	assert.Equal(t, []string{"cand1"}, l.candidates)

	// Сигналы чужой комнаты поглощаются, пир не создаётся.
	c.HandleSignal(ctx, eventwire.VoiceSignalPayload{RoomID: "other", PeerID: "p9", Kind: "offer", SDP: "x"})
	assert.Equal(t, 1, tr.linkCount())
}

func TestPeerLeftAndLinkClosed(t *testing.T) {
	c, tr, _, _ := newTestController("self")
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	c.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "p1"}, {PeerID: "p2"}}})

	c.HandlePeerLeft(eventwire.VoicePeerLeftPayload{RoomID: "room1", PeerID: "p1"})
	assert.True(t, tr.link(0).isClosed())
	assert.Len(t, c.Peers(), 1)

	// Смерть линка убирает пира через его же колбэк.
	tr.link(1).cb.OnClosed(errors.New("ice failed"))
	assert.Empty(t, c.Peers())
}

func TestPeerStateTransitions(t *testing.T) {
	c, tr, _, _ := newTestController("self")
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	c.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "p1"}}})

	assert.Equal(t, PeerConnecting, c.Peers()["p1"])
	tr.link(0).cb.OnConnected()
	assert.Equal(t, PeerConnected, c.Peers()["p1"])
}

func TestSwitchDeviceReplacesTrackOnEveryLink(t *testing.T) {
	c, tr, cap, _ := newTestController("self")
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	c.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "p1"}, {PeerID: "p2"}}})

	require.NoError(t, c.SwitchDevice(ctx, "dev2"))

	require.Len(t, cap.opened, 2)
	assert.True(t, cap.opened[0].isClosed())
	assert.False(t, cap.opened[1].isClosed())
	assert.Len(t, tr.link(0).replaced, 1)
	assert.Len(t, tr.link(1).replaced, 1)
	assert.Len(t, c.Peers(), 2)
}

func TestSwitchDeviceFailureIsolatesPeer(t *testing.T) {
	c, tr, _, _ := newTestController("self")
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	c.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "p1"}, {PeerID: "p2"}}})

	tr.link(0).replaceErr = errors.New("sender gone")
	require.NoError(t, c.SwitchDevice(ctx, "dev2"))

	// Сломавшийся пир убран, остальной mesh продолжает работать.
	assert.Len(t, c.Peers(), 1)
	assert.True(t, tr.link(0).isClosed())
	assert.False(t, tr.link(1).isClosed())
}

func TestSwitchDeviceNotInRoom(t *testing.T) {
	c, _, _, _ := newTestController("self")
	assert.ErrorIs(t, c.SwitchDevice(context.Background(), "dev2"), ErrNotInRoom)
}

func TestLeaveTearsDownEverything(t *testing.T) {
	c, tr, cap, _ := newTestController("self")
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	c.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "p1"}, {PeerID: "p2"}}})

	c.Leave()

	_, joined := c.InRoom()
	assert.False(t, joined)
	assert.Empty(t, c.Peers())
	assert.True(t, tr.link(0).isClosed())
	assert.True(t, tr.link(1).isClosed())
	assert.True(t, cap.opened[0].isClosed())

	// Повторный Leave безопасен.
	c.Leave()
}

func TestLeaveStopsMetering(t *testing.T) {
	tr := &fakeTransport{}
	cap := &fakeCapture{}
	rec := &signalRecorder{}
	meter := NewMeter(nil)
	c := NewController("self", tr, cap, meter, rec.send)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "room1", "dev1"))
	c.HandleRoster(ctx, eventwire.VoiceRosterPayload{RoomID: "room1", Peers: []eventwire.VoicePeer{{PeerID: "p1"}}})
	assert.True(t, meter.Active())

	c.Leave()
	assert.False(t, meter.Active())
}

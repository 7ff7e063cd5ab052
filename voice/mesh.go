package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/orbit-chat/orbit-client/eventwire"
	"github.com/orbit-chat/orbit-client/internal/logger"
)

const localStream = "local"

// SignalSender relays an outbound signaling payload over the event channel.
type SignalSender func(p eventwire.VoiceSignalPayload) error

type peer struct {
	info    eventwire.VoicePeer
	state   PeerState
	link    Link
	offered bool // we sent the initial offer (roster discovery)
}

// Controller manages the local capture and one Link per remote peer.
//
// Glare avoidance: only the joiner, who learns about existing participants
// from the roster push, sends initial offers; a participant notified by
// peer_joined waits for the newcomer's offer. A failure on one peer tears
// down that peer only — the rest of the mesh continues.
type Controller struct {
	transport  Transport
	capture    CaptureSource
	meter      *Meter
	send       SignalSender
	selfPeerID string

	mu     sync.Mutex
	joined bool
	roomID string
	src    Source
	track  LocalTrack
	peers  map[string]*peer
}

func NewController(selfPeerID string, transport Transport, capture CaptureSource, meter *Meter, send SignalSender) *Controller {
	return &Controller{
		transport:  transport,
		capture:    capture,
		meter:      meter,
		send:       send,
		selfPeerID: selfPeerID,
		peers:      make(map[string]*peer),
	}
}

// Join acquires the capture device and arms the controller for the room.
// A capture failure aborts the join with ErrNoDevice; nothing is retained.
// The caller emits the voice_join action only after Join returns nil.
func (c *Controller) Join(ctx context.Context, roomID, deviceID string) error {
	c.mu.Lock()
	if c.joined {
		already := c.roomID
		c.mu.Unlock()
		if already == roomID {
			return nil
		}
		return fmt.Errorf("voice: already in room %s", already)
	}
	c.mu.Unlock()

	src, err := c.capture.Open(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	track, err := c.transport.NewLocalTrack(src, func(lv float64) { c.meter.Push(localStream, lv) })
	if err != nil {
		src.Close()
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	c.mu.Lock()
	c.joined = true
	c.roomID = roomID
	c.src = src
	c.track = track
	c.mu.Unlock()
	c.meter.Attach(localStream)
	return nil
}

// InRoom reports whether the controller currently holds a voice room.
func (c *Controller) InRoom() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.joined
}

// HandleRoster processes the join-time participant list. Every peer here is
// newly discovered by us, so we send the initial offer to each.
func (c *Controller) HandleRoster(ctx context.Context, p eventwire.VoiceRosterPayload) {
	if !c.inRoom(p.RoomID) {
		return
	}
	for _, info := range p.Peers {
		if info.PeerID == c.selfPeerID {
			continue
		}
		pr, created := c.ensurePeer(info)
		if !created {
			continue
		}
		pr.offered = true
		c.sendOffer(ctx, pr)
	}
}

// HandlePeerJoined registers a newcomer without offering; the newcomer saw us
// in its roster and offers first.
func (c *Controller) HandlePeerJoined(p eventwire.VoicePeerJoinedPayload) {
	if !c.inRoom(p.RoomID) {
		return
	}
	if p.Peer.PeerID == c.selfPeerID {
		return
	}
	c.ensurePeer(p.Peer)
}

// HandlePeerLeft tears down the named peer.
func (c *Controller) HandlePeerLeft(p eventwire.VoicePeerLeftPayload) {
	if !c.inRoom(p.RoomID) {
		return
	}
	c.removePeer(p.PeerID)
}

// HandleSignal applies one relayed offer/answer/ice message. Signals for
// unknown rooms or after leave are absorbed silently (expected under
// out-of-order delivery). A signaling fault isolates to its peer.
func (c *Controller) HandleSignal(ctx context.Context, p eventwire.VoiceSignalPayload) {
	if !c.inRoom(p.RoomID) {
		return
	}
	switch p.Kind {
	case "offer":
		c.handleOffer(ctx, p)
	case "answer":
		c.handleAnswer(ctx, p)
	case "ice":
		c.handleCandidate(p)
	default:
		logger.Errorf("voice unknown signal kind=%s peer=%s", p.Kind, p.PeerID)
	}
}

// SwitchDevice hot-swaps the capture device: a new track replaces the
// outgoing one on every existing link without renegotiating any session,
// then the old capture is released.
func (c *Controller) SwitchDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotInRoom
	}
	oldSrc, oldTrack := c.src, c.track
	c.mu.Unlock()

	src, err := c.capture.Open(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	track, err := c.transport.NewLocalTrack(src, func(lv float64) { c.meter.Push(localStream, lv) })
	if err != nil {
		src.Close()
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	c.mu.Lock()
	c.src = src
	c.track = track
	links := make(map[string]Link, len(c.peers))
	for id, pr := range c.peers {
		if pr.link != nil {
			links[id] = pr.link
		}
	}
	c.mu.Unlock()

	for id, l := range links {
		if err := l.ReplaceTrack(track); err != nil {
			logger.Errorf("voice replace track peer=%s: %v", id, err)
			c.removePeer(id)
		}
	}

	if oldTrack != nil {
		oldTrack.Close()
	}
	if oldSrc != nil {
		oldSrc.Close()
	}
	return nil
}

// Leave synchronously tears down every peer link, releases the capture
// device, and clears all metering state. The same path runs when the event
// transport drops mid-call: a dead signaling channel cannot sustain a mesh.
func (c *Controller) Leave() {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	c.joined = false
	c.roomID = ""
	src, track := c.src, c.track
	c.src, c.track = nil, nil
	peers := c.peers
	c.peers = make(map[string]*peer)
	c.mu.Unlock()

	for id, pr := range peers {
		if pr.link != nil {
			pr.link.Close()
		}
		pr.state = PeerClosed
		c.meter.Detach(peerStream(id))
	}
	if track != nil {
		track.Close()
	}
	if src != nil {
		src.Close()
	}
	c.meter.Detach(localStream)
}

// Peers returns a snapshot of the current mesh roster.
func (c *Controller) Peers() map[string]PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]PeerState, len(c.peers))
	for id, pr := range c.peers {
		out[id] = pr.state
	}
	return out
}

func (c *Controller) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined && c.roomID == roomID
}

func peerStream(peerID string) string { return "peer:" + peerID }

// ensurePeer returns the single peer object for the id, creating link and
// metering on first sight. Exactly one link per peerID ever exists; a second
// trigger for the same id reuses the first object.
func (c *Controller) ensurePeer(info eventwire.VoicePeer) (*peer, bool) {
	c.mu.Lock()
	if pr, ok := c.peers[info.PeerID]; ok {
		if info.UserID != "" {
			pr.info = info
		}
		c.mu.Unlock()
		return pr, false
	}
	pr := &peer{info: info, state: PeerConnecting}
	c.peers[info.PeerID] = pr
	roomID := c.roomID
	track := c.track
	c.mu.Unlock()

	peerID := info.PeerID
	link, err := c.transport.NewLink(track, LinkCallbacks{
		OnCandidate: func(cand string) {
			if err := c.send(eventwire.VoiceSignalPayload{RoomID: roomID, PeerID: peerID, Kind: "ice", Candidate: cand}); err != nil {
				logger.Errorf("voice send ice peer=%s: %v", peerID, err)
			}
		},
		OnConnected: func() { c.setPeerState(peerID, PeerConnected) },
		OnLevel:     func(lv float64) { c.meter.Push(peerStream(peerID), lv) },
		OnClosed: func(err error) {
			if err != nil {
				logger.Infof("voice link closed peer=%s: %v", peerID, err)
			}
			c.removePeer(peerID)
		},
	})
	if err != nil {
		logger.Errorf("voice create link peer=%s: %v", peerID, err)
		c.mu.Lock()
		delete(c.peers, peerID)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	pr.link = link
	c.mu.Unlock()
	c.meter.Attach(peerStream(peerID))
	return pr, true
}

func (c *Controller) setPeerState(peerID string, st PeerState) {
	c.mu.Lock()
	if pr, ok := c.peers[peerID]; ok {
		pr.state = st
	}
	c.mu.Unlock()
}

func (c *Controller) removePeer(peerID string) {
	c.mu.Lock()
	pr, ok := c.peers[peerID]
	if ok {
		delete(c.peers, peerID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if pr.link != nil {
		pr.link.Close()
	}
	pr.state = PeerClosed
	c.meter.Detach(peerStream(peerID))
}

func (c *Controller) sendOffer(ctx context.Context, pr *peer) {
	c.mu.Lock()
	roomID := c.roomID
	link := pr.link
	peerID := pr.info.PeerID
	c.mu.Unlock()
	if link == nil {
		return
	}
	sdp, err := link.Offer(ctx)
	if err != nil {
		logger.Errorf("voice offer peer=%s: %v", peerID, err)
		c.removePeer(peerID)
		return
	}
	if err := c.send(eventwire.VoiceSignalPayload{RoomID: roomID, PeerID: peerID, Kind: "offer", SDP: sdp}); err != nil {
		logger.Errorf("voice send offer peer=%s: %v", peerID, err)
		c.removePeer(peerID)
	}
}

func (c *Controller) handleOffer(ctx context.Context, p eventwire.VoiceSignalPayload) {
	pr, _ := c.ensurePeer(eventwire.VoicePeer{PeerID: p.PeerID})
	if pr == nil {
		return
	}
	c.mu.Lock()
	offered := pr.offered
	link := pr.link
	roomID := c.roomID
	c.mu.Unlock()

	// True glare (both sides offered despite the roster rule): the lexically
	// smaller peer id keeps its offer, the other yields and answers.
	if offered {
		if c.selfPeerID < p.PeerID {
			logger.Debugf("voice glare: dropping remote offer from peer=%s", p.PeerID)
			return
		}
		c.removePeer(p.PeerID)
		pr, _ = c.ensurePeer(eventwire.VoicePeer{PeerID: p.PeerID})
		if pr == nil {
			return
		}
		c.mu.Lock()
		link = pr.link
		c.mu.Unlock()
	}
	if link == nil {
		return
	}
	answer, err := link.HandleOffer(ctx, p.SDP)
	if err != nil {
		logger.Errorf("voice handle offer peer=%s: %v", p.PeerID, err)
		c.removePeer(p.PeerID)
		return
	}
	if err := c.send(eventwire.VoiceSignalPayload{RoomID: roomID, PeerID: p.PeerID, Kind: "answer", SDP: answer}); err != nil {
		logger.Errorf("voice send answer peer=%s: %v", p.PeerID, err)
		c.removePeer(p.PeerID)
	}
}

func (c *Controller) handleAnswer(ctx context.Context, p eventwire.VoiceSignalPayload) {
	c.mu.Lock()
	pr, ok := c.peers[p.PeerID]
	var link Link
	if ok {
		link = pr.link
	}
	c.mu.Unlock()
	if link == nil {
		return
	}
	if err := link.HandleAnswer(ctx, p.SDP); err != nil {
		logger.Errorf("voice handle answer peer=%s: %v", p.PeerID, err)
		c.removePeer(p.PeerID)
	}
}

func (c *Controller) handleCandidate(p eventwire.VoiceSignalPayload) {
	c.mu.Lock()
	pr, ok := c.peers[p.PeerID]
	var link Link
	if ok {
		link = pr.link
	}
	c.mu.Unlock()
	if link == nil {
		return
	}
	if err := link.AddRemoteCandidate(p.Candidate); err != nil {
		logger.Errorf("voice add candidate peer=%s: %v", p.PeerID, err)
	}
}

// Package voice drives the full-mesh audio call: one local capture, N peer
// links, signaling relayed over the event channel, level metering, and device
// hot-swap. Peer negotiation logic lives in Controller; the actual WebRTC
// stack sits behind the Transport interface (pion adapter in webrtc.go).
package voice

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoDevice surfaces a failed capture acquisition; the join is aborted
	// and no retry is attempted.
	ErrNoDevice  = errors.New("voice: capture device unavailable")
	ErrNotInRoom = errors.New("voice: not in a voice room")
)

// PeerState is the per-peer lifecycle: absent -> connecting -> connected -> closed.
type PeerState string

const (
	PeerConnecting PeerState = "connecting"
	PeerConnected  PeerState = "connected"
	PeerClosed     PeerState = "closed"
)

// DeviceInfo describes one capture device the shell can open.
type DeviceInfo struct {
	ID    string
	Label string
}

// Source is an open capture device delivering encoded audio frames. Supplied
// by the embedding shell; the core never touches the OS media layer itself.
type Source interface {
	DeviceID() string
	// ReadFrame blocks for the next encoded frame and its duration.
	ReadFrame() (data []byte, duration time.Duration, err error)
	Close() error
}

// CaptureSource opens capture devices. Holding a Source holds a scarce
// OS-level resource; Close releases it, not merely dereferences it.
type CaptureSource interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, deviceID string) (Source, error)
}

// LocalTrack is the outgoing audio track fanned out to every peer link.
// Created once per capture source; hot-swap creates a new one and replaces it
// on each link without renegotiation.
type LocalTrack interface {
	Close() error
}

// LinkCallbacks are invoked by a Link from its own goroutines.
type LinkCallbacks struct {
	// OnCandidate forwards a trickled local ICE candidate immediately.
	OnCandidate func(candidate string)
	// OnConnected fires when the peer transport reaches connected.
	OnConnected func()
	// OnLevel reports the remote stream's audio level in [0,1].
	OnLevel func(level float64)
	// OnClosed fires when the link dies; the controller removes the peer.
	OnClosed func(err error)
}

// Link is one peer connection of the mesh.
type Link interface {
	// Offer creates and stores the local offer SDP.
	Offer(ctx context.Context) (string, error)
	// HandleOffer applies a remote offer and returns the local answer SDP.
	HandleOffer(ctx context.Context, sdp string) (string, error)
	// HandleAnswer applies the remote answer to our earlier offer.
	HandleAnswer(ctx context.Context, sdp string) error
	// AddRemoteCandidate applies one trickled remote ICE candidate.
	AddRemoteCandidate(candidate string) error
	// ReplaceTrack swaps the outgoing track without renegotiating the session.
	ReplaceTrack(lt LocalTrack) error
	Close() error
}

// Transport creates tracks and links. The pion implementation is the default;
// tests substitute an in-memory one.
type Transport interface {
	// NewLocalTrack wraps an open capture source; onLevel receives the local
	// stream's level for metering.
	NewLocalTrack(src Source, onLevel func(float64)) (LocalTrack, error)
	// NewLink creates one peer connection carrying the given local track.
	NewLink(lt LocalTrack, cb LinkCallbacks) (Link, error)
}

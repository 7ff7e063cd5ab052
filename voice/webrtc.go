package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/orbit-chat/orbit-client/internal/config"
	"github.com/orbit-chat/orbit-client/internal/logger"
)

const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// WebRTCTransport is the production Transport backed by pion.
type WebRTCTransport struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewWebRTCTransport builds a transport with the configured STUN/TURN servers
// and the ssrc-audio-level header extension negotiated for metering.
func NewWebRTCTransport(iceServers []config.IceServer) (*WebRTCTransport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("voice media engine: %w", err)
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("voice audio-level extension: %w", err)
	}

	cfg := webrtc.Configuration{}
	for _, s := range iceServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	return &WebRTCTransport{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: cfg,
	}, nil
}

// pionTrack pumps encoded frames from a capture source into one
// TrackLocalStaticSample, which fans out to every bound peer connection.
type pionTrack struct {
	track   *webrtc.TrackLocalStaticSample
	src     Source
	onLevel func(float64)
	stop    chan struct{}
	once    sync.Once
}

func (t *WebRTCTransport) NewLocalTrack(src Source, onLevel func(float64)) (LocalTrack, error) {
	tr, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "orbit-mic",
	)
	if err != nil {
		return nil, fmt.Errorf("voice local track: %w", err)
	}
	pt := &pionTrack{track: tr, src: src, onLevel: onLevel, stop: make(chan struct{})}
	go pt.pump()
	return pt, nil
}

func (t *pionTrack) pump() {
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		data, dur, err := t.src.ReadFrame()
		if err != nil {
			return
		}
		if err := t.track.WriteSample(media.Sample{Data: data, Duration: dur}); err != nil {
			logger.Debugf("voice write sample: %v", err)
		}
		if t.onLevel != nil {
			t.onLevel(frameEnergy(len(data)))
		}
	}
}

func (t *pionTrack) Close() error {
	t.once.Do(func() { close(t.stop) })
	return nil
}

// frameEnergy maps an Opus VBR frame size to a [0,1] level. VBR output size
// tracks signal energy closely enough for a meter bar.
func frameEnergy(n int) float64 {
	const maxFrame = 320.0
	lv := float64(n) / maxFrame
	if lv > 1 {
		return 1
	}
	return lv
}

type pionLink struct {
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
	cb     LinkCallbacks
	once   sync.Once
}

func (t *WebRTCTransport) NewLink(lt LocalTrack, cb LinkCallbacks) (Link, error) {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("voice peer connection: %w", err)
	}
	l := &pionLink{pc: pc, cb: cb}

	if pt, ok := lt.(*pionTrack); ok && pt != nil {
		sender, err := pc.AddTrack(pt.track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("voice add track: %w", err)
		}
		l.sender = sender
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// Trickle: forward each candidate the moment it is discovered.
		if c == nil || cb.OnCandidate == nil {
			return
		}
		cb.OnCandidate(c.ToJSON().Candidate)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if cb.OnConnected != nil {
				cb.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.fireClosed(nil)
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go l.meterRemote(remote)
	})

	return l, nil
}

func (l *pionLink) fireClosed(err error) {
	l.once.Do(func() {
		if l.cb.OnClosed != nil {
			l.cb.OnClosed(err)
		}
	})
}

// meterRemote drains remote RTP and reports a level per packet, preferring
// the negotiated ssrc-audio-level extension over the frame-size fallback.
func (l *pionLink) meterRemote(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if l.cb.OnLevel == nil {
			continue
		}
		if lv, ok := audioLevel(pkt); ok {
			l.cb.OnLevel(lv)
		} else {
			l.cb.OnLevel(frameEnergy(len(pkt.Payload)))
		}
	}
}

func audioLevel(pkt *rtp.Packet) (float64, bool) {
	for _, id := range pkt.Header.GetExtensionIDs() {
		var ext rtp.AudioLevelExtension
		if err := ext.Unmarshal(pkt.Header.GetExtension(id)); err != nil {
			continue
		}
		// Level is -dBov in [0,127]; 127 is silence.
		return 1 - float64(ext.Level)/127, true
	}
	return 0, false
}

func (l *pionLink) Offer(ctx context.Context) (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("voice create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("voice set local offer: %w", err)
	}
	return offer.SDP, nil
}

func (l *pionLink) HandleOffer(ctx context.Context, sdp string) (string, error) {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", fmt.Errorf("voice set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("voice create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("voice set local answer: %w", err)
	}
	return answer.SDP, nil
}

func (l *pionLink) HandleAnswer(ctx context.Context, sdp string) error {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("voice set remote answer: %w", err)
	}
	return nil
}

func (l *pionLink) AddRemoteCandidate(candidate string) error {
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (l *pionLink) ReplaceTrack(lt LocalTrack) error {
	pt, ok := lt.(*pionTrack)
	if !ok || l.sender == nil {
		return fmt.Errorf("voice replace track: no sender")
	}
	return l.sender.ReplaceTrack(pt.track)
}

func (l *pionLink) Close() error {
	err := l.pc.Close()
	l.fireClosed(nil)
	return err
}

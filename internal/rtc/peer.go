// Package rtc wraps the pion PeerConnection with the lifecycle both call
// roles share: trickle ICE out, idempotent candidate application in, and
// connected/closed callbacks for the session controller.
package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/domain"
)

// DefaultConfig uses two public STUN endpoints and no TURN fallback, so
// connectivity is bounded to NATs that allow direct or reflexive paths.
func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
	}
}

// ConfigWithServers builds a configuration from explicit STUN URLs.
func ConfigWithServers(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultConfig()
	}
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// PeerConnection owns one pion peer connection for one call session.
type PeerConnection struct {
	pc     *webrtc.PeerConnection
	sid    domain.SessionID
	cancel context.CancelFunc

	mu     sync.Mutex
	cands  *candidateBuffer
	closed bool

	onICE       func(domain.ICECandidate)
	onConnected func()
	onClosed    func()
	onTrack     func(ctx context.Context, track *webrtc.TrackRemote)
}

func NewPeerConnection(cfg webrtc.Configuration, sid domain.SessionID) (*PeerConnection, error) {
	return NewPeerConnectionWithAPI(webrtc.NewAPI(), cfg, sid)
}

// NewPeerConnectionWithAPI builds the connection from a caller-provided API,
// needed when the media engine must carry the capture pipeline's codecs.
func NewPeerConnectionWithAPI(api *webrtc.API, cfg webrtc.Configuration, sid domain.SessionID) (*PeerConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &PeerConnection{pc: pc, sid: sid, cands: newCandidateBuffer()}, nil
}

// Start configures internal callbacks and binds the connection lifetime to ctx.
func (c *PeerConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.onConnected != nil {
				c.onConnected()
			}
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			cancel()
			if c.onClosed != nil {
				c.onClosed()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(fromICEInit(cand.ToJSON()))
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(ctx, track)
		}
	})

	return nil
}

// CreateAndSetOffer builds the initiator's local description. Candidates are
// not waited for: they trickle out through OnLocalCandidate as gathered.
func (c *PeerConnection) CreateAndSetOffer() (*domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return fromSessionDescription(offer), nil
}

// ApplyOfferAndCreateAnswer is the responder path: remote offer in, local
// answer out. Releases any candidates buffered before the offer arrived.
func (c *PeerConnection) ApplyOfferAndCreateAnswer(offer domain.SessionDescription) (*domain.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(toSessionDescription(offer, webrtc.SDPTypeOffer)); err != nil {
		return nil, err
	}
	if err := c.flushCandidates(); err != nil {
		return nil, err
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return fromSessionDescription(answer), nil
}

// ApplyAnswer completes the initiator's negotiation and releases buffered
// candidates.
func (c *PeerConnection) ApplyAnswer(answer domain.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(toSessionDescription(answer, webrtc.SDPTypeAnswer)); err != nil {
		return err
	}
	return c.flushCandidates()
}

// HasRemoteDescription reports whether an offer or answer has been applied.
func (c *PeerConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

// AddRemoteCandidate applies one remote candidate. Duplicates are skipped
// and candidates arriving before the remote description are buffered, so
// re-observing the whole relay list on every snapshot is harmless.
func (c *PeerConnection) AddRemoteCandidate(cand domain.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.cands.Add(cand, c.applyCandidate)
}

func (c *PeerConnection) flushCandidates() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cands.Flush(c.applyCandidate)
}

func (c *PeerConnection) applyCandidate(cand domain.ICECandidate) error {
	return c.pc.AddICECandidate(toICEInit(cand))
}

// AddLocalTrack attaches a local media track to the connection. Must happen
// before the offer/answer is created; there is no renegotiation path.
func (c *PeerConnection) AddLocalTrack(track webrtc.TrackLocal) error {
	_, err := c.pc.AddTrack(track)
	return err
}

// OnLocalCandidate sets the callback for newly gathered local candidates.
func (c *PeerConnection) OnLocalCandidate(fn func(domain.ICECandidate)) { c.onICE = fn }

// OnConnected sets the callback fired when the transport reports connected.
func (c *PeerConnection) OnConnected(fn func()) { c.onConnected = fn }

// OnClosed sets the callback fired on transport failure or close.
func (c *PeerConnection) OnClosed(fn func()) { c.onClosed = fn }

// OnRemoteTrack sets the callback invoked when remote media arrives.
func (c *PeerConnection) OnRemoteTrack(fn func(ctx context.Context, track *webrtc.TrackRemote)) {
	c.onTrack = fn
}

// Close tears the connection down. Safe to call more than once.
func (c *PeerConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("sid", string(c.sid)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("sid", string(c.sid)).Msg("closed")
	}
}

// IsClosed reports whether Close has run.
func (c *PeerConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func toSessionDescription(sdp domain.SessionDescription, fallback webrtc.SDPType) webrtc.SessionDescription {
	t := webrtc.NewSDPType(sdp.Type)
	if t == webrtc.SDPTypeUnknown {
		t = fallback
	}
	return webrtc.SessionDescription{Type: t, SDP: sdp.SDP}
}

func fromSessionDescription(sdp webrtc.SessionDescription) *domain.SessionDescription {
	return &domain.SessionDescription{Type: sdp.Type.String(), SDP: sdp.SDP}
}

func toICEInit(cand domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	}
}

func fromICEInit(ci webrtc.ICECandidateInit) domain.ICECandidate {
	return domain.ICECandidate{
		Candidate:        ci.Candidate,
		SDPMid:           ci.SDPMid,
		SDPMLineIndex:    ci.SDPMLineIndex,
		UsernameFragment: ci.UsernameFragment,
	}
}

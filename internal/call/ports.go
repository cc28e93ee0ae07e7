package call

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/telecare/internal/domain"
	"github.com/dkeye/telecare/internal/media"
)

// Relay is the narrow store surface the controller needs. The sqlite store
// satisfies it in-process; the relay client satisfies it over HTTP.
type Relay interface {
	Create(ctx context.Context, userID domain.UserID) (domain.CallSession, error)
	Get(ctx context.Context, id domain.SessionID) (domain.CallSession, error)
	SetOffer(ctx context.Context, id domain.SessionID, offer domain.SessionDescription) error
	SetAnswer(ctx context.Context, id domain.SessionID, answer domain.SessionDescription) error
	AppendCandidate(ctx context.Context, id domain.SessionID, cand domain.ICECandidate) error
	Complete(ctx context.Context, id domain.SessionID) error
}

// Feed delivers full-row snapshots for one session id. The returned cancel
// must run on every exit path.
type Feed interface {
	Subscribe(ctx context.Context, id domain.SessionID) (<-chan domain.CallSession, func(), error)
}

// MediaSource acquires the local camera+microphone stream.
type MediaSource interface {
	Capture(ctx context.Context) (*media.Stream, error)
}

// Peer is the connection lifecycle surface, satisfied by rtc.PeerConnection.
type Peer interface {
	Start(ctx context.Context) error
	CreateAndSetOffer() (*domain.SessionDescription, error)
	ApplyOfferAndCreateAnswer(offer domain.SessionDescription) (*domain.SessionDescription, error)
	ApplyAnswer(answer domain.SessionDescription) error
	AddRemoteCandidate(cand domain.ICECandidate) error
	AddLocalTrack(track webrtc.TrackLocal) error
	OnLocalCandidate(func(domain.ICECandidate))
	OnConnected(func())
	OnClosed(func())
	OnRemoteTrack(func(ctx context.Context, track *webrtc.TrackRemote))
	HasRemoteDescription() bool
	Close()
}

// PeerFactory builds the peer connection for a session once media is up.
type PeerFactory func(sid domain.SessionID) (Peer, error)

// RoomService requests a managed provider room, the hosted alternative to
// peer-to-peer negotiation.
type RoomService interface {
	CreateRoom(ctx context.Context) (joinURL string, session domain.CallSession, err error)
}

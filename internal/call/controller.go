// Package call drives one call session end to end: local media, the peer
// connection, and the relay exchange of SDP and ICE candidates. One
// controller per session, parameterized by role (initiator/responder) and
// mode (peer-to-peer/hosted), replacing per-role ad hoc wiring.
package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/domain"
	"github.com/dkeye/telecare/internal/media"
)

var (
	ErrWrongRole  = errors.New("operation not available for this role")
	ErrNotIdle    = errors.New("call already in progress")
	ErrCallClosed = errors.New("call closed")
	ErrNoStream   = errors.New("no local media stream")
)

// Notifier surfaces user-facing conditions. Every error lands here exactly
// once; nothing is retried automatically.
type Notifier func(level, msg string)

// Config wires a controller. Relay, Feed, Media and NewPeer are required
// for peer-to-peer mode; Rooms only for hosted mode.
type Config struct {
	Role    domain.Role
	Mode    domain.CallMode
	UserID  domain.UserID
	Relay   Relay
	Feed    Feed
	Media   MediaSource
	NewPeer PeerFactory
	Rooms   RoomService

	// RemoteSink receives remote media payloads once connected. Optional.
	RemoteSink io.Writer

	Notify Notifier
}

// Controller owns every live resource of one call: the local stream, the
// peer connection and the feed subscription are explicit fields, and
// teardown releases all of them on every exit path.
type Controller struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	session     domain.CallSession
	haveSession bool
	stream      *media.Stream
	peer        Peer
	unsubscribe func()
	cancel      context.CancelFunc
	sinks       []*media.RemoteSink
	remoteMuted bool
}

func NewController(cfg Config) *Controller {
	if cfg.Notify == nil {
		cfg.Notify = func(string, string) {}
	}
	return &Controller{
		cfg: cfg,
		logger: log.With().
			Str("module", "call").
			Str("role", string(cfg.Role)).
			Logger(),
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the relay row this call is bound to.
func (c *Controller) Session() (domain.CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.haveSession
}

// Start runs the initiator path: capture media, create the relay row,
// publish an offer and wait for the responder through the change feed.
// A media failure leaves the controller idle with no relay row mutated.
func (c *Controller) Start(ctx context.Context) error {
	if c.cfg.Role != domain.RoleInitiator {
		return ErrWrongRole
	}
	if c.cfg.Mode == domain.ModeHostedRoom {
		_, err := c.StartHosted(ctx)
		return err
	}
	if err := c.requireIdle(); err != nil {
		return err
	}

	// Media first: if the devices are unavailable nothing may touch the
	// relay store and the state must stay idle.
	stream, err := c.acquireMedia(ctx)
	if err != nil {
		return err
	}

	sess, err := c.cfg.Relay.Create(ctx, c.cfg.UserID)
	if err != nil {
		stream.Close()
		c.cfg.Notify("error", "Could not create the call session.")
		return fmt.Errorf("create session: %w", err)
	}
	c.logger.Info().Str("session", string(sess.ID)).Str("room", string(sess.RoomID)).Msg("session created")

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.session = sess
	c.haveSession = true
	c.stream = stream
	c.cancel = cancel
	c.state = StateNegotiating
	c.mu.Unlock()

	peer, err := c.setupPeer(ctx, sess.ID, stream)
	if err != nil {
		c.abort(ctx, err, "Could not set up the call.")
		return err
	}

	offer, err := peer.CreateAndSetOffer()
	if err != nil {
		c.abort(ctx, err, "Could not create the call offer.")
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.cfg.Relay.SetOffer(ctx, sess.ID, *offer); err != nil {
		c.abort(ctx, err, "Could not publish the call offer.")
		return fmt.Errorf("publish offer: %w", err)
	}

	if err := c.subscribe(ctx, sess.ID); err != nil {
		c.abort(ctx, err, "Could not subscribe to call updates.")
		return err
	}

	c.cfg.Notify("info", "Waiting for the doctor to join...")
	return nil
}

// Join runs the responder path against an existing session. A session whose
// offer has not arrived yet is a no-op: the caller is told to wait and no
// peer connection is created.
func (c *Controller) Join(ctx context.Context, id domain.SessionID) error {
	if c.cfg.Role != domain.RoleResponder {
		return ErrWrongRole
	}
	if err := c.requireIdle(); err != nil {
		return err
	}

	sess, err := c.cfg.Relay.Get(ctx, id)
	if err != nil {
		c.cfg.Notify("error", "Could not load the call session.")
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Offer == nil {
		c.cfg.Notify("info", "Waiting for the patient to create an offer...")
		return domain.ErrOfferPending
	}

	stream, err := c.acquireMedia(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.session = sess
	c.haveSession = true
	c.stream = stream
	c.cancel = cancel
	c.state = StateNegotiating
	c.mu.Unlock()

	peer, err := c.setupPeer(ctx, sess.ID, stream)
	if err != nil {
		c.abort(ctx, err, "Could not set up the call.")
		return err
	}

	answer, err := peer.ApplyOfferAndCreateAnswer(*sess.Offer)
	if err != nil {
		c.abort(ctx, err, "Could not answer the call.")
		return fmt.Errorf("create answer: %w", err)
	}

	// Candidates persisted before we joined; application is idempotent.
	for _, cand := range sess.ICECandidates {
		if err := peer.AddRemoteCandidate(cand); err != nil {
			c.logger.Warn().Err(err).Str("session", string(sess.ID)).Msg("skipping stored candidate")
		}
	}

	if err := c.cfg.Relay.SetAnswer(ctx, sess.ID, *answer); err != nil {
		c.abort(ctx, err, "Could not publish the call answer.")
		return fmt.Errorf("publish answer: %w", err)
	}

	if err := c.subscribe(ctx, sess.ID); err != nil {
		c.abort(ctx, err, "Could not subscribe to call updates.")
		return err
	}

	c.cfg.Notify("info", "Joining the video call.")
	return nil
}

// StartHosted asks the room service for a managed provider room instead of
// negotiating peer-to-peer, and returns the joinable URL.
func (c *Controller) StartHosted(ctx context.Context) (string, error) {
	if c.cfg.Rooms == nil {
		return "", errors.New("no room service configured")
	}
	if err := c.requireIdle(); err != nil {
		return "", err
	}

	url, sess, err := c.cfg.Rooms.CreateRoom(ctx)
	if err != nil {
		c.cfg.Notify("error", "Could not create the video room.")
		return "", fmt.Errorf("create room: %w", err)
	}

	c.mu.Lock()
	c.session = sess
	c.haveSession = true
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info().Str("session", string(sess.ID)).Str("room", string(sess.RoomID)).Msg("hosted room ready")
	c.cfg.Notify("info", "Video room ready.")
	return url, nil
}

// HangUp ends the call: the relay row is completed and every local resource
// is released. Safe to call on any state, any number of times.
func (c *Controller) HangUp(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	sess, have := c.session, c.haveSession
	c.mu.Unlock()

	if have {
		if err := c.cfg.Relay.Complete(ctx, sess.ID); err != nil {
			c.logger.Error().Err(err).Str("session", string(sess.ID)).Msg("complete session")
		}
	}
	c.teardown()
	c.cfg.Notify("info", "Call ended.")
	return nil
}

// ToggleAudio flips the microphone; returns the new muted state.
func (c *Controller) ToggleAudio() (bool, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return false, ErrNoStream
	}
	return stream.ToggleAudio(), nil
}

// ToggleVideo flips the camera; returns the new disabled state.
func (c *Controller) ToggleVideo() (bool, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return false, ErrNoStream
	}
	return stream.ToggleVideo(), nil
}

// SelfView exposes the local preview source once media is captured. Nil
// when capture produced no video.
func (c *Controller) SelfView() (media.SelfView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, ErrNoStream
	}
	return c.stream.SelfView(), nil
}

// SetRemoteMuted pauses or resumes forwarding of remote media to the sink.
// Applies to every bound remote track, current and future.
func (c *Controller) SetRemoteMuted(muted bool) {
	c.mu.Lock()
	c.remoteMuted = muted
	sinks := make([]*media.RemoteSink, len(c.sinks))
	copy(sinks, c.sinks)
	c.mu.Unlock()

	for _, sink := range sinks {
		if muted {
			sink.Mute()
		} else {
			sink.Unmute()
		}
	}
}

func (c *Controller) requireIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		return nil
	case StateClosed:
		return ErrCallClosed
	default:
		return ErrNotIdle
	}
}

func (c *Controller) acquireMedia(ctx context.Context) (*media.Stream, error) {
	stream, err := c.cfg.Media.Capture(ctx)
	if err == nil {
		return stream, nil
	}

	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		c.cfg.Notify("error", "Camera/microphone permission denied. Please allow access.")
	case errors.Is(err, media.ErrDeviceNotFound):
		c.cfg.Notify("error", "Camera or microphone not found.")
	case errors.Is(err, media.ErrDeviceBusy):
		c.cfg.Notify("error", "Camera or microphone already in use.")
	default:
		c.cfg.Notify("error", "Could not access camera/microphone.")
	}
	return nil, fmt.Errorf("capture media: %w", err)
}

func (c *Controller) setupPeer(ctx context.Context, id domain.SessionID, stream *media.Stream) (Peer, error) {
	peer, err := c.cfg.NewPeer(id)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()

	peer.OnLocalCandidate(func(cand domain.ICECandidate) {
		// Trickle ICE: persist as soon as gathered. No retry on failure,
		// a dropped candidate degrades connectivity, not correctness.
		if err := c.cfg.Relay.AppendCandidate(ctx, id, cand); err != nil {
			c.logger.Warn().Err(err).Str("session", string(id)).Msg("publish candidate")
		}
	})
	peer.OnConnected(func() { c.onTransportConnected() })
	peer.OnClosed(func() { c.onTransportClosed(ctx) })
	peer.OnRemoteTrack(func(trackCtx context.Context, track *webrtc.TrackRemote) {
		c.bindRemoteTrack(trackCtx, track)
	})

	if err := peer.Start(ctx); err != nil {
		return nil, fmt.Errorf("start peer connection: %w", err)
	}
	for _, track := range stream.Tracks() {
		if err := peer.AddLocalTrack(track); err != nil {
			return nil, fmt.Errorf("add local track: %w", err)
		}
	}
	return peer, nil
}

func (c *Controller) subscribe(ctx context.Context, id domain.SessionID) error {
	updates, cancel, err := c.cfg.Feed.Subscribe(ctx, id)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	c.unsubscribe = cancel
	c.mu.Unlock()

	go c.watch(ctx, updates)
	return nil
}

// watch consumes row snapshots. Deliveries may repeat or arrive late; every
// handler below tolerates both.
func (c *Controller) watch(ctx context.Context, updates <-chan domain.CallSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-updates:
			if !ok {
				return
			}
			c.handleUpdate(ctx, sess)
		}
	}
}

func (c *Controller) handleUpdate(ctx context.Context, sess domain.CallSession) {
	c.mu.Lock()
	state := c.state
	peer := c.peer
	role := c.cfg.Role
	c.mu.Unlock()

	if state == StateClosed || state == StateIdle || peer == nil {
		return
	}

	// The other side hung up or the session was completed elsewhere.
	if sess.Status == domain.StatusCompleted {
		c.logger.Info().Str("session", string(sess.ID)).Msg("session completed remotely")
		c.teardown()
		c.cfg.Notify("info", "Call ended.")
		return
	}

	if role == domain.RoleInitiator && sess.Answer != nil && !peer.HasRemoteDescription() {
		c.logger.Info().Str("session", string(sess.ID)).Msg("answer received")
		if err := peer.ApplyAnswer(*sess.Answer); err != nil {
			c.abort(ctx, err, "Could not apply the call answer.")
			return
		}
	}

	// Full list on every snapshot; duplicates are skipped by the peer.
	for _, cand := range sess.ICECandidates {
		if err := peer.AddRemoteCandidate(cand); err != nil {
			c.logger.Warn().Err(err).Str("session", string(sess.ID)).Msg("skipping candidate")
		}
	}
}

func (c *Controller) onTransportConnected() {
	c.mu.Lock()
	if c.state != StateNegotiating {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	sess := c.session
	c.mu.Unlock()

	c.logger.Info().Str("session", string(sess.ID)).Msg("peers connected")
	c.cfg.Notify("info", "Connected to peer.")
}

func (c *Controller) onTransportClosed(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Transport failure is fatal for the call: same cleanup as an explicit
	// hangup, no reconnection attempt.
	c.cfg.Notify("error", "Connection lost.")
	_ = c.HangUp(ctx)
}

func (c *Controller) bindRemoteTrack(ctx context.Context, track *webrtc.TrackRemote) {
	if c.cfg.RemoteSink == nil {
		return
	}
	sink := media.NewRemoteSink(c.cfg.RemoteSink)

	c.mu.Lock()
	c.sinks = append(c.sinks, sink)
	if c.remoteMuted {
		sink.Mute()
	}
	c.mu.Unlock()

	sink.Bind(ctx, track, c.logger)
}

// abort is the error path out of negotiation: notify, complete the row if
// one was created, release everything.
func (c *Controller) abort(ctx context.Context, err error, msg string) {
	c.logger.Error().Err(err).Msg("call setup failed")
	c.cfg.Notify("error", msg)

	c.mu.Lock()
	sess, have := c.session, c.haveSession
	c.mu.Unlock()
	if have {
		if cerr := c.cfg.Relay.Complete(ctx, sess.ID); cerr != nil {
			c.logger.Error().Err(cerr).Str("session", string(sess.ID)).Msg("complete session")
		}
	}
	c.teardown()
}

// teardown releases the stream, the peer connection and the subscription.
// Idempotent; every exit path funnels through here.
func (c *Controller) teardown() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	stream := c.stream
	peer := c.peer
	unsubscribe := c.unsubscribe
	cancel := c.cancel
	sinks := c.sinks
	c.sinks = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	for _, sink := range sinks {
		sink.Close()
	}
	if stream != nil {
		stream.Close()
	}
	if peer != nil {
		peer.Close()
	}
	c.logger.Info().Msg("call torn down")
}

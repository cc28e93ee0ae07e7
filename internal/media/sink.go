package media

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateClosed
)

// RemoteSink binds a remote track to a local writer: the read loop pulls RTP
// from the track and forwards the payloads until the track ends or the call
// context is cancelled. Muting drops payloads without stopping the loop.
type RemoteSink struct {
	w     io.Writer
	state atomic.Int32 // zero value is SinkStateOk
}

func NewRemoteSink(w io.Writer) *RemoteSink {
	return &RemoteSink{w: w}
}

// Bind starts the forwarding loop for one remote track. Returns once the
// goroutine is launched; the loop itself runs until ctx is done or the track
// read fails.
func (s *RemoteSink) Bind(ctx context.Context, track *webrtc.TrackRemote, logger zerolog.Logger) {
	logger = logger.With().
		Str("module", "media.sink").
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Logger()

	go s.loop(ctx, track, &logger)
}

func (s *RemoteSink) loop(ctx context.Context, track *webrtc.TrackRemote, logger *zerolog.Logger) {
	logger.Info().Msg("sink loop started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sink ctx done")
			s.state.Store(int32(SinkStateClosed))
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("sink read RTP ended")
			s.state.Store(int32(SinkStateClosed))
			return
		}
		if err := s.forward(pkt); err != nil {
			logger.Error().Err(err).Msg("sink write error, stopping")
			s.state.Store(int32(SinkStateClosed))
			return
		}
	}
}

func (s *RemoteSink) forward(pkt *rtp.Packet) error {
	switch s.State() {
	case SinkStateMuted, SinkStateClosed:
		return nil
	}
	_, err := s.w.Write(pkt.Payload)
	return err
}

func (s *RemoteSink) State() SinkState {
	return SinkState(s.state.Load())
}

// Mute drops forwarded payloads without tearing the loop down.
func (s *RemoteSink) Mute() {
	s.state.CompareAndSwap(int32(SinkStateOk), int32(SinkStateMuted))
}

// Unmute resumes forwarding.
func (s *RemoteSink) Unmute() {
	s.state.CompareAndSwap(int32(SinkStateMuted), int32(SinkStateOk))
}

// Close stops forwarding permanently. The loop exits on its next iteration.
func (s *RemoteSink) Close() {
	s.state.Store(int32(SinkStateClosed))
}

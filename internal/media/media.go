// Package media owns the local capture stream and the remote media sink.
// Mute and camera-off are local flag flips on the stream, never SDP
// renegotiation.
package media

import (
	"errors"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Capture failure taxonomy. Each maps to a distinct user-facing message and
// aborts call setup without touching the relay row.
var (
	ErrPermissionDenied = errors.New("camera/microphone permission denied")
	ErrDeviceNotFound   = errors.New("camera or microphone not found")
	ErrDeviceBusy       = errors.New("camera or microphone already in use")
)

// Classify folds a raw driver error into the taxonomy. Unknown errors pass
// through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "not allowed") || strings.Contains(msg, "operation not permitted"):
		return ErrPermissionDenied
	case strings.Contains(msg, "no such") || strings.Contains(msg, "not found") || strings.Contains(msg, "failed to find"):
		return ErrDeviceNotFound
	case strings.Contains(msg, "device or resource busy") || strings.Contains(msg, "in use"):
		return ErrDeviceBusy
	default:
		return err
	}
}

// LocalTrack is the surface a captured track exposes to the peer connection.
type LocalTrack interface {
	webrtc.TrackLocal
	Close() error
}

// SelfView yields encoded frames of the local camera for self-preview.
// ReadFrame blocks until the next frame; Close when the stream ends.
type SelfView interface {
	ReadFrame() (data []byte, release func(), err error)
	Close() error
}

// Stream is the live local media stream: at most one video and one audio
// track, each independently toggleable. Owned by exactly one call session.
type Stream struct {
	mu       sync.Mutex
	video    LocalTrack
	audio    LocalTrack
	audioOn  bool
	videoOn  bool
	selfView SelfView
	closed   bool

	gatedVideo *gatedTrack
	gatedAudio *gatedTrack
}

// NewStream assembles a stream from captured tracks. Either track and the
// self view may be nil.
func NewStream(video, audio LocalTrack, selfView SelfView) *Stream {
	s := &Stream{
		video:    video,
		audio:    audio,
		selfView: selfView,
		audioOn:  audio != nil,
		videoOn:  video != nil,
	}
	if video != nil {
		s.gatedVideo = newGatedTrack(video, s.VideoEnabled)
	}
	if audio != nil {
		s.gatedAudio = newGatedTrack(audio, s.AudioEnabled)
	}
	return s
}

// Tracks lists the live tracks for attachment to a peer connection. The
// returned tracks gate their outbound packets on the toggle flags.
func (s *Stream) Tracks() []LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracks := make([]LocalTrack, 0, 2)
	if s.gatedVideo != nil {
		tracks = append(tracks, s.gatedVideo)
	}
	if s.gatedAudio != nil {
		tracks = append(tracks, s.gatedAudio)
	}
	return tracks
}

// SelfView returns the local preview source, nil when capture had no video.
func (s *Stream) SelfView() SelfView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfView
}

// ToggleAudio flips the microphone. Returns the new muted state.
func (s *Stream) ToggleAudio() bool {
	s.mu.Lock()
	s.audioOn = !s.audioOn
	muted := !s.audioOn
	s.mu.Unlock()
	log.Info().Str("module", "media").Bool("muted", muted).Msg("audio toggled")
	return muted
}

// ToggleVideo flips the camera. Returns the new disabled state.
func (s *Stream) ToggleVideo() bool {
	s.mu.Lock()
	s.videoOn = !s.videoOn
	disabled := !s.videoOn
	s.mu.Unlock()
	log.Info().Str("module", "media").Bool("disabled", disabled).Msg("video toggled")
	return disabled
}

// AudioEnabled reports whether the microphone is live.
func (s *Stream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

// VideoEnabled reports whether the camera is live.
func (s *Stream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

// Close stops all tracks and the self view. Idempotent; runs on every call
// exit path.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	video, audio, selfView := s.video, s.audio, s.selfView
	s.mu.Unlock()

	if selfView != nil {
		if err := selfView.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("self view close")
		}
	}
	for _, t := range []LocalTrack{video, audio} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("track close")
		}
	}
	log.Info().Str("module", "media").Msg("local stream closed")
}

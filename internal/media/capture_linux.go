//go:build linux

package media

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	idealWidth  = 1280
	idealHeight = 720
)

// vp8SelfView wraps a mediadevices VP8 reader as a SelfView; the encoder
// runs in parallel to the one feeding the peer connection.
type vp8SelfView struct{ r mediadevices.EncodedReadCloser }

func (s *vp8SelfView) ReadFrame() ([]byte, func(), error) {
	buf, rel, err := s.r.Read()
	if err != nil {
		return nil, nil, err
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	return data, rel, nil
}

func (s *vp8SelfView) Close() error { return s.r.Close() }

// API builds a webrtc API whose media engine carries the VP8+Opus codecs the
// capture pipeline encodes to. Peer connections for captured streams must be
// created through it.
func API() (*webrtc.API, error) {
	selector, err := codecSelector()
	if err != nil {
		return nil, err
	}

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// Capture opens camera and microphone at an ideal 1280x720 and returns the
// live stream. Failures come back classified (permission, missing device,
// busy device, other) so the caller can show a specific notification.
func Capture() (*Stream, error) {
	selector, err := codecSelector()
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Codec: selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.IntRanged{Ideal: idealWidth}
			c.Height = prop.IntRanged{Ideal: idealHeight}
		},
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, Classify(err)
	}

	var video, audio LocalTrack
	var selfView SelfView
	for _, track := range ms.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", track.ID()).Msg("local track ended")
			}
		})
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			video = track
			if r, err := track.NewEncodedReader(webrtc.MimeTypeVP8); err == nil {
				selfView = &vp8SelfView{r: r}
			} else {
				log.Warn().Err(err).Str("module", "media").Msg("self view reader unavailable")
			}
		case webrtc.RTPCodecTypeAudio:
			audio = track
		}
	}

	log.Info().
		Str("module", "media").
		Bool("video", video != nil).
		Bool("audio", audio != nil).
		Msg("local media captured")
	return NewStream(video, audio, selfView), nil
}

func codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

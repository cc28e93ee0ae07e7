package media

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// gatedTrack wraps a captured track so the stream's toggles take effect on
// the wire: while the flag is off, outbound packets for this track are
// dropped at the write stream. The track stays bound and negotiated, so
// flipping the flag back needs no renegotiation.
type gatedTrack struct {
	inner   LocalTrack
	enabled func() bool
}

func newGatedTrack(inner LocalTrack, enabled func() bool) *gatedTrack {
	return &gatedTrack{inner: inner, enabled: enabled}
}

func (t *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return t.inner.Bind(gatedContext{
		TrackLocalContext: ctx,
		writer:            &gatedWriter{inner: ctx.WriteStream(), enabled: t.enabled},
	})
}

func (t *gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error { return t.inner.Unbind(ctx) }
func (t *gatedTrack) ID() string                                { return t.inner.ID() }
func (t *gatedTrack) RID() string                               { return t.inner.RID() }
func (t *gatedTrack) StreamID() string                          { return t.inner.StreamID() }
func (t *gatedTrack) Kind() webrtc.RTPCodecType                 { return t.inner.Kind() }
func (t *gatedTrack) Close() error                              { return t.inner.Close() }

// gatedContext substitutes the write stream the bound track encodes into.
type gatedContext struct {
	webrtc.TrackLocalContext
	writer *gatedWriter
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter { return c.writer }

type gatedWriter struct {
	inner   webrtc.TrackLocalWriter
	enabled func() bool
}

func (w *gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.enabled() {
		return len(payload), nil
	}
	return w.inner.WriteRTP(header, payload)
}

func (w *gatedWriter) Write(b []byte) (int, error) {
	if !w.enabled() {
		return len(b), nil
	}
	return w.inner.Write(b)
}

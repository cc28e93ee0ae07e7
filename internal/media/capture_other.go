//go:build !linux

package media

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Capture is only wired to real drivers on Linux (V4L2 + malgo).
func Capture() (*Stream, error) {
	return nil, fmt.Errorf("local media capture unsupported on this platform: %w", ErrDeviceNotFound)
}

// API falls back to the default webrtc API on platforms without capture.
func API() (*webrtc.API, error) {
	return webrtc.NewAPI(), nil
}

// Package capture owns the camera attached to the kiosk and yields decoded frames.
package capture

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrDeviceUnavailable is returned by Open when the camera cannot be acquired.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrReadFailure marks a transient per-frame failure; the caller skips the frame.
	ErrReadFailure = errors.New("frame read failure")
	// ErrEndOfStream is returned by Next once the device stopped producing frames cleanly.
	ErrEndOfStream = errors.New("end of stream")
)

// Frame is one decoded camera frame.
type Frame struct {
	Seq        uint64
	Image      image.Image
	JPEG       []byte // encoded bytes as produced by the device
	CapturedAt time.Time
}

// Source is the contract the session orchestrator drives.
//
// Close must be safe to call multiple times and after a failed Open.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (Frame, error)
	Close() error
}

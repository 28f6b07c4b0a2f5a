package scanner

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrNoFrame is returned by FrameSource.Next when no new frame is ready yet.
	ErrNoFrame = errors.New("no frame ready")

	// ErrCameraUnavailable wraps acquisition failures: permission denied, no device.
	ErrCameraUnavailable = errors.New("camera unavailable")
)

// Frame is a single captured image with capture metadata.
type Frame struct {
	// Seq is the monotonic sequence number within one acquisition.
	Seq uint64
	// Timestamp is when the frame was captured.
	Timestamp time.Time
	// Image holds the pixels.
	Image image.Image
	// Source identifies the device or directory that produced the frame.
	Source string
}

// FrameSource abstracts a live capture device.
//
// Implementations must guarantee:
//   - Acquire either takes exclusive ownership of the device or fails; a
//     failure leaves nothing to release.
//   - Next never blocks; it returns ErrNoFrame when nothing new is ready.
//   - Release is idempotent. A released source is not restarted by Next;
//     a new Acquire is required.
type FrameSource interface {
	Acquire(ctx context.Context) error
	Next() (Frame, error)
	Release() error
}

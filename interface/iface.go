package iface

import (
	"image"

	"gocv.io/x/gocv"
)

// FrameSource yields fixed size BGR frames from a camera.
type FrameSource interface {
	Open(width, height int) error
	// Read fills dst with the next frame. Any failure means the camera is gone.
	Read(dst *gocv.Mat) error
	Close() error
}

// Segmenter refines a persistent trimap in place.
type Segmenter interface {
	Refine(frame gocv.Mat, roi image.Rectangle, mask *gocv.Mat, iterations int) error
}

// Compositor merges the sharp foreground with the blurred background. The
// returned Mat is owned by the compositor and reused on the next call.
type Compositor interface {
	Compose(frame gocv.Mat, mask gocv.Mat) (gocv.Mat, error)
	Close()
}

// FrameSink is the virtual camera side of the pipeline.
type FrameSink interface {
	Negotiate(width, height int, layout PixelLayout) (SinkFormat, error)
	WriteFrame(frame gocv.Mat) error
	Close() error
}

// Preview shows the composite locally and reports key presses.
type Preview interface {
	Show(frame gocv.Mat)
	// PollKey waits at most delayMs and returns the key code, or -1.
	PollKey(delayMs int) int
	Close() error
}

// PipelineStatus is a point-in-time view of the loop, safe to read from any goroutine.
type PipelineStatus struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Iterations uint64     `json:"iterations"`
	Emitted    uint64     `json:"emitted"`
	LastError  string     `json:"lastError,omitempty"`
	Format     SinkFormat `json:"format"`
	UptimeMs   int64      `json:"uptimeMs"`
}

// Controller is what the loop exposes to the control API.
type Controller interface {
	Status() PipelineStatus
	// RequestStop asks the loop to stop before its next capture.
	RequestStop()
}

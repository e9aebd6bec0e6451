// Package camerafeed provides the camera capability consumed by the arena:
// named consumers ("views") register a sink and receive every captured frame
// together with the bright-spot detections found in it, in camera pixels.
package camerafeed

import (
	"errors"
	"time"

	"github.com/banshee-data/projector.arena/internal/geom"
)

var (
	ErrViewExists  = errors.New("camera view already registered")
	ErrUnknownView = errors.New("camera view not registered")
	ErrFeedClosed  = errors.New("camera feed closed")
)

// Frame describes one captured image. Pixel data stays with the camera
// driver; consumers here only need its identity and geometry.
type Frame struct {
	Seq    uint64
	Time   time.Time
	Width  int
	Height int
}

// Sink receives frames. Deliver is called on the capture goroutine and must
// not block or touch display state; implementations hand work to the UI loop.
type Sink interface {
	Deliver(frame Frame, detections []geom.Point)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame Frame, detections []geom.Point)

// Deliver calls f.
func (f SinkFunc) Deliver(frame Frame, detections []geom.Point) { f(frame, detections) }

// ViewOptions configures what a view receives.
type ViewOptions struct {
	// Crop limits delivered detections to a camera-space rectangle. Nil
	// delivers everything.
	Crop *geom.Rect
}

// ViewHandle identifies a registration.
type ViewHandle struct {
	Name   string
	ID     string
	Mirror bool
}

// Feed is the capability the arena consumes.
type Feed interface {
	// RegisterView adds a named consumer. mirror marks a view that renders
	// a mirrored display rather than the raw camera image.
	RegisterView(name string, sink Sink, mirror bool) (ViewHandle, error)
	// UnregisterView removes a consumer. Unknown names are ignored.
	UnregisterView(name string)
	// ConfigureView changes a registered view's options.
	ConfigureView(name string, opts ViewOptions) error
}

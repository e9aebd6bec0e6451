package camerafeed

import (
	"math/rand"
	"sync"

	"github.com/banshee-data/projector.arena/internal/geom"
)

// SyntheticCamera stands in for a camera driver in tests and the simulator:
// it maps display points into camera pixels with a fixed projection and
// optional Gaussian jitter, then publishes them as detections.
type SyntheticCamera struct {
	feed    *Mux
	project func(geom.Point) geom.Point
	width   int
	height  int

	mu    sync.Mutex
	noise float64
	rng   *rand.Rand
}

// NewSyntheticCamera creates a camera of the given resolution publishing to
// feed. project maps display coordinates to camera pixels.
func NewSyntheticCamera(feed *Mux, width, height int, project func(geom.Point) geom.Point, seed int64) *SyntheticCamera {
	return &SyntheticCamera{
		feed:    feed,
		project: project,
		width:   width,
		height:  height,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// SetNoise sets the standard deviation, in camera pixels, of detection jitter.
func (c *SyntheticCamera) SetNoise(sigma float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noise = sigma
}

// Observe returns where the camera sees each display point. Points that fall
// outside the sensor are omitted.
func (c *SyntheticCamera) Observe(display []geom.Point) []geom.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	sensor := geom.R(0, 0, float64(c.width), float64(c.height))
	out := make([]geom.Point, 0, len(display))
	for _, p := range display {
		q := c.project(p)
		if c.noise > 0 {
			q.X += c.rng.NormFloat64() * c.noise
			q.Y += c.rng.NormFloat64() * c.noise
		}
		if q.IsFinite() && sensor.Contains(q) {
			out = append(out, q)
		}
	}
	return out
}

// Capture publishes one frame containing detections for the display points.
func (c *SyntheticCamera) Capture(display []geom.Point) int {
	return c.feed.Publish(Frame{Width: c.width, Height: c.height}, c.Observe(display))
}

// CaptureRaw publishes one frame with detections already in camera pixels.
func (c *SyntheticCamera) CaptureRaw(detections []geom.Point) int {
	return c.feed.Publish(Frame{Width: c.width, Height: c.height}, detections)
}

package arena

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/projector.arena/internal/calibration"
	"github.com/banshee-data/projector.arena/internal/camerafeed"
	"github.com/banshee-data/projector.arena/internal/config"
	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/monitoring"
	"github.com/banshee-data/projector.arena/internal/uiloop"
)

// FeedPreference supplies the operator's shot feed behaviour.
type FeedPreference interface {
	CalibratedFeedBehavior() config.FeedBehavior
}

// shotTarget is what late callbacks dereference. Detach swaps in the
// detached sentinel so they find nothing to draw on.
type shotTarget struct {
	link *MirrorLink
}

var detached = &shotTarget{}

// ShotStats counts what happened to camera detections.
type ShotStats struct {
	Mapped       uint64 `json:"mapped"`
	OutOfBounds  uint64 `json:"out_of_bounds"`
	Uncalibrated uint64 `json:"uncalibrated"`
	Calibrating  uint64 `json:"calibrating"`
	Late         uint64 `json:"late"`
}

// ShotMapper is the arena's camera view sink. On the capture goroutine it
// maps detections through the published transform; the resulting markers
// are added through the link on the UI loop.
type ShotMapper struct {
	loop        uiloop.Submitter
	prefs       FeedPreference
	calibrating func() bool

	target    atomic.Pointer[shotTarget]
	transform atomic.Pointer[calibration.Transform]

	mapped       atomic.Uint64
	outOfBounds  atomic.Uint64
	uncalibrated atomic.Uint64
	skipped      atomic.Uint64
	late         atomic.Uint64
}

// NewShotMapper creates a mapper drawing on link. calibrating may be nil;
// while it reports true detections are ignored, since the calibration dots
// themselves are bright spots.
func NewShotMapper(link *MirrorLink, loop uiloop.Submitter, prefs FeedPreference, calibrating func() bool) *ShotMapper {
	m := &ShotMapper{loop: loop, prefs: prefs, calibrating: calibrating}
	m.target.Store(&shotTarget{link: link})
	return m
}

// SetTransform publishes the transform used for subsequent detections.
func (m *ShotMapper) SetTransform(t *calibration.Transform) {
	m.transform.Store(t)
}

// Transform returns the transform in use, or nil.
func (m *ShotMapper) Transform() *calibration.Transform {
	return m.transform.Load()
}

// Detach points the mapper at the detached sentinel. Detections delivered or
// queued afterwards are dropped.
func (m *ShotMapper) Detach() {
	m.target.Store(detached)
}

// Stats returns the detection counters.
func (m *ShotMapper) Stats() ShotStats {
	return ShotStats{
		Mapped:       m.mapped.Load(),
		OutOfBounds:  m.outOfBounds.Load(),
		Uncalibrated: m.uncalibrated.Load(),
		Calibrating:  m.skipped.Load(),
		Late:         m.late.Load(),
	}
}

// Deliver implements camerafeed.Sink.
func (m *ShotMapper) Deliver(frame camerafeed.Frame, detections []geom.Point) {
	if len(detections) == 0 {
		return
	}
	target := m.target.Load()
	if target == detached {
		m.late.Add(uint64(len(detections)))
		monitoring.Debugf("[arena] dropping %d detections from frame %d: arena closed", len(detections), frame.Seq)
		return
	}
	if m.calibrating != nil && m.calibrating() {
		m.skipped.Add(uint64(len(detections)))
		return
	}
	t := m.transform.Load()
	if t == nil {
		m.uncalibrated.Add(uint64(len(detections)))
		return
	}

	behavior := config.FeedBehaviorEverywhere
	if m.prefs != nil {
		behavior = m.prefs.CalibratedFeedBehavior()
	}
	bounds := target.link.Primary().Bounds()

	points := make([]geom.Point, 0, len(detections))
	for _, d := range detections {
		p := t.Forward(d)
		if !p.IsFinite() || (behavior != config.FeedBehaviorEverywhere && !bounds.Contains(p)) {
			m.outOfBounds.Add(1)
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return
	}

	at := frame.Time
	m.loop.Submit(func() { m.draw(points, at, frame.Seq) })
}

// draw runs on the UI loop. The arena may have closed since the frame was
// delivered; that is expected and only logged.
func (m *ShotMapper) draw(points []geom.Point, at time.Time, seq uint64) {
	target := m.target.Load()
	if target == detached {
		m.late.Add(uint64(len(points)))
		monitoring.Debugf("[arena] dropping %d shots from frame %d: arena closed", len(points), seq)
		return
	}
	for _, p := range points {
		if _, err := target.link.AddMarker(p, at, SourceCamera); err != nil {
			if errors.Is(err, ErrDetachedDisplay) {
				m.late.Add(1)
				monitoring.Debugf("[arena] shot at %v after unlink: %v", p, err)
				continue
			}
			monitoring.Logf("[arena] add shot marker: %v", err)
			continue
		}
		m.mapped.Add(1)
	}
}

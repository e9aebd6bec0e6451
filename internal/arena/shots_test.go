package arena

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/projector.arena/internal/calibration"
	"github.com/banshee-data/projector.arena/internal/camerafeed"
	"github.com/banshee-data/projector.arena/internal/config"
	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/testutil"
	"github.com/banshee-data/projector.arena/internal/uiloop"
)

type fixedBehavior config.FeedBehavior

func (b fixedBehavior) CalibratedFeedBehavior() config.FeedBehavior { return config.FeedBehavior(b) }

// cornerTransform sees the 800x600 display as the camera rectangle
// (10,10)-(500,400).
func cornerTransform(t *testing.T) *calibration.Transform {
	t.Helper()
	tr, err := calibration.Solve([]calibration.Sample{
		{Camera: geom.Pt(10, 10), Display: geom.Pt(0, 0)},
		{Camera: geom.Pt(500, 10), Display: geom.Pt(800, 0)},
		{Camera: geom.Pt(500, 400), Display: geom.Pt(800, 600)},
		{Camera: geom.Pt(10, 400), Display: geom.Pt(0, 600)},
	}, calibration.SolveOptions{})
	require.NoError(t, err)
	return tr
}

func frameAt(sec int64) camerafeed.Frame {
	return camerafeed.Frame{Seq: uint64(sec), Time: time.Unix(sec, 0)}
}

func TestShotMapper_MapsOnTheLoop(t *testing.T) {
	t.Parallel()
	l := newLink(t, RolePreview)
	loop := uiloop.New()
	m := NewShotMapper(l, loop, fixedBehavior(config.FeedBehaviorEverywhere), nil)
	m.SetTransform(cornerTransform(t))

	m.Deliver(frameAt(42), []geom.Point{{X: 255, Y: 205}})
	assert.Zero(t, l.Primary().MarkerCount(), "capture side must not touch displays")

	assert.Equal(t, 1, loop.Drain())
	requireInSync(t, l)
	snap := l.Primary().Snapshot()
	require.Len(t, snap.Markers, 1)
	testutil.AssertPointNear(t, snap.Markers[0].Position, geom.Pt(400, 300), 1e-6)
	assert.True(t, snap.Markers[0].Time.Equal(time.Unix(42, 0)))
	assert.Equal(t, SourceCamera, snap.Markers[0].Source)
	assert.Equal(t, uint64(1), m.Stats().Mapped)
}

func TestShotMapper_FeedBehavior(t *testing.T) {
	t.Parallel()
	// (600,450) in camera space maps outside the 800x600 display.
	detections := []geom.Point{{X: 255, Y: 205}, {X: 600, Y: 450}}

	tests := []struct {
		behavior config.FeedBehavior
		want     int
	}{
		{config.FeedBehaviorEverywhere, 2},
		{config.FeedBehaviorOnlyInBounds, 1},
		{config.FeedBehaviorCrop, 1},
	}
	for _, tt := range tests {
		t.Run(tt.behavior.String(), func(t *testing.T) {
			l := newLink(t, RolePreview)
			loop := uiloop.New()
			m := NewShotMapper(l, loop, fixedBehavior(tt.behavior), nil)
			m.SetTransform(cornerTransform(t))

			m.Deliver(frameAt(1), detections)
			loop.Drain()
			assert.Equal(t, tt.want, l.Primary().MarkerCount())
			assert.Equal(t, uint64(2-tt.want), m.Stats().OutOfBounds)
		})
	}
}

func TestShotMapper_IgnoresUntilCalibrated(t *testing.T) {
	t.Parallel()
	l := newLink(t, RolePreview)
	loop := uiloop.New()
	calibrating := true
	m := NewShotMapper(l, loop, nil, func() bool { return calibrating })

	m.Deliver(frameAt(1), []geom.Point{{X: 100, Y: 100}})
	assert.Equal(t, uint64(1), m.Stats().Calibrating)

	calibrating = false
	m.Deliver(frameAt(2), []geom.Point{{X: 100, Y: 100}})
	assert.Equal(t, uint64(1), m.Stats().Uncalibrated)

	m.Deliver(frameAt(3), nil)
	assert.Zero(t, loop.Pending())
}

func TestShotMapper_DetachedDropsLateShots(t *testing.T) {
	t.Parallel()
	l := newLink(t, RolePreview)
	loop := uiloop.New()
	m := NewShotMapper(l, loop, nil, nil)
	m.SetTransform(cornerTransform(t))

	// Queued before close, drawn after.
	m.Deliver(frameAt(1), []geom.Point{{X: 255, Y: 205}})
	m.Detach()
	l.Unlink()
	loop.Drain()

	// Delivered after close.
	m.Deliver(frameAt(2), []geom.Point{{X: 255, Y: 205}})
	loop.Drain()

	assert.Zero(t, l.Primary().MarkerCount())
	assert.Zero(t, l.Preview().MarkerCount())
	assert.Equal(t, uint64(2), m.Stats().Late)
}

func TestShotMapper_UnlinkedButAttached(t *testing.T) {
	t.Parallel()
	l := newLink(t, RolePreview)
	loop := uiloop.New()
	m := NewShotMapper(l, loop, nil, nil)
	m.SetTransform(cornerTransform(t))

	m.Deliver(frameAt(1), []geom.Point{{X: 255, Y: 205}})
	l.Unlink()
	assert.NotPanics(t, func() { loop.Drain() })
	assert.Equal(t, uint64(1), m.Stats().Late)
	assert.Zero(t, m.Stats().Mapped)
}

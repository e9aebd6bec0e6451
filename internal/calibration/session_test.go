package calibration

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/projector.arena/internal/camerafeed"
	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/testutil"
	"github.com/banshee-data/projector.arena/internal/timeutil"
	"github.com/banshee-data/projector.arena/internal/uiloop"
)

type fakeSurface struct {
	mu          sync.Mutex
	pattern     []geom.Point
	showMarkers bool
	calls       int
}

func (f *fakeSurface) LogicalSize() (float64, float64) { return 800, 600 }

func (f *fakeSurface) ShowCalibrationPattern(points []geom.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pattern = points
	f.calls++
	return nil
}

func (f *fakeSurface) SetShowMarkers(show bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.showMarkers = show
	f.calls++
	return nil
}

func (f *fakeSurface) state() ([]geom.Point, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pattern, f.showMarkers
}

type countingToggle struct{ n int }

func (c *countingToggle) ToggleCalibrating() { c.n++ }

type fakeRecorder struct {
	recs []Record
	err  error
}

func (r *fakeRecorder) RecordCalibration(rec Record) error {
	r.recs = append(r.recs, rec)
	return r.err
}

type prefs bool

func (p prefs) ShowArenaShotMarkers() bool { return bool(p) }

type harness struct {
	session  *Session
	surface  *fakeSurface
	toggle   *countingToggle
	recorder *fakeRecorder
	feed     *camerafeed.Mux
	loop     *uiloop.Loop
	publish  []*Transform
}

func newHarness(t *testing.T, mutate func(*SessionConfig)) *harness {
	t.Helper()
	h := &harness{
		surface:  &fakeSurface{showMarkers: true},
		toggle:   &countingToggle{},
		recorder: &fakeRecorder{},
		feed:     camerafeed.NewMux(),
		loop:     uiloop.New(),
	}
	cfg := SessionConfig{
		ArenaSessionID: "arena-1",
		Feed:           h.feed,
		Surface:        h.surface,
		Loop:           h.loop,
		Preferences:    prefs(true),
		Toggle:         h.toggle,
		Recorder:       h.recorder,
		Clock:          timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		OnPublish:      func(tr *Transform) { h.publish = append(h.publish, tr) },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.session = NewSession(cfg)
	return h
}

func (h *harness) submitAll(t *testing.T, samples []Sample) {
	t.Helper()
	for _, s := range samples {
		require.NoError(t, h.session.SubmitCorrespondence(s.Camera, s.Display))
	}
}

func TestSession_EnableShowsPatternAndHidesMarkers(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Enable())

	assert.Equal(t, StateCalibrating, h.session.State())
	assert.True(t, h.session.IsCalibrating())
	pattern, markers := h.surface.state()
	assert.Len(t, pattern, 12)
	assert.False(t, markers)
	assert.Equal(t, 1, h.toggle.n)

	views := h.feed.Views()
	require.Len(t, views, 1)
	assert.Equal(t, DefaultViewName, views[0].Name)
	assert.False(t, views[0].Mirror)
}

func TestSession_EnableWhileCalibratingRejected(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples()[:2])

	err := h.session.Enable()
	assert.ErrorIs(t, err, ErrAlreadyCalibrating)

	// The pass and its buffer are untouched.
	assert.Equal(t, StateCalibrating, h.session.State())
	assert.Len(t, h.session.Samples(), 2)
	assert.Equal(t, 1, h.toggle.n)
}

func TestSession_CornerScenario(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples())

	tr, err := h.session.Stop()
	require.NoError(t, err)
	require.NotNil(t, tr)
	testutil.AssertPointNear(t, tr.Forward(geom.Pt(255, 205)), geom.Pt(400, 300), 1e-6)

	assert.Equal(t, StateCalibrated, h.session.State())
	got, ok := h.session.Transform()
	require.True(t, ok)
	assert.Same(t, tr, got)

	pattern, markers := h.surface.state()
	assert.Nil(t, pattern)
	assert.True(t, markers)
	assert.Equal(t, 2, h.toggle.n)
	assert.Empty(t, h.feed.Views())

	require.Len(t, h.publish, 1)
	assert.Same(t, tr, h.publish[0])
	require.Len(t, h.recorder.recs, 1)
	assert.Equal(t, "arena-1", h.recorder.recs[0].ArenaSessionID)
	assert.Len(t, h.recorder.recs[0].Samples, 4)
}

func TestSession_RestoresMarkerPreference(t *testing.T) {
	h := newHarness(t, func(c *SessionConfig) { c.Preferences = prefs(false) })
	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples())
	_, err := h.session.Stop()
	require.NoError(t, err)

	_, markers := h.surface.state()
	assert.False(t, markers)
}

func TestSession_StopWithTooFewSamples(t *testing.T) {
	h := newHarness(t, nil)

	// A first pass publishes a transform.
	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples())
	first, err := h.session.Stop()
	require.NoError(t, err)

	// A second pass with too few samples publishes nothing and keeps it.
	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples()[:3])
	tr, err := h.session.Stop()
	assert.NoError(t, err)
	assert.Nil(t, tr)
	assert.Equal(t, StateStopped, h.session.State())

	kept, ok := h.session.Transform()
	require.True(t, ok)
	assert.Same(t, first, kept)
	assert.Len(t, h.publish, 1)
	assert.Equal(t, 4, h.toggle.n)
}

func TestSession_RecalibrateFromCalibrated(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples())
	first, err := h.session.Stop()
	require.NoError(t, err)
	require.Equal(t, StateCalibrated, h.session.State())

	require.NoError(t, h.session.Enable())
	assert.Equal(t, StateCalibrating, h.session.State())
	assert.Empty(t, h.session.Samples())
	kept, ok := h.session.Transform()
	require.True(t, ok)
	assert.Same(t, first, kept, "the earlier fit stays published during the new pass")

	h.submitAll(t, cornerSamples())
	second, err := h.session.Stop()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Len(t, h.publish, 2)
}

func TestSession_SolveFailureStaysCalibrating(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Enable())
	for i := 0; i < 4; i++ {
		v := float64(10 + 100*i)
		require.NoError(t, h.session.SubmitCorrespondence(geom.Pt(v, v), geom.Pt(2*v, 2*v)))
	}

	tr, err := h.session.Stop()
	assert.Nil(t, tr)
	assert.ErrorIs(t, err, ErrIllConditioned)
	assert.ErrorIs(t, h.session.LastError(), ErrIllConditioned)
	assert.Equal(t, StateCalibrating, h.session.State())
	assert.Empty(t, h.publish)
	assert.Equal(t, 1, h.toggle.n, "toggle keeps showing stop while the pass continues")

	// More samples rescue the pass.
	h.submitAll(t, cornerSamples())
	tr, err = h.session.Stop()
	require.NoError(t, err)
	assert.NotNil(t, tr)
	assert.NoError(t, h.session.LastError())
}

func TestSession_ContractViolations(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.session.SubmitCorrespondence(geom.Pt(1, 1), geom.Pt(2, 2)), ErrNotCalibrating)
	_, err := h.session.Stop()
	assert.ErrorIs(t, err, ErrNotCalibrating)
	assert.ErrorIs(t, h.session.Cancel(), ErrNotCalibrating)
}

func TestSession_CancelKeepsEarlierTransform(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples())
	first, err := h.session.Stop()
	require.NoError(t, err)

	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples())
	require.NoError(t, h.session.Cancel())

	assert.Equal(t, StateStopped, h.session.State())
	kept, _ := h.session.Transform()
	assert.Same(t, first, kept)
	assert.Empty(t, h.feed.Views())
}

func TestSession_ArenaClosingWithZeroSamples(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Enable())

	h.session.ArenaClosing()
	assert.Equal(t, StateStopped, h.session.State())
	_, ok := h.session.Transform()
	assert.False(t, ok)
	assert.NoError(t, h.session.LastError())

	pattern, markers := h.surface.state()
	assert.Nil(t, pattern)
	assert.True(t, markers)
	assert.Empty(t, h.feed.Views())
	assert.Equal(t, 2, h.toggle.n)

	calls := h.surface.calls
	h.session.ArenaClosing()
	assert.Equal(t, calls, h.surface.calls, "second ArenaClosing must not touch the surface")
	assert.Equal(t, 2, h.toggle.n)

	assert.ErrorIs(t, h.session.Enable(), ErrSessionClosed)
}

func TestSession_ArenaClosingFromIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.session.ArenaClosing()
	assert.Equal(t, StateStopped, h.session.State())
	assert.Zero(t, h.toggle.n)
}

func TestSession_CalibratesFromGridFrames(t *testing.T) {
	h := newHarness(t, nil)
	cam := camerafeed.NewSyntheticCamera(h.feed, 640, 480, tilted.Apply, 1)
	require.NoError(t, h.session.Enable())

	pattern, _ := h.surface.state()
	require.Len(t, pattern, 12)

	// Frames are matched on the capture side but only appended on the loop.
	assert.Equal(t, 1, cam.Capture(pattern))
	assert.Equal(t, 1, cam.Capture(pattern[:5]), "partial frames are ignored")
	assert.Empty(t, h.session.Samples())
	assert.Equal(t, 1, h.loop.Drain())
	assert.Len(t, h.session.Samples(), 12)

	cam.SetNoise(0.2)
	cam.Capture(pattern)
	h.loop.Drain()
	assert.Len(t, h.session.Samples(), 24)

	tr, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, 24, tr.SampleCount())
	assert.True(t, tr.Quality().UsableForScoring())
	for _, p := range pattern {
		testutil.AssertPointNear(t, tr.Forward(tilted.Apply(p)), p, 2)
	}
}

func TestSession_StaleFramesDropped(t *testing.T) {
	h := newHarness(t, nil)
	cam := camerafeed.NewSyntheticCamera(h.feed, 640, 480, tilted.Apply, 1)
	require.NoError(t, h.session.Enable())
	pattern, _ := h.surface.state()

	cam.Capture(pattern)
	require.NoError(t, h.session.Cancel())
	require.NoError(t, h.session.Enable())

	// The queued task belongs to the cancelled pass.
	h.loop.Drain()
	assert.Empty(t, h.session.Samples())

	h.session.OfferCorrespondence(geom.Pt(1, 2), geom.Pt(3, 4))
	h.session.ArenaClosing()
	h.loop.Drain()
	assert.Empty(t, h.session.Samples())
}

func TestSession_OfferWithoutLoopAppendsDirectly(t *testing.T) {
	h := newHarness(t, func(c *SessionConfig) { c.Loop = nil })
	require.NoError(t, h.session.Enable())
	h.session.OfferCorrespondence(geom.Pt(1, 2), geom.Pt(3, 4))
	assert.Equal(t, []Sample{{Camera: geom.Pt(1, 2), Display: geom.Pt(3, 4)}}, h.session.Samples())
}

func TestSession_EnableRollsBackOnFeedError(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.feed.RegisterView(DefaultViewName, camerafeed.SinkFunc(func(camerafeed.Frame, []geom.Point) {}), false)
	require.NoError(t, err)

	err = h.session.Enable()
	assert.ErrorIs(t, err, camerafeed.ErrViewExists)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Zero(t, h.toggle.n)
}

func TestSession_RecorderErrorNotSurfaced(t *testing.T) {
	h := newHarness(t, nil)
	h.recorder.err = errors.New("disk full")
	require.NoError(t, h.session.Enable())
	h.submitAll(t, cornerSamples())

	tr, err := h.session.Stop()
	require.NoError(t, err)
	assert.NotNil(t, tr)
	assert.Len(t, h.recorder.recs, 1)
}

func TestSession_EnableWithoutSurface(t *testing.T) {
	h := newHarness(t, func(c *SessionConfig) { c.Surface = nil })
	assert.Error(t, h.session.Enable())
	assert.Equal(t, StateIdle, h.session.State())
}

package camerafeed

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/monitoring"
	"github.com/banshee-data/projector.arena/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
	dets   [][]geom.Point
}

func (r *recordingSink) Deliver(f Frame, d []geom.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	r.dets = append(r.dets, d)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestMux_RegisterAndPublish(t *testing.T) {
	t.Parallel()
	m := NewMux()

	a, b := &recordingSink{}, &recordingSink{}
	ha, err := m.RegisterView("Arena", a, true)
	require.NoError(t, err)
	assert.Equal(t, "Arena", ha.Name)
	assert.True(t, ha.Mirror)
	assert.NotEmpty(t, ha.ID)

	_, err = m.RegisterView("raw", b, false)
	require.NoError(t, err)

	n := m.Publish(Frame{}, []geom.Point{{X: 1, Y: 2}})
	assert.Equal(t, 2, n)
	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())
	assert.Equal(t, uint64(1), a.frames[0].Seq)
	assert.False(t, a.frames[0].Time.IsZero())
	assert.Equal(t, []geom.Point{{X: 1, Y: 2}}, a.dets[0])

	frames, delivered := m.Stats()
	assert.Equal(t, uint64(1), frames)
	assert.Equal(t, uint64(2), delivered)
}

func TestMux_RegisterErrors(t *testing.T) {
	t.Parallel()
	m := NewMux()
	sink := &recordingSink{}

	_, err := m.RegisterView("", sink, false)
	assert.Error(t, err)
	_, err = m.RegisterView("x", nil, false)
	assert.Error(t, err)

	_, err = m.RegisterView("x", sink, false)
	require.NoError(t, err)
	_, err = m.RegisterView("x", sink, false)
	assert.ErrorIs(t, err, ErrViewExists)

	m.Close()
	_, err = m.RegisterView("y", sink, false)
	assert.ErrorIs(t, err, ErrFeedClosed)
	assert.Zero(t, m.Publish(Frame{}, nil))
}

func TestMux_UnregisterStopsDelivery(t *testing.T) {
	t.Parallel()
	m := NewMux()
	sink := &recordingSink{}
	_, err := m.RegisterView("Arena", sink, true)
	require.NoError(t, err)

	m.Publish(Frame{}, nil)
	m.UnregisterView("Arena")
	m.UnregisterView("Arena") // unknown names are ignored
	m.Publish(Frame{}, nil)

	assert.Equal(t, 1, sink.count())
	assert.Empty(t, m.Views())
}

func TestMux_ConfigureViewCrop(t *testing.T) {
	t.Parallel()
	m := NewMux()
	sink := &recordingSink{}
	_, err := m.RegisterView("Arena", sink, true)
	require.NoError(t, err)

	assert.ErrorIs(t, m.ConfigureView("missing", ViewOptions{}), ErrUnknownView)

	crop := geom.R(0, 0, 100, 100)
	require.NoError(t, m.ConfigureView("Arena", ViewOptions{Crop: &crop}))
	crop.Max.X = 1 // the Mux keeps its own copy

	m.Publish(Frame{}, []geom.Point{{X: 50, Y: 50}, {X: 150, Y: 50}})
	require.Equal(t, 1, sink.count())
	assert.Equal(t, []geom.Point{{X: 50, Y: 50}}, sink.dets[0])

	views := m.Views()
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Crop)
	assert.Equal(t, 100.0, views[0].Crop.Max.X)
	assert.Equal(t, uint64(1), views[0].Delivered)
}

func TestMux_SinkMayUnregisterDuringDelivery(t *testing.T) {
	t.Parallel()
	m := NewMux()
	calls := 0
	_, err := m.RegisterView("once", SinkFunc(func(Frame, []geom.Point) {
		calls++
		m.UnregisterView("once")
	}), false)
	require.NoError(t, err)

	m.Publish(Frame{}, nil)
	m.Publish(Frame{}, nil)
	assert.Equal(t, 1, calls)
}

func TestMux_AdminRoutes(t *testing.T) {
	t.Parallel()
	m := NewMux()
	_, err := m.RegisterView("Arena", &recordingSink{}, true)
	require.NoError(t, err)

	httpMux := http.NewServeMux()
	m.AttachAdminRoutes(httpMux)

	rec := testutil.NewTestRecorder()
	httpMux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/camera-views"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "Arena"), "body: %s", body)
}

func TestSyntheticCamera(t *testing.T) {
	t.Parallel()
	m := NewMux()
	sink := &recordingSink{}
	_, err := m.RegisterView("raw", sink, false)
	require.NoError(t, err)

	shift := func(p geom.Point) geom.Point { return geom.Pt(p.X+10, p.Y+20) }
	cam := NewSyntheticCamera(m, 640, 480, shift, 1)

	got := cam.Observe([]geom.Point{{X: 0, Y: 0}, {X: 1000, Y: 0}})
	assert.Equal(t, []geom.Point{{X: 10, Y: 20}}, got, "points off the sensor are dropped")

	cam.SetNoise(0.5)
	noisy := cam.Observe([]geom.Point{{X: 100, Y: 100}})
	require.Len(t, noisy, 1)
	assert.InDelta(t, 110, noisy[0].X, 5)
	assert.InDelta(t, 120, noisy[0].Y, 5)

	assert.Equal(t, 1, cam.Capture([]geom.Point{{X: 5, Y: 5}}))
	assert.Equal(t, 1, cam.CaptureRaw(nil))
	assert.Equal(t, 2, sink.count())
	assert.Equal(t, 640, sink.frames[0].Width)
}

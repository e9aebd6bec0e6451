package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/uiloop"
)

func TestCalibrationToggle(t *testing.T) {
	t.Parallel()
	loop := uiloop.New()
	calibrating := false
	var labels []string
	toggle := NewCalibrationToggle(loop, func() bool { return calibrating }, func(l string) { labels = append(labels, l) })
	assert.Equal(t, LabelCalibrate, toggle.Label())

	calibrating = true
	toggle.ToggleCalibrating()
	assert.Equal(t, LabelCalibrate, toggle.Label(), "label changes on the loop only")
	loop.Drain()
	assert.Equal(t, LabelStopCalibrating, toggle.Label())

	// Repeated refreshes do not flip the label back.
	toggle.ToggleCalibrating()
	toggle.ToggleCalibrating()
	loop.Drain()
	assert.Equal(t, LabelStopCalibrating, toggle.Label())

	calibrating = false
	toggle.ToggleCalibrating()
	loop.Drain()
	assert.Equal(t, LabelCalibrate, toggle.Label())
	assert.Equal(t, []string{LabelStopCalibrating, LabelCalibrate}, labels)

	loop.Stop()
	calibrating = true
	toggle.ToggleCalibrating()
	loop.Drain()
	assert.Equal(t, LabelCalibrate, toggle.Label())
}

func TestProjectorScreen(t *testing.T) {
	t.Parallel()
	_, ok := ProjectorScreen(nil)
	assert.False(t, ok)

	_, ok = ProjectorScreen(StaticScreens{{Name: "laptop", Primary: true}})
	assert.False(t, ok)

	s, ok := ProjectorScreen(StaticScreens{
		{Name: "laptop", Primary: true},
		{Name: "HDMI-2"},
		{Name: "HDMI-1", Bounds: geom.R(0, 0, 1920, 1080)},
	})
	assert.True(t, ok)
	assert.Equal(t, "HDMI-1", s.Name)
}

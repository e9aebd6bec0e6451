package arena

import (
	"fmt"

	"github.com/banshee-data/projector.arena/internal/geom"
)

// Mutation is a change to a display's content. Mutations are only applied
// through MirrorLink.Apply, which runs them on both linked displays.
type Mutation interface {
	apply(d *Display)
	fmt.Stringer
}

// SetBackground replaces the background image. An empty Image clears it.
type SetBackground struct{ Image string }

// AddShotMarker appends a marker. The marker, ID included, is identical on
// both sides.
type AddShotMarker struct{ Marker Marker }

// SetShowMarkers shows or hides the shot markers.
type SetShowMarkers struct{ Show bool }

// SetFullScreen toggles full-screen presentation.
type SetFullScreen struct{ FullScreen bool }

// SetCalibrationPattern draws calibration dots; nil hides them.
type SetCalibrationPattern struct{ Points []geom.Point }

// ClearShotMarkers removes every marker.
type ClearShotMarkers struct{}

// Resize changes the logical size.
type Resize struct{ Width, Height float64 }

func (m SetBackground) apply(d *Display) { d.background = m.Image }
func (m AddShotMarker) apply(d *Display) { d.markers = append(d.markers, m.Marker) }
func (m SetShowMarkers) apply(d *Display) { d.showMarkers = m.Show }
func (m SetFullScreen) apply(d *Display) { d.fullScreen = m.FullScreen }
func (m ClearShotMarkers) apply(d *Display) { d.markers = nil }

func (m SetCalibrationPattern) apply(d *Display) {
	if m.Points == nil {
		d.pattern = nil
		return
	}
	d.pattern = make([]geom.Point, len(m.Points))
	copy(d.pattern, m.Points)
}

func (m Resize) apply(d *Display) {
	d.width, d.height = m.Width, m.Height
}

func (m SetBackground) String() string { return fmt.Sprintf("SetBackground(%q)", m.Image) }
func (m AddShotMarker) String() string {
	return fmt.Sprintf("AddShotMarker(%s at %v)", m.Marker.ID, m.Marker.Position)
}
func (m SetShowMarkers) String() string { return fmt.Sprintf("SetShowMarkers(%v)", m.Show) }
func (m SetFullScreen) String() string  { return fmt.Sprintf("SetFullScreen(%v)", m.FullScreen) }
func (m SetCalibrationPattern) String() string {
	return fmt.Sprintf("SetCalibrationPattern(%d points)", len(m.Points))
}
func (ClearShotMarkers) String() string { return "ClearShotMarkers" }
func (m Resize) String() string         { return fmt.Sprintf("Resize(%gx%g)", m.Width, m.Height) }

func (m Resize) validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("resize to %gx%g: size must be positive", m.Width, m.Height)
	}
	return nil
}

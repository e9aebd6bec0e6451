package arena

import "github.com/banshee-data/projector.arena/internal/geom"

// Screen is a physical output the arena can be placed on.
type Screen struct {
	Name    string
	Bounds  geom.Rect
	Primary bool // the operator's own screen
}

// ScreenLocator lists the attached screens.
type ScreenLocator interface {
	Screens() []Screen
}

// StaticScreens is a fixed screen list.
type StaticScreens []Screen

// Screens implements ScreenLocator.
func (s StaticScreens) Screens() []Screen { return s }

// ProjectorScreen returns the first screen that is not the operator's, which
// is where the projector is expected to be attached.
func ProjectorScreen(l ScreenLocator) (Screen, bool) {
	if l == nil {
		return Screen{}, false
	}
	for _, s := range l.Screens() {
		if !s.Primary && !s.Bounds.Empty() {
			return s, true
		}
	}
	return Screen{}, false
}

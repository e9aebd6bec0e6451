// Package arena owns the projected arena: the primary full-screen display,
// its operator preview, the link that keeps them identical, the mapping of
// camera shots onto them, and the open/close lifecycle tying these to a
// calibration session.
package arena

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/projector.arena/internal/geom"
)

// Role is fixed when a Display is created.
type Role int

const (
	RolePrimary Role = iota
	RolePreview
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RolePreview:
		return "preview"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole parses "primary" or "preview".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return RolePrimary, nil
	case "preview":
		return RolePreview, nil
	}
	return RolePrimary, fmt.Errorf("unknown display role %q", s)
}

// MarkerSource records where a shot marker came from.
type MarkerSource string

const (
	SourceCamera MarkerSource = "camera"
	SourceInput  MarkerSource = "input"
)

// Marker is a shot drawn on the arena.
type Marker struct {
	ID       string       `json:"id"`
	Position geom.Point   `json:"position"`
	Time     time.Time    `json:"time"`
	Source   MarkerSource `json:"source"`
}

// Snapshot is the observable content of a Display. Two linked displays
// always have equal snapshots.
type Snapshot struct {
	Background         string       `json:"background,omitempty"`
	Markers            []Marker     `json:"markers"`
	ShowMarkers        bool         `json:"show_markers"`
	Width              float64      `json:"width"`
	Height             float64      `json:"height"`
	FullScreen         bool         `json:"full_screen"`
	CalibrationPattern []geom.Point `json:"calibration_pattern,omitempty"`
	Version            uint64       `json:"version"`
}

// Display is one rendered surface of the arena. It has no exported
// mutators: content changes only through a MirrorLink.
type Display struct {
	role Role

	mu          sync.RWMutex
	background  string
	markers     []Marker
	showMarkers bool
	width       float64
	height      float64
	fullScreen  bool
	pattern     []geom.Point
	version     uint64
	link        *MirrorLink
}

// NewDisplay creates an empty display of the given logical size. Markers are
// shown until told otherwise.
func NewDisplay(role Role, width, height float64) *Display {
	return &Display{role: role, width: width, height: height, showMarkers: true}
}

// Role returns the role the display was created with.
func (d *Display) Role() Role { return d.role }

// Size returns the logical width and height.
func (d *Display) Size() (width, height float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.width, d.height
}

// Bounds returns the logical display rectangle.
func (d *Display) Bounds() geom.Rect {
	w, h := d.Size()
	return geom.R(0, 0, w, h)
}

// MarkerCount returns the number of shot markers.
func (d *Display) MarkerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.markers)
}

// Snapshot returns a deep copy of the display's content.
func (d *Display) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := Snapshot{
		Background:  d.background,
		Markers:     make([]Marker, len(d.markers)),
		ShowMarkers: d.showMarkers,
		Width:       d.width,
		Height:      d.height,
		FullScreen:  d.fullScreen,
		Version:     d.version,
	}
	copy(s.Markers, d.markers)
	if d.pattern != nil {
		s.CalibrationPattern = make([]geom.Point, len(d.pattern))
		copy(s.CalibrationPattern, d.pattern)
	}
	return s
}

// mutate runs fn under the display's write lock and bumps its version.
func (d *Display) mutate(fn func(d *Display)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
	d.version++
}

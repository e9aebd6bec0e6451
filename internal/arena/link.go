package arena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/monitoring"
	"github.com/banshee-data/projector.arena/internal/timeutil"
)

// ErrDetachedDisplay is returned by a link that has been unlinked. Late
// asynchronous callers swallow it.
var ErrDetachedDisplay = errors.New("arena display detached")

// MirrorLink pairs a primary display with its preview. Every mutation goes
// through Apply, which applies it to the primary and then the preview under
// one lock, so no reader of the link ever sees the two sides differ.
type MirrorLink struct {
	authority Role
	clock     timeutil.Clock

	mu        sync.Mutex
	primary   *Display
	secondary *Display
	detached  bool
	applied   uint64

	droppedInputs atomic.Uint64
}

// Link pairs primary (RolePrimary) with secondary (RolePreview). Input is
// accepted only from the display whose role is authority. A display can be
// in at most one link.
func Link(primary, secondary *Display, authority Role) (*MirrorLink, error) {
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("link displays: both displays are required")
	}
	if primary == secondary {
		return nil, fmt.Errorf("link displays: cannot link a display to itself")
	}
	if primary.Role() != RolePrimary || secondary.Role() != RolePreview {
		return nil, fmt.Errorf("link displays: want primary+preview, got %v+%v", primary.Role(), secondary.Role())
	}
	if authority != RolePrimary && authority != RolePreview {
		return nil, fmt.Errorf("link displays: invalid input authority %v", authority)
	}

	l := &MirrorLink{authority: authority, clock: timeutil.RealClock{}, primary: primary, secondary: secondary}
	if !claim(primary, l) {
		return nil, fmt.Errorf("link displays: primary display is already linked")
	}
	if !claim(secondary, l) {
		release(primary, l)
		return nil, fmt.Errorf("link displays: preview display is already linked")
	}
	return l, nil
}

func claim(d *Display, l *MirrorLink) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.link != nil {
		return false
	}
	d.link = l
	return true
}

func release(d *Display, l *MirrorLink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.link == l {
		d.link = nil
	}
}

// SetClock replaces the clock used to timestamp input markers.
func (l *MirrorLink) SetClock(c timeutil.Clock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = c
}

// Authority returns the input-authoritative role.
func (l *MirrorLink) Authority() Role { return l.authority }

// Primary returns the primary display for reading.
func (l *MirrorLink) Primary() *Display { return l.primary }

// Preview returns the preview display for reading.
func (l *MirrorLink) Preview() *Display { return l.secondary }

// Snapshots reads both displays under the link lock, so the pair never
// straddles an Apply.
func (l *MirrorLink) Snapshots() (primary, preview Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.primary.Snapshot(), l.secondary.Snapshot()
}

// Apply runs op on the primary and then the preview. It returns
// ErrDetachedDisplay after Unlink.
func (l *MirrorLink) Apply(op Mutation) error {
	if op == nil {
		return fmt.Errorf("apply: nil mutation")
	}
	if v, ok := op.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return err
		}
	}
	l.mu.Lock()
	if l.detached {
		l.mu.Unlock()
		return ErrDetachedDisplay
	}
	l.primary.mutate(op.apply)
	l.secondary.mutate(op.apply)
	l.applied++
	l.mu.Unlock()

	monitoring.Debugf("[arena] applied %v", op)
	return nil
}

// AddMarker adds a shot marker at p on both displays.
func (l *MirrorLink) AddMarker(p geom.Point, at time.Time, source MarkerSource) (Marker, error) {
	m := Marker{ID: uuid.New().String(), Position: p, Time: at, Source: source}
	if err := l.Apply(AddShotMarker{Marker: m}); err != nil {
		return Marker{}, err
	}
	return m, nil
}

// Input handles a click or shot reported by one of the displays. Input from
// the non-authoritative side is dropped and counted, not treated as an
// error. accepted reports whether a marker was added.
func (l *MirrorLink) Input(from Role, p geom.Point) (accepted bool, err error) {
	if from != l.authority {
		n := l.droppedInputs.Add(1)
		monitoring.Debugf("[arena] dropped input from %v at %v (%d dropped)", from, p, n)
		return false, nil
	}
	l.mu.Lock()
	clock := l.clock
	l.mu.Unlock()
	if _, err := l.AddMarker(p, clock.Now(), SourceInput); err != nil {
		return false, err
	}
	return true, nil
}

// DroppedInputs returns the number of inputs rejected from the
// non-authoritative side.
func (l *MirrorLink) DroppedInputs() uint64 { return l.droppedInputs.Load() }

// Applied returns the number of mutations applied to both sides.
func (l *MirrorLink) Applied() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied
}

// Detached reports whether Unlink has been called.
func (l *MirrorLink) Detached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detached
}

// Unlink detaches the displays without changing either. Later calls to
// Apply return ErrDetachedDisplay. Unlink is idempotent.
func (l *MirrorLink) Unlink() {
	l.mu.Lock()
	if l.detached {
		l.mu.Unlock()
		return
	}
	l.detached = true
	l.mu.Unlock()
	release(l.primary, l)
	release(l.secondary, l)
	monitoring.Logf("[arena] displays unlinked after %d mutations", l.Applied())
}

// LogicalSize reports the primary's size. Together with
// ShowCalibrationPattern and SetShowMarkers it lets a calibration session
// drive both displays through the link.
func (l *MirrorLink) LogicalSize() (width, height float64) {
	return l.primary.Size()
}

// ShowCalibrationPattern draws points on both displays; nil hides them.
func (l *MirrorLink) ShowCalibrationPattern(points []geom.Point) error {
	return l.Apply(SetCalibrationPattern{Points: points})
}

// SetShowMarkers shows or hides shot markers on both displays.
func (l *MirrorLink) SetShowMarkers(show bool) error {
	return l.Apply(SetShowMarkers{Show: show})
}

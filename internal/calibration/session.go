package calibration

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/projector.arena/internal/camerafeed"
	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/monitoring"
	"github.com/banshee-data/projector.arena/internal/timeutil"
	"github.com/banshee-data/projector.arena/internal/uiloop"
)

// State of a calibration Session.
type State int

const (
	StateIdle State = iota
	StateCalibrating
	StateCalibrated
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateCalibrated:
		return "calibrated"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultViewName is the feed view a Session registers while calibrating.
const DefaultViewName = "calibration"

// Surface is the display-side capability the Session drives. The arena's
// MirrorLink implements it so both linked displays change together.
type Surface interface {
	LogicalSize() (width, height float64)
	// ShowCalibrationPattern draws the pattern dots; nil hides the pattern.
	ShowCalibrationPattern(points []geom.Point) error
	SetShowMarkers(show bool) error
}

// MarkerPreference reports the operator's marker visibility preference,
// restored when calibration ends.
type MarkerPreference interface {
	ShowArenaShotMarkers() bool
}

// Toggler is told whenever the Session enters or leaves Calibrating so the
// operator's calibrate button can follow.
type Toggler interface {
	ToggleCalibrating()
}

// Record is what a Recorder receives for every published transform.
type Record struct {
	ArenaSessionID string
	Transform      *Transform
	Samples        []Sample
	At             time.Time
}

// Recorder keeps calibration history. Errors are logged, never surfaced.
type Recorder interface {
	RecordCalibration(rec Record) error
}

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	ArenaSessionID     string
	Model              Model
	MaxConditionNumber float64
	Pattern            GridPattern
	ViewName           string // defaults to DefaultViewName

	Feed        camerafeed.Feed
	Surface     Surface
	Loop        uiloop.Submitter
	Preferences MarkerPreference // nil means markers are shown
	Toggle      Toggler          // optional
	Recorder    Recorder         // optional
	Clock       timeutil.Clock   // defaults to RealClock
	OnPublish   func(*Transform) // called on the UI context after each publish
}

// Session is the calibration state machine. Enable, Stop, Cancel,
// SubmitCorrespondence and ArenaClosing belong to the UI context; the query
// methods and OfferCorrespondence may be called from anywhere.
type Session struct {
	cfg SessionConfig

	mu         sync.Mutex
	state      State
	samples    []Sample
	transform  *Transform
	surface    Surface
	feed       camerafeed.Feed
	viewActive bool
	generation uint64
	closed     bool
	lastErr    error
}

// NewSession creates an Idle session bound to cfg.Feed and cfg.Surface.
func NewSession(cfg SessionConfig) *Session {
	if cfg.ViewName == "" {
		cfg.ViewName = DefaultViewName
	}
	if !cfg.Pattern.Valid() {
		cfg.Pattern = DefaultGridPattern()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Session{
		cfg:     cfg,
		state:   StateIdle,
		surface: cfg.Surface,
		feed:    cfg.Feed,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsCalibrating reports whether a pass is in progress.
func (s *Session) IsCalibrating() bool {
	return s.State() == StateCalibrating
}

// Transform returns the last published transform, if any.
func (s *Session) Transform() (*Transform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transform, s.transform != nil
}

// Samples returns a copy of the current pass's correspondences.
func (s *Session) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// LastError returns the error from the most recent failed Stop, cleared by
// the next state change.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Enable starts a calibration pass from Idle or Stopped: the sample buffer
// is cleared, the pattern is shown, shot markers are hidden and the session
// starts listening to the camera. Calling Enable while already calibrating is
// rejected with ErrAlreadyCalibrating and leaves the pass and its samples
// untouched.
//
// Enable is also accepted from Calibrated so the Calibrate button can start a
// re-calibration. The published transform stays in use until the new pass
// publishes a replacement.
func (s *Session) Enable() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateCalibrating {
		s.mu.Unlock()
		return ErrAlreadyCalibrating
	}
	if s.surface == nil {
		s.mu.Unlock()
		return fmt.Errorf("enable calibration: no display surface bound")
	}
	prev := s.state
	s.state = StateCalibrating
	s.samples = nil
	s.lastErr = nil
	s.generation++
	gen := s.generation
	surface, feed := s.surface, s.feed
	s.mu.Unlock()

	w, h := surface.LogicalSize()
	pattern := s.cfg.Pattern.Points(w, h)

	if feed != nil {
		view := &calibrationView{session: s, generation: gen, pattern: s.cfg.Pattern, display: pattern}
		if _, err := feed.RegisterView(s.cfg.ViewName, view, false); err != nil {
			s.mu.Lock()
			s.state = prev
			s.mu.Unlock()
			return fmt.Errorf("enable calibration: %w", err)
		}
		s.mu.Lock()
		s.viewActive = true
		s.mu.Unlock()
	}

	if err := surface.ShowCalibrationPattern(pattern); err != nil {
		monitoring.Logf("[calibration] show pattern: %v", err)
	}
	if err := surface.SetShowMarkers(false); err != nil {
		monitoring.Logf("[calibration] hide markers: %v", err)
	}
	s.toggle()
	monitoring.Logf("[calibration] enabled (%s, pass %d, %d pattern points)", s.cfg.Model, gen, len(pattern))
	return nil
}

// SubmitCorrespondence appends a sample to the current pass.
func (s *Session) SubmitCorrespondence(camera, display geom.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCalibrating {
		return ErrNotCalibrating
	}
	s.samples = append(s.samples, Sample{Camera: camera, Display: display})
	return nil
}

// OfferCorrespondence is the capture-context entry point: the sample is
// appended on the UI loop, and only if the pass it was offered to is still
// running. It never blocks.
func (s *Session) OfferCorrespondence(camera, display geom.Point) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	s.offer(gen, []Sample{{Camera: camera, Display: display}})
}

func (s *Session) offer(gen uint64, samples []Sample) {
	if s.cfg.Loop == nil {
		s.appendPass(gen, samples)
		return
	}
	s.cfg.Loop.Submit(func() { s.appendPass(gen, samples) })
}

func (s *Session) appendPass(gen uint64, samples []Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCalibrating || s.generation != gen {
		monitoring.Debugf("[calibration] dropping %d samples for stale pass %d", len(samples), gen)
		return
	}
	s.samples = append(s.samples, samples...)
}

// Stop ends the pass. With fewer samples than the model needs the session
// moves to Stopped, publishes nothing and keeps any earlier transform; the
// returned transform and error are both nil. Otherwise the samples are
// solved: on success the transform is published and the session is
// Calibrated; on a solver error the session stays Calibrating so the
// operator can collect more samples and retry.
func (s *Session) Stop() (*Transform, error) {
	s.mu.Lock()
	if s.state != StateCalibrating {
		s.mu.Unlock()
		return nil, ErrNotCalibrating
	}
	samples := make([]Sample, len(s.samples))
	copy(samples, s.samples)

	if len(samples) < s.cfg.Model.MinSamples() {
		s.state = StateStopped
		s.lastErr = nil
		s.mu.Unlock()
		monitoring.Logf("[calibration] stopped with %d samples (need %d); no transform published",
			len(samples), s.cfg.Model.MinSamples())
		s.finishPass()
		return nil, nil
	}

	t, err := Solve(samples, SolveOptions{Model: s.cfg.Model, MaxConditionNumber: s.cfg.MaxConditionNumber})
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		monitoring.Logf("[calibration] solve failed, still calibrating: %v", err)
		return nil, err
	}
	s.transform = t
	s.state = StateCalibrated
	s.lastErr = nil
	s.mu.Unlock()

	monitoring.Logf("[calibration] published %v", t)
	s.finishPass()
	s.publish(t, samples)
	return t, nil
}

// Cancel abandons the pass without solving. Any earlier transform is kept.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state != StateCalibrating {
		s.mu.Unlock()
		return ErrNotCalibrating
	}
	s.state = StateStopped
	s.lastErr = nil
	n := len(s.samples)
	s.mu.Unlock()

	monitoring.Logf("[calibration] cancelled, discarded %d samples", n)
	s.finishPass()
	return nil
}

// ArenaClosing restores the display as Stop would, without needing enough
// samples, and releases the feed and surface. Safe to call in any state and
// any number of times.
func (s *Session) ArenaClosing() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	wasCalibrating := s.state == StateCalibrating
	if wasCalibrating || s.state == StateIdle {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if wasCalibrating {
		s.finishPass()
	} else {
		s.restore()
	}

	s.mu.Lock()
	s.closed = true
	s.surface = nil
	s.feed = nil
	s.generation++
	s.mu.Unlock()
	monitoring.Logf("[calibration] arena closing, session released")
}

// finishPass restores the display, stops listening and flips the toggle.
func (s *Session) finishPass() {
	s.unregisterView()
	s.restore()
	s.toggle()
}

func (s *Session) unregisterView() {
	s.mu.Lock()
	feed, active := s.feed, s.viewActive
	s.viewActive = false
	s.mu.Unlock()
	if feed != nil && active {
		feed.UnregisterView(s.cfg.ViewName)
	}
}

func (s *Session) restore() {
	s.mu.Lock()
	surface := s.surface
	s.mu.Unlock()
	if surface == nil {
		return
	}
	show := true
	if s.cfg.Preferences != nil {
		show = s.cfg.Preferences.ShowArenaShotMarkers()
	}
	if err := surface.ShowCalibrationPattern(nil); err != nil {
		monitoring.Logf("[calibration] hide pattern: %v", err)
	}
	if err := surface.SetShowMarkers(show); err != nil {
		monitoring.Logf("[calibration] restore markers: %v", err)
	}
}

func (s *Session) toggle() {
	if s.cfg.Toggle != nil {
		s.cfg.Toggle.ToggleCalibrating()
	}
}

func (s *Session) publish(t *Transform, samples []Sample) {
	if s.cfg.OnPublish != nil {
		s.cfg.OnPublish(t)
	}
	if s.cfg.Recorder != nil {
		rec := Record{
			ArenaSessionID: s.cfg.ArenaSessionID,
			Transform:      t,
			Samples:        samples,
			At:             s.cfg.Clock.Now(),
		}
		if err := s.cfg.Recorder.RecordCalibration(rec); err != nil {
			monitoring.Logf("[calibration] record calibration: %v", err)
		}
	}
}

// calibrationView is the feed sink registered for one pass. It runs on the
// capture goroutine and only matches detections against the pattern; the
// samples are appended on the UI loop.
type calibrationView struct {
	session    *Session
	generation uint64
	pattern    GridPattern
	display    []geom.Point
}

func (v *calibrationView) Deliver(frame camerafeed.Frame, detections []geom.Point) {
	samples, ok := v.pattern.Match(detections, v.display)
	if !ok {
		return
	}
	v.session.offer(v.generation, samples)
}

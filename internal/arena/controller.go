package arena

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/projector.arena/internal/calibration"
	"github.com/banshee-data/projector.arena/internal/camerafeed"
	"github.com/banshee-data/projector.arena/internal/config"
	"github.com/banshee-data/projector.arena/internal/monitoring"
	"github.com/banshee-data/projector.arena/internal/timeutil"
	"github.com/banshee-data/projector.arena/internal/uiloop"
)

// State of the arena lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Lifecycle contract violations.
var (
	ErrArenaAlreadyOpen = errors.New("arena already open")
	ErrArenaNotOpen     = errors.New("arena not open")
)

// ControllerConfig wires a Controller to its collaborators. Feed and Loop
// are required.
type ControllerConfig struct {
	Config      *config.ArenaConfig  // nil uses defaults
	Preferences *config.Preferences  // nil derives preferences from Config
	Feed        camerafeed.Feed      // camera capability
	Loop        uiloop.Submitter     // the UI context
	Screens     ScreenLocator        // optional, for placing the arena
	Recorder    calibration.Recorder // optional calibration history
	Clock       timeutil.Clock       // defaults to RealClock
	OnLabel     func(label string)   // optional, calibrate button label changes
}

// Session is everything one open arena owns. It is built by Open and torn
// down by Close; callers may read it but must mutate displays through Link.
type Session struct {
	ID          string
	OpenedAt    time.Time
	Primary     *Display
	Preview     *Display
	Link        *MirrorLink
	Calibration *calibration.Session
	Shots       *ShotMapper
	Toggle      *CalibrationToggle

	viewName       string
	viewRegistered bool
	unsubscribe    func()
}

// Controller owns the arena lifecycle. At most one Session is open at a
// time. Open, Close, ToggleCalibration and PreferencesChanged run on the UI
// context; State and Session may be called from anywhere.
type Controller struct {
	cfg   ControllerConfig
	arena *config.ArenaConfig
	prefs *config.Preferences
	clock timeutil.Clock

	mu      sync.Mutex
	state   State
	session *Session
}

// NewController validates cfg and returns a closed controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Feed == nil || cfg.Loop == nil {
		return nil, fmt.Errorf("new arena controller: feed and loop are required")
	}
	arenaCfg := cfg.Config
	if arenaCfg == nil {
		arenaCfg = config.EmptyArenaConfig()
	}
	if err := arenaCfg.Validate(); err != nil {
		return nil, fmt.Errorf("new arena controller: %w", err)
	}
	prefs := cfg.Preferences
	if prefs == nil {
		prefs = config.NewPreferences(arenaCfg)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{cfg: cfg, arena: arenaCfg, prefs: prefs, clock: clock}, nil
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the open session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Preferences returns the operator preferences the controller follows.
func (c *Controller) Preferences() *config.Preferences { return c.prefs }

func (c *Controller) setState(state State, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.session = s
}

func (c *Controller) openSession() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.session == nil {
		return nil, ErrArenaNotOpen
	}
	return c.session, nil
}

// Open builds the arena: a primary display and its preview joined by a
// MirrorLink, the preview registered as the arena camera view, and a fresh
// calibration session driving both displays. Calibration starts at once
// unless auto_calibrate is off. Open fails with ErrArenaAlreadyOpen unless
// the controller is closed, leaving any open session untouched. If a step
// fails, whatever was built is torn down and the controller stays closed.
func (c *Controller) Open() (err error) {
	c.mu.Lock()
	if c.state != StateClosed {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("open arena (%v): %w", state, ErrArenaAlreadyOpen)
	}
	c.state = StateOpening
	c.mu.Unlock()

	s := &Session{
		ID:       uuid.New().String(),
		OpenedAt: c.clock.Now(),
		viewName: c.arena.GetArenaViewName(),
	}
	defer func() {
		if err != nil {
			c.teardown(s)
			c.setState(StateClosed, nil)
			monitoring.Logf("[arena] open failed: %v", err)
		}
	}()

	authority, err := ParseRole(c.arena.GetInputAuthority())
	if err != nil {
		return fmt.Errorf("open arena: %w", err)
	}
	w, h := c.arena.GetArenaWidth(), c.arena.GetArenaHeight()
	s.Primary = NewDisplay(RolePrimary, w, h)
	s.Preview = NewDisplay(RolePreview, w, h)
	if s.Link, err = Link(s.Primary, s.Preview, authority); err != nil {
		return fmt.Errorf("open arena: %w", err)
	}
	s.Link.SetClock(c.clock)

	// Every arena starts blank, with the operator's marker preference.
	if err = s.Link.Apply(SetBackground{}); err != nil {
		return fmt.Errorf("open arena: %w", err)
	}
	if err = s.Link.SetShowMarkers(c.prefs.ShowArenaShotMarkers()); err != nil {
		return fmt.Errorf("open arena: %w", err)
	}
	c.place(s)

	isCalibrating := func() bool {
		return s.Calibration != nil && s.Calibration.IsCalibrating()
	}
	s.Toggle = NewCalibrationToggle(c.cfg.Loop, isCalibrating, c.cfg.OnLabel)
	s.Calibration = calibration.NewSession(calibration.SessionConfig{
		ArenaSessionID:     s.ID,
		Model:              c.arena.GetTransformModel(),
		MaxConditionNumber: c.arena.GetMaxConditionNumber(),
		Pattern:            c.arena.GetCalibrationGrid(),
		Feed:               c.cfg.Feed,
		Surface:            s.Link,
		Loop:               c.cfg.Loop,
		Preferences:        c.prefs,
		Toggle:             s.Toggle,
		Recorder:           c.cfg.Recorder,
		Clock:              c.clock,
		OnPublish:          func(t *calibration.Transform) { c.published(s, t) },
	})
	s.Shots = NewShotMapper(s.Link, c.cfg.Loop, c.prefs, isCalibrating)

	if _, err = c.cfg.Feed.RegisterView(s.viewName, s.Shots, true); err != nil {
		return fmt.Errorf("open arena: %w", err)
	}
	s.viewRegistered = true
	c.applyFeedBinding(s)

	loop := c.cfg.Loop
	s.unsubscribe = c.prefs.Subscribe(func() { loop.Submit(c.PreferencesChanged) })

	c.setState(StateOpen, s)
	monitoring.Logf("[arena] opened %s (%gx%g, input from %v)", s.ID, w, h, authority)

	if c.arena.GetAutoCalibrate() {
		if err := s.Calibration.Enable(); err != nil {
			monitoring.Logf("[arena] auto calibration: %v", err)
		}
	}
	return nil
}

// place moves the arena onto the projector screen when one is attached.
func (c *Controller) place(s *Session) {
	screen, ok := ProjectorScreen(c.cfg.Screens)
	if !ok {
		monitoring.Logf("[arena] no projector screen found, arena stays windowed")
		return
	}
	if err := s.Link.Apply(Resize{Width: screen.Bounds.Width(), Height: screen.Bounds.Height()}); err != nil {
		monitoring.Logf("[arena] place on %s: %v", screen.Name, err)
		return
	}
	if err := s.Link.Apply(SetFullScreen{FullScreen: true}); err != nil {
		monitoring.Logf("[arena] full screen on %s: %v", screen.Name, err)
		return
	}
	monitoring.Logf("[arena] placed full screen on %s (%gx%g)", screen.Name, screen.Bounds.Width(), screen.Bounds.Height())
}

// Close tears the arena down: the camera view is released, an unfinished
// calibration pass is discarded, late shots are pointed at the detached
// sentinel and the displays are unlinked. It fails with ErrArenaNotOpen
// unless the arena is open.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state != StateOpen {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("close arena (%v): %w", state, ErrArenaNotOpen)
	}
	c.state = StateClosing
	s := c.session
	c.mu.Unlock()

	c.teardown(s)
	c.setState(StateClosed, nil)
	monitoring.Logf("[arena] closed %s", s.ID)
	return nil
}

// teardown releases whatever part of s was built. Safe on a partial session.
func (c *Controller) teardown(s *Session) {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.viewRegistered {
		c.cfg.Feed.UnregisterView(s.viewName)
		s.viewRegistered = false
	}
	if s.Shots != nil {
		s.Shots.Detach()
	}
	if s.Calibration != nil {
		if s.Calibration.IsCalibrating() {
			if err := s.Calibration.Cancel(); err != nil {
				monitoring.Logf("[arena] cancel calibration: %v", err)
			}
		}
		s.Calibration.ArenaClosing()
	}
	if s.Link != nil {
		s.Link.Unlink()
	}
}

// ToggleCalibration is the calibrate button: it starts a pass, or stops the
// running one. A solver error is returned and the pass keeps running so the
// operator can collect more samples.
func (c *Controller) ToggleCalibration() error {
	s, err := c.openSession()
	if err != nil {
		return err
	}
	if !s.Calibration.IsCalibrating() {
		return s.Calibration.Enable()
	}
	t, err := s.Calibration.Stop()
	if err != nil {
		return fmt.Errorf("stop calibration: %w", err)
	}
	if t == nil {
		monitoring.Logf("[arena] calibration stopped without enough samples")
	}
	return nil
}

// PreferencesChanged applies the current operator preferences to the open
// arena: marker visibility (left alone while calibrating, the pass restores
// it when it ends) and the camera view's crop. It does nothing when the
// arena is closed.
func (c *Controller) PreferencesChanged() {
	s, err := c.openSession()
	if err != nil {
		monitoring.Debugf("[arena] preferences changed while %v", c.State())
		return
	}
	if !s.Calibration.IsCalibrating() {
		if err := s.Link.SetShowMarkers(c.prefs.ShowArenaShotMarkers()); err != nil && !errors.Is(err, ErrDetachedDisplay) {
			monitoring.Logf("[arena] apply marker preference: %v", err)
		}
	}
	c.applyFeedBinding(s)
}

// published runs on the UI loop each time calibration publishes a transform.
func (c *Controller) published(s *Session, t *calibration.Transform) {
	s.Shots.SetTransform(t)
	c.applyFeedBinding(s)
	if q := t.Quality(); !q.UsableForScoring() {
		monitoring.Logf("[arena] calibration quality %v, recalibrate before scoring", q)
	}
}

// applyFeedBinding crops the arena view to the calibrated bounds when the
// crop behaviour is selected, and clears the crop otherwise.
func (c *Controller) applyFeedBinding(s *Session) {
	if !s.viewRegistered {
		return
	}
	var opts camerafeed.ViewOptions
	if c.prefs.CalibratedFeedBehavior() == config.FeedBehaviorCrop {
		if t := s.Shots.Transform(); t != nil {
			if crop := t.CameraBounds(s.Primary.Bounds()); !crop.Empty() {
				opts.Crop = &crop
			}
		}
	}
	if err := c.cfg.Feed.ConfigureView(s.viewName, opts); err != nil {
		monitoring.Logf("[arena] configure view %q: %v", s.viewName, err)
	}
}

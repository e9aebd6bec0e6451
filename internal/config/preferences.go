package config

import (
	"fmt"
	"strings"
	"sync"
)

// FeedBehavior controls which camera detections become shots once the arena
// is calibrated.
type FeedBehavior int

const (
	// FeedBehaviorEverywhere maps every detection, even outside the arena.
	FeedBehaviorEverywhere FeedBehavior = iota
	// FeedBehaviorOnlyInBounds drops detections that map outside the arena.
	FeedBehaviorOnlyInBounds
	// FeedBehaviorCrop crops the camera view to the arena's calibrated
	// bounds, so out-of-bounds spots are never delivered.
	FeedBehaviorCrop
)

func (b FeedBehavior) String() string {
	switch b {
	case FeedBehaviorEverywhere:
		return "everywhere"
	case FeedBehaviorOnlyInBounds:
		return "only_in_bounds"
	case FeedBehaviorCrop:
		return "crop"
	default:
		return fmt.Sprintf("FeedBehavior(%d)", int(b))
	}
}

// ParseFeedBehavior parses the config spelling of a FeedBehavior.
func ParseFeedBehavior(s string) (FeedBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "everywhere":
		return FeedBehaviorEverywhere, nil
	case "only_in_bounds", "in_bounds":
		return FeedBehaviorOnlyInBounds, nil
	case "crop":
		return FeedBehaviorCrop, nil
	}
	return FeedBehaviorEverywhere, fmt.Errorf("unknown calibrated_feed_behavior %q", s)
}

// Preferences holds the operator's display preferences. They can change
// while the arena is open; subscribers are told after every change.
type Preferences struct {
	mu           sync.Mutex
	feedBehavior FeedBehavior
	showMarkers  bool
	nextID       int
	subscribers  map[int]func()
}

// NewPreferences seeds preferences from cfg.
func NewPreferences(cfg *ArenaConfig) *Preferences {
	if cfg == nil {
		cfg = EmptyArenaConfig()
	}
	return &Preferences{
		feedBehavior: cfg.GetCalibratedFeedBehavior(),
		showMarkers:  cfg.GetShowArenaShotMarkers(),
		subscribers:  make(map[int]func()),
	}
}

// CalibratedFeedBehavior returns the current feed behaviour.
func (p *Preferences) CalibratedFeedBehavior() FeedBehavior {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feedBehavior
}

// ShowArenaShotMarkers reports whether shot markers are shown outside
// calibration.
func (p *Preferences) ShowArenaShotMarkers() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showMarkers
}

// SetCalibratedFeedBehavior updates the feed behaviour and notifies
// subscribers if it changed.
func (p *Preferences) SetCalibratedFeedBehavior(b FeedBehavior) {
	p.mu.Lock()
	changed := p.feedBehavior != b
	p.feedBehavior = b
	p.mu.Unlock()
	if changed {
		p.notify()
	}
}

// SetShowArenaShotMarkers updates marker visibility and notifies
// subscribers if it changed.
func (p *Preferences) SetShowArenaShotMarkers(show bool) {
	p.mu.Lock()
	changed := p.showMarkers != show
	p.showMarkers = show
	p.mu.Unlock()
	if changed {
		p.notify()
	}
}

// Subscribe registers fn to be called after each change. Callbacks run on
// the goroutine that made the change. The returned func unsubscribes.
func (p *Preferences) Subscribe(fn func()) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}

func (p *Preferences) notify() {
	p.mu.Lock()
	fns := make([]func(), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

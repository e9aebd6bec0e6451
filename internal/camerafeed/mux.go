package camerafeed

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/monitoring"
)

// Mux is an in-process Feed: a camera driver calls Publish for every frame
// and the Mux fans it out to the registered views.
type Mux struct {
	mu      sync.Mutex
	views   map[string]*view
	closing bool
	seq     uint64

	frames    uint64
	delivered uint64
}

type view struct {
	handle     ViewHandle
	sink       Sink
	opts       ViewOptions
	registered time.Time
	delivered  uint64
}

// ViewInfo is a snapshot of a registration for diagnostics.
type ViewInfo struct {
	Name       string
	ID         string
	Mirror     bool
	Crop       *geom.Rect
	Registered time.Time
	Delivered  uint64
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{views: make(map[string]*view)}
}

// RegisterView implements Feed.
func (m *Mux) RegisterView(name string, sink Sink, mirror bool) (ViewHandle, error) {
	if name == "" || sink == nil {
		return ViewHandle{}, fmt.Errorf("register view %q: name and sink are required", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ViewHandle{}, ErrFeedClosed
	}
	if _, ok := m.views[name]; ok {
		return ViewHandle{}, fmt.Errorf("register view %q: %w", name, ErrViewExists)
	}
	h := ViewHandle{Name: name, ID: uuid.New().String(), Mirror: mirror}
	m.views[name] = &view{handle: h, sink: sink, registered: time.Now()}
	monitoring.Logf("[camerafeed] view %q registered (mirror=%v)", name, mirror)
	return h, nil
}

// UnregisterView implements Feed.
func (m *Mux) UnregisterView(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.views[name]; ok {
		delete(m.views, name)
		monitoring.Logf("[camerafeed] view %q unregistered", name)
	}
}

// ConfigureView implements Feed.
func (m *Mux) ConfigureView(name string, opts ViewOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[name]
	if !ok {
		return fmt.Errorf("configure view %q: %w", name, ErrUnknownView)
	}
	if opts.Crop != nil {
		c := *opts.Crop
		opts.Crop = &c
	}
	v.opts = opts
	return nil
}

// Publish delivers a frame to every view. Sinks run on the caller's
// goroutine, outside the Mux lock, each with its own copy of the detections.
// A zero frame Seq is replaced by the next sequence number. It returns the
// number of views the frame was delivered to.
func (m *Mux) Publish(frame Frame, detections []geom.Point) int {
	type target struct {
		v    *view
		sink Sink
		crop *geom.Rect
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return 0
	}
	m.seq++
	if frame.Seq == 0 {
		frame.Seq = m.seq
	}
	if frame.Time.IsZero() {
		frame.Time = time.Now()
	}
	targets := make([]target, 0, len(m.views))
	for _, v := range m.views {
		targets = append(targets, target{v: v, sink: v.sink, crop: v.opts.Crop})
	}
	m.frames++
	m.mu.Unlock()

	for _, t := range targets {
		t.sink.Deliver(frame, filter(detections, t.crop))
	}

	m.mu.Lock()
	for _, t := range targets {
		t.v.delivered++
	}
	m.delivered += uint64(len(targets))
	m.mu.Unlock()
	return len(targets)
}

func filter(detections []geom.Point, crop *geom.Rect) []geom.Point {
	out := make([]geom.Point, 0, len(detections))
	for _, d := range detections {
		if crop == nil || crop.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// Views returns the current registrations sorted by name.
func (m *Mux) Views() []ViewInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ViewInfo, 0, len(m.views))
	for _, v := range m.views {
		info := ViewInfo{
			Name:       v.handle.Name,
			ID:         v.handle.ID,
			Mirror:     v.handle.Mirror,
			Registered: v.registered,
			Delivered:  v.delivered,
		}
		if v.opts.Crop != nil {
			c := *v.opts.Crop
			info.Crop = &c
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns the number of published frames and total deliveries.
func (m *Mux) Stats() (frames, delivered uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames, m.delivered
}

// Close drops every view and rejects further registrations and frames.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closing = true
	for name := range m.views {
		delete(m.views, name)
	}
}

// AttachAdminRoutes attaches a camera view listing to the debug mux.
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("camera-views", "registered camera views", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		frames, delivered := m.Stats()
		io.WriteString(w, fmt.Sprintf("frames=%d deliveries=%d\n", frames, delivered))
		for _, v := range m.Views() {
			crop := "none"
			if v.Crop != nil {
				crop = fmt.Sprintf("%v-%v", v.Crop.Min, v.Crop.Max)
			}
			io.WriteString(w, fmt.Sprintf("%-20s mirror=%-5v crop=%s delivered=%d id=%s\n",
				v.Name, v.Mirror, crop, v.Delivered, v.ID))
		}
	})
}

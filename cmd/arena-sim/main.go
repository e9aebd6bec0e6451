// Command arena-sim drives a projected arena end to end against a synthetic
// camera: it opens the arena, calibrates from the projected grid, fires
// random shots and reports how far the mapped markers land from their
// targets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/projector.arena/internal/arena"
	"github.com/banshee-data/projector.arena/internal/calibration"
	"github.com/banshee-data/projector.arena/internal/camerafeed"
	"github.com/banshee-data/projector.arena/internal/config"
	"github.com/banshee-data/projector.arena/internal/geom"
	"github.com/banshee-data/projector.arena/internal/monitoring"
	"github.com/banshee-data/projector.arena/internal/store"
	"github.com/banshee-data/projector.arena/internal/timeutil"
	"github.com/banshee-data/projector.arena/internal/uiloop"
	"github.com/banshee-data/projector.arena/internal/version"
)

var (
	configPath  = flag.String("config", "", "Arena config JSON (empty uses built-in defaults)")
	dbPath      = flag.String("db", "", "Calibration history database (empty disables)")
	noise       = flag.Float64("noise", 0.3, "Camera detection jitter, in camera pixels")
	passes      = flag.Int("passes", 3, "Calibration grid frames to capture")
	shots       = flag.Int("shots", 20, "Random shots to fire after calibrating")
	seed        = flag.Int64("seed", 1, "Random seed")
	plotPath    = flag.String("plot", "", "Write a residual scatter PNG here")
	listen      = flag.String("listen", "", "Serve /debug routes here after the run (empty exits)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// cameraQuad is where the display corners land in the synthetic camera
// frame: a projector seen from below and to the left.
var cameraQuad = [4]geom.Point{
	{X: 300, Y: 200},
	{X: 1600, Y: 150},
	{X: 1700, Y: 950},
	{X: 250, Y: 900},
}

const (
	cameraWidth  = 1920
	cameraHeight = 1080
)

type simOptions struct {
	Config *config.ArenaConfig
	Store  *store.CalibrationStore
	Noise  float64
	Passes int
	Shots  int
	Seed   int64
}

type shotResult struct {
	Target geom.Point
	Marker geom.Point
	Mapped bool
}

type simReport struct {
	SessionID string
	Transform *calibration.Transform
	Samples   []calibration.Sample
	Shots     []shotResult
	Stats     arena.ShotStats
}

// shotErrors returns the distance of every mapped shot from its target.
func (r *simReport) shotErrors() []float64 {
	out := make([]float64, 0, len(r.Shots))
	for _, s := range r.Shots {
		if s.Mapped {
			out = append(out, s.Marker.Dist(s.Target))
		}
	}
	return out
}

// captureRecorder keeps the samples of the last published fit and forwards
// the record to the history store when one is configured.
type captureRecorder struct {
	next    calibration.Recorder
	samples []calibration.Sample
}

func (r *captureRecorder) RecordCalibration(rec calibration.Record) error {
	r.samples = append([]calibration.Sample(nil), rec.Samples...)
	if r.next == nil {
		return nil
	}
	return r.next.RecordCalibration(rec)
}

// projection returns the display→camera mapping for an arena of the given
// size, fitted through the four corners of cameraQuad.
func projection(width, height float64) (func(geom.Point) geom.Point, error) {
	display := geom.R(0, 0, width, height).Corners()
	samples := make([]calibration.Sample, len(display))
	for i := range display {
		// Fitted the other way round: "camera" is the display here.
		samples[i] = calibration.Sample{Camera: display[i], Display: cameraQuad[i]}
	}
	t, err := calibration.Solve(samples, calibration.SolveOptions{Model: calibration.ModelHomography})
	if err != nil {
		return nil, fmt.Errorf("build synthetic projection: %w", err)
	}
	return t.Forward, nil
}

func simulate(opts simOptions, feed *camerafeed.Mux, loop *uiloop.Loop) (*arena.Controller, *simReport, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultArenaConfig()
	}
	project, err := projection(cfg.GetArenaWidth(), cfg.GetArenaHeight())
	if err != nil {
		return nil, nil, err
	}
	cam := camerafeed.NewSyntheticCamera(feed, cameraWidth, cameraHeight, project, opts.Seed)
	cam.SetNoise(opts.Noise)

	rec := &captureRecorder{}
	if opts.Store != nil {
		rec.next = opts.Store
	}
	c, err := arena.NewController(arena.ControllerConfig{
		Config: cfg,
		Feed:   feed,
		Loop:   loop,
		Screens: arena.StaticScreens{
			{Name: "operator", Bounds: geom.R(0, 0, 1920, 1080), Primary: true},
			{Name: "projector", Bounds: geom.R(1920, 0, 1920+cfg.GetArenaWidth(), cfg.GetArenaHeight())},
		},
		Recorder: rec,
		Clock:    timeutil.RealClock{},
		OnLabel:  func(label string) { monitoring.Logf("[arena-sim] button: %s", label) },
	})
	if err != nil {
		return nil, nil, err
	}

	if err := c.Open(); err != nil {
		return nil, nil, fmt.Errorf("open arena: %w", err)
	}
	loop.Drain()
	s := c.Session()
	if !s.Calibration.IsCalibrating() {
		if err := c.ToggleCalibration(); err != nil {
			return c, nil, fmt.Errorf("start calibration: %w", err)
		}
		loop.Drain()
	}

	pattern := s.Primary.Snapshot().CalibrationPattern
	for i := 0; i < opts.Passes; i++ {
		cam.Capture(pattern)
		loop.Drain()
	}
	monitoring.Logf("[arena-sim] collected %d samples over %d frames", len(s.Calibration.Samples()), opts.Passes)

	if err := c.ToggleCalibration(); err != nil {
		return c, nil, fmt.Errorf("stop calibration: %w", err)
	}
	loop.Drain()
	t, ok := s.Calibration.Transform()
	if !ok {
		return c, nil, fmt.Errorf("calibration did not publish: %v", s.Calibration.LastError())
	}

	report := &simReport{SessionID: s.ID, Transform: t, Samples: rec.samples}
	rng := rand.New(rand.NewSource(opts.Seed))
	w, h := s.Primary.Size()
	// Keep targets off the edges so jitter cannot push them out of bounds.
	inner := geom.R(0.05*w, 0.05*h, 0.95*w, 0.95*h)
	for i := 0; i < opts.Shots; i++ {
		target := geom.Pt(
			inner.Min.X+rng.Float64()*inner.Width(),
			inner.Min.Y+rng.Float64()*inner.Height(),
		)
		before := s.Primary.MarkerCount()
		cam.Capture([]geom.Point{target})
		loop.Drain()
		res := shotResult{Target: target}
		if markers := s.Primary.Snapshot().Markers; len(markers) > before {
			res.Marker = markers[len(markers)-1].Position
			res.Mapped = true
		}
		report.Shots = append(report.Shots, res)
	}
	report.Stats = s.Shots.Stats()
	return c, report, nil
}

func printReport(w io.Writer, r *simReport) {
	t := r.Transform
	fmt.Fprintf(w, "arena session:   %s\n", r.SessionID)
	fmt.Fprintf(w, "transform:       %s\n", t)
	fmt.Fprintf(w, "samples:         %d\n", t.SampleCount())
	fmt.Fprintf(w, "rmse:            %.3f px\n", t.RMSE())
	fmt.Fprintf(w, "max error:       %.3f px\n", t.MaxError())
	fmt.Fprintf(w, "quality:         %s\n", t.Quality())

	errs := r.shotErrors()
	var sum, worst float64
	for _, e := range errs {
		sum += e
		worst = math.Max(worst, e)
	}
	mean := 0.0
	if len(errs) > 0 {
		mean = sum / float64(len(errs))
	}
	fmt.Fprintf(w, "shots mapped:    %d/%d (out of bounds %d)\n", len(errs), len(r.Shots), r.Stats.OutOfBounds)
	fmt.Fprintf(w, "shot error:      mean %.3f px, max %.3f px\n", mean, worst)
}

// runOptions carries the parsed command line into run.
type runOptions struct {
	ConfigPath string
	DBPath     string
	PlotPath   string
	Listen     string
	Sim        simOptions
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("arena-sim"))
		return
	}
	monitoring.SetDebug(*debug)

	err := run(runOptions{
		ConfigPath: *configPath,
		DBPath:     *dbPath,
		PlotPath:   *plotPath,
		Listen:     *listen,
		Sim: simOptions{
			Noise:  *noise,
			Passes: *passes,
			Shots:  *shots,
			Seed:   *seed,
		},
	}, os.Stdout)
	if err != nil {
		log.Fatalf("arena-sim: %v", err)
	}
}

// run owns every resource it opens, so they are released on all paths
// before main decides the exit status.
func run(opts runOptions, out io.Writer) error {
	cfg := config.DefaultArenaConfig()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.LoadArenaConfig(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	var st *store.CalibrationStore
	if opts.DBPath != "" {
		var err error
		st, err = store.Open(opts.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open calibration store: %w", err)
		}
		defer st.Close()
	}

	feed := camerafeed.NewMux()
	defer feed.Close()
	loop := uiloop.New()

	sim := opts.Sim
	sim.Config = cfg
	sim.Store = st
	c, report, err := simulate(sim, feed, loop)
	if c != nil {
		defer func() {
			if c.State() != arena.StateOpen {
				return
			}
			if err := c.Close(); err != nil {
				log.Printf("failed to close arena: %v", err)
			}
			loop.Drain()
		}()
	}
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	printReport(out, report)

	if opts.PlotPath != "" {
		if err := saveResidualPlot(report, opts.PlotPath); err != nil {
			log.Printf("failed to write residual plot: %v", err)
		} else {
			log.Printf("residual plot written to %s", opts.PlotPath)
		}
	}
	if st != nil {
		if recs, err := st.ListBySession(report.SessionID); err != nil {
			log.Printf("failed to read calibration history: %v", err)
		} else {
			log.Printf("%d calibration(s) recorded for arena %s", len(recs), report.SessionID)
		}
	}

	if opts.Listen != "" {
		if err := serve(opts.Listen, c, feed, st, loop); err != nil {
			return fmt.Errorf("debug server: %w", err)
		}
	}
	return nil
}

// serve exposes the debug routes until interrupted. The loop runs on its own
// goroutine while serving, so the arena is closed through it afterwards.
func serve(addr string, c *arena.Controller, feed *camerafeed.Mux, st *store.CalibrationStore, loop *uiloop.Loop) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)
	feed.AttachAdminRoutes(mux)
	if st != nil {
		if err := st.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shut down debug server: %v", err)
		}
	}()

	log.Printf("serving debug routes on http://%s/debug/", addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	stop()
	<-loopDone
	return err
}

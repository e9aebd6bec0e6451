package arena

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/go-cmp/cmp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/projector.arena/internal/calibration"
	"github.com/banshee-data/projector.arena/internal/httputil"
)

// TransformStatus summarises a published transform.
type TransformStatus struct {
	Model     string             `json:"model"`
	Matrix    calibration.Matrix `json:"matrix"`
	Samples   int                `json:"samples"`
	RMSE      float64            `json:"rmse_px"`
	MaxError  float64            `json:"max_error_px"`
	Condition float64            `json:"condition_number"`
	Quality   string             `json:"quality"`
}

// Status is a point-in-time view of the controller for diagnostics.
type Status struct {
	State            string           `json:"state"`
	SessionID        string           `json:"session_id,omitempty"`
	OpenedAt         *time.Time       `json:"opened_at,omitempty"`
	CalibrationState string           `json:"calibration_state,omitempty"`
	PendingSamples   int              `json:"pending_samples"`
	LastError        string           `json:"last_error,omitempty"`
	ButtonLabel      string           `json:"button_label,omitempty"`
	Transform        *TransformStatus `json:"transform,omitempty"`
	Markers          int              `json:"markers"`
	InSync           bool             `json:"in_sync"`
	Mutations        uint64           `json:"mutations"`
	DroppedInputs    uint64           `json:"dropped_inputs"`
	Shots            ShotStats        `json:"shots"`
	Primary          *Snapshot        `json:"primary,omitempty"`
}

// Status reports the controller's current state.
func (c *Controller) Status() Status {
	st := Status{State: c.State().String()}
	s := c.Session()
	if s == nil {
		return st
	}
	opened := s.OpenedAt
	st.SessionID = s.ID
	st.OpenedAt = &opened
	st.CalibrationState = s.Calibration.State().String()
	st.PendingSamples = len(s.Calibration.Samples())
	if err := s.Calibration.LastError(); err != nil {
		st.LastError = err.Error()
	}
	st.ButtonLabel = s.Toggle.Label()
	if t, ok := s.Calibration.Transform(); ok {
		st.Transform = &TransformStatus{
			Model:     t.Model().String(),
			Matrix:    t.Matrix(),
			Samples:   t.SampleCount(),
			RMSE:      t.RMSE(),
			MaxError:  t.MaxError(),
			Condition: t.ConditionNumber(),
			Quality:   string(t.Quality()),
		}
	}
	primary, preview := s.Link.Snapshots()
	st.Markers = len(primary.Markers)
	st.InSync = cmp.Equal(primary, preview)
	st.Mutations = s.Link.Applied()
	st.DroppedInputs = s.Link.DroppedInputs()
	st.Shots = s.Shots.Stats()
	st.Primary = &primary
	return st
}

// AttachAdminRoutes adds the arena status and marker chart to the debug mux.
func (c *Controller) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("arena", "arena lifecycle, calibration and mirror status", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, c.Status())
	})
	debug.HandleFunc("arena-markers", "shot markers and calibration dots (chart)", c.handleMarkerChart)
}

func (c *Controller) handleMarkerChart(w http.ResponseWriter, r *http.Request) {
	s := c.Session()
	if s == nil {
		httputil.NotFound(w, ErrArenaNotOpen.Error())
		return
	}
	snap, _ := s.Link.Snapshots()

	shots := make([]opts.ScatterData, 0, len(snap.Markers))
	for _, m := range snap.Markers {
		shots = append(shots, opts.ScatterData{Value: []interface{}{m.Position.X, m.Position.Y}, Name: m.ID})
	}
	dots := make([]opts.ScatterData, 0, len(snap.CalibrationPattern))
	for _, p := range snap.CalibrationPattern {
		dots = append(dots, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Arena Markers", Theme: "dark", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Arena Markers", Subtitle: fmt.Sprintf("session=%s markers=%d version=%d", s.ID, len(snap.Markers), snap.Version)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: snap.Width, Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		// Display Y grows downwards.
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: snap.Height, Name: "Y (px)", NameLocation: "middle", NameGap: 30, Inverse: opts.Bool(true)}),
	)
	scatter.AddSeries("shots", shots, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	scatter.AddSeries("calibration", dots, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

package main

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// saveResidualPlot writes a scatter of calibration residuals and shot errors
// (mapped marker minus target, in display pixels) to path.
func saveResidualPlot(r *simReport, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Arena %s - Mapping Residuals", r.SessionID)
	p.X.Label.Text = "dx (px)"
	p.Y.Label.Text = "dy (px)"
	p.Add(plotter.NewGrid())

	calib := make(plotter.XYs, 0, len(r.Samples))
	for _, d := range r.Transform.Residuals(r.Samples) {
		calib = append(calib, plotter.XY{X: d.X, Y: d.Y})
	}
	shots := make(plotter.XYs, 0, len(r.Shots))
	for _, s := range r.Shots {
		if s.Mapped {
			d := s.Marker.Sub(s.Target)
			shots = append(shots, plotter.XY{X: d.X, Y: d.Y})
		}
	}

	if len(calib) > 0 {
		sc, err := plotter.NewScatter(calib)
		if err != nil {
			return fmt.Errorf("calibration residuals: %w", err)
		}
		sc.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("calibration", sc)
	}
	if len(shots) > 0 {
		sc, err := plotter.NewScatter(shots)
		if err != nil {
			return fmt.Errorf("shot errors: %w", err)
		}
		sc.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add("shots", sc)
	}

	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}

package calibration

import (
	"sort"

	"github.com/banshee-data/projector.arena/internal/geom"
)

// GridPattern is the dot grid projected while calibrating. The camera sees
// each dot as a bright spot; a frame in which exactly Rows*Cols spots are
// detected yields one correspondence per dot.
type GridPattern struct {
	Rows   int
	Cols   int
	Margin float64 // fraction of the display kept clear at each edge, 0..0.5
}

// DefaultGridPattern is a 3x4 grid inset 10% from the display edges.
func DefaultGridPattern() GridPattern {
	return GridPattern{Rows: 3, Cols: 4, Margin: 0.1}
}

// Valid reports whether the pattern can be drawn and matched.
func (g GridPattern) Valid() bool {
	return g.Rows >= 2 && g.Cols >= 2 && g.Margin >= 0 && g.Margin < 0.5
}

// Points returns the dot centres in display coordinates, row-major from the
// top-left.
func (g GridPattern) Points(width, height float64) []geom.Point {
	if !g.Valid() || width <= 0 || height <= 0 {
		return nil
	}
	x0, y0 := width*g.Margin, height*g.Margin
	dx := width * (1 - 2*g.Margin) / float64(g.Cols-1)
	dy := height * (1 - 2*g.Margin) / float64(g.Rows-1)
	pts := make([]geom.Point, 0, g.Rows*g.Cols)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			pts = append(pts, geom.Pt(x0+float64(c)*dx, y0+float64(r)*dy))
		}
	}
	return pts
}

// Match pairs camera detections with the pattern's display points. The
// detections are sorted into rows by Y, then each row by X, which holds for
// a camera that is roughly upright relative to the projection. ok is false
// when the detection count does not match the grid.
func (g GridPattern) Match(detections, display []geom.Point) (samples []Sample, ok bool) {
	n := g.Rows * g.Cols
	if !g.Valid() || len(detections) != n || len(display) != n {
		return nil, false
	}
	sorted := make([]geom.Point, n)
	copy(sorted, detections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })
	for r := 0; r < g.Rows; r++ {
		row := sorted[r*g.Cols : (r+1)*g.Cols]
		sort.Slice(row, func(i, j int) bool { return row[i].X < row[j].X })
	}
	samples = make([]Sample, n)
	for i := range sorted {
		samples[i] = Sample{Camera: sorted[i], Display: display[i]}
	}
	return samples, true
}

package calibration

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/projector.arena/internal/geom"
)

// Model selects the family of camera→display mappings the solver fits.
type Model int

const (
	// ModelHomography is a full projective mapping (camera viewing the
	// surface at an angle). Eight degrees of freedom.
	ModelHomography Model = iota
	// ModelAffine handles scale, rotation, shear and translation only.
	ModelAffine
)

// MinSamples is the number of distinct correspondences the model needs.
func (m Model) MinSamples() int {
	if m == ModelAffine {
		return 3
	}
	return 4
}

func (m Model) String() string {
	switch m {
	case ModelHomography:
		return "homography"
	case ModelAffine:
		return "affine"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// ParseModel maps a config string to a Model.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "homography", "perspective":
		return ModelHomography, nil
	case "affine":
		return ModelAffine, nil
	}
	return ModelHomography, fmt.Errorf("unknown transform model %q", s)
}

// Matrix is a 3x3 row-major matrix (m00,m01,m02, m10,...).
type Matrix [9]float64

// Identity returns the identity matrix.
func Identity() Matrix { return Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1} }

// Mul returns a*b.
func (a Matrix) Mul(b Matrix) Matrix {
	var out Matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = a[r*3]*b[c] + a[r*3+1]*b[3+c] + a[r*3+2]*b[6+c]
		}
	}
	return out
}

// Det returns the determinant.
func (a Matrix) Det() float64 {
	return a[0]*(a[4]*a[8]-a[5]*a[7]) -
		a[1]*(a[3]*a[8]-a[5]*a[6]) +
		a[2]*(a[3]*a[7]-a[4]*a[6])
}

// Inverse returns the analytic inverse (adjugate over determinant). ok is
// false when the matrix is singular or not finite.
func (a Matrix) Inverse() (inv Matrix, ok bool) {
	det := a.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Matrix{}, false
	}
	inv = Matrix{
		a[4]*a[8] - a[5]*a[7], a[2]*a[7] - a[1]*a[8], a[1]*a[5] - a[2]*a[4],
		a[5]*a[6] - a[3]*a[8], a[0]*a[8] - a[2]*a[6], a[2]*a[3] - a[0]*a[5],
		a[3]*a[7] - a[4]*a[6], a[1]*a[6] - a[0]*a[7], a[0]*a[4] - a[1]*a[3],
	}
	for i := range inv {
		inv[i] /= det
	}
	return inv, true
}

// normalized scales a so that the bottom-right element is 1 when that element
// is usable, otherwise to unit Frobenius norm.
func (a Matrix) normalized() Matrix {
	s := a[8]
	if math.Abs(s) < 1e-12 {
		var n float64
		for _, v := range a {
			n += v * v
		}
		s = math.Sqrt(n)
	}
	if s == 0 {
		return a
	}
	for i := range a {
		a[i] /= s
	}
	return a
}

// Apply maps p through a with the projective divide. Points on the
// transform's line at infinity map to NaN.
func (a Matrix) Apply(p geom.Point) geom.Point {
	w := a[6]*p.X + a[7]*p.Y + a[8]
	if math.Abs(w) < 1e-15 {
		return geom.Point{X: math.NaN(), Y: math.NaN()}
	}
	return geom.Point{
		X: (a[0]*p.X + a[1]*p.Y + a[2]) / w,
		Y: (a[3]*p.X + a[4]*p.Y + a[5]) / w,
	}
}

// Transform is an immutable camera→display mapping with its analytic inverse.
// Once published by a Session it is shared by pointer and never modified.
type Transform struct {
	model     Model
	forward   Matrix
	inverse   Matrix
	samples   int
	rmse      float64
	maxError  float64
	condition float64
}

// NewTransform builds a Transform from a forward matrix. The inverse is
// derived from the same parameters, never re-fitted.
func NewTransform(model Model, forward Matrix) (*Transform, error) {
	for _, v := range forward {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, illConditioned(model, 0, math.Inf(1), "non-finite transform parameters")
		}
	}
	forward = forward.normalized()
	inv, ok := forward.Inverse()
	if !ok {
		return nil, illConditioned(model, 0, math.Inf(1), "singular transform")
	}
	return &Transform{model: model, forward: forward, inverse: inv.normalized()}, nil
}

// Forward maps a camera pixel to display coordinates.
func (t *Transform) Forward(p geom.Point) geom.Point { return t.forward.Apply(p) }

// Inverse maps a display point back to camera pixels.
func (t *Transform) Inverse(p geom.Point) geom.Point { return t.inverse.Apply(p) }

// Model returns the fitted model family.
func (t *Transform) Model() Model { return t.model }

// Matrix returns a copy of the forward matrix.
func (t *Transform) Matrix() Matrix { return t.forward }

// InverseMatrix returns a copy of the inverse matrix.
func (t *Transform) InverseMatrix() Matrix { return t.inverse }

// SampleCount is the number of correspondences used by the fit.
func (t *Transform) SampleCount() int { return t.samples }

// RMSE is the root mean square reprojection error in display pixels.
func (t *Transform) RMSE() float64 { return t.rmse }

// MaxError is the worst single reprojection error in display pixels.
func (t *Transform) MaxError() float64 { return t.maxError }

// ConditionNumber of the normalised design matrix the fit was solved from.
func (t *Transform) ConditionNumber() float64 { return t.condition }

// Quality grades the fit by its RMSE.
func (t *Transform) Quality() Quality { return GradeRMSE(t.rmse, t.samples, t.model.MinSamples()) }

// Residuals returns the per-sample reprojection error vectors
// (predicted - observed) in display pixels.
func (t *Transform) Residuals(samples []Sample) []geom.Point {
	out := make([]geom.Point, len(samples))
	for i, s := range samples {
		out[i] = t.Forward(s.Camera).Sub(s.Display)
	}
	return out
}

// CameraBounds maps the display rectangle back into camera space and returns
// the bounding box of the result. Used to crop the feed to the arena.
func (t *Transform) CameraBounds(display geom.Rect) geom.Rect {
	corners := display.Corners()
	pts := make([]geom.Point, 0, len(corners))
	for _, c := range corners {
		if p := t.Inverse(c); p.IsFinite() {
			pts = append(pts, p)
		}
	}
	return geom.Bounds(pts)
}

func (t *Transform) measure(samples []Sample) {
	var sum, worst float64
	for _, s := range samples {
		d := t.Forward(s.Camera).Dist(s.Display)
		sum += d * d
		worst = math.Max(worst, d)
	}
	t.samples = len(samples)
	if len(samples) > 0 {
		t.rmse = math.Sqrt(sum / float64(len(samples)))
	}
	t.maxError = worst
}

func (t *Transform) String() string {
	return fmt.Sprintf("%s transform (%d samples, rmse %.3fpx, %s)", t.model, t.samples, t.rmse, t.Quality())
}

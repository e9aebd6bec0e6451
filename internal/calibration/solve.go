package calibration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/projector.arena/internal/geom"
)

// Sample is one correspondence: where the camera saw a point and where that
// point is in display coordinates.
type Sample struct {
	Camera  geom.Point `json:"camera"`
	Display geom.Point `json:"display"`
}

// DefaultMaxConditionNumber rejects near-degenerate geometry. The design
// matrix is built from Hartley-normalised points, so well spread samples sit
// many orders of magnitude below this.
const DefaultMaxConditionNumber = 1e6

// DefaultRefineIterations bounds the Gauss-Newton refinement of a homography.
const DefaultRefineIterations = 20

// SolveOptions configures Solve.
type SolveOptions struct {
	Model              Model
	MaxConditionNumber float64 // <= 0 uses DefaultMaxConditionNumber
	RefineIterations   int     // < 0 disables refinement, 0 uses the default
}

// Solve fits a Transform minimising the squared reprojection error of camera
// points mapped into display space.
//
// The homography is seeded by a normalised DLT (SVD null vector) and then
// refined with Gauss-Newton on the geometric error. The affine model is a
// linear least-squares problem and needs no refinement.
func Solve(samples []Sample, opts SolveOptions) (*Transform, error) {
	model := opts.Model
	maxCond := opts.MaxConditionNumber
	if maxCond <= 0 {
		maxCond = DefaultMaxConditionNumber
	}
	iters := opts.RefineIterations
	if iters == 0 {
		iters = DefaultRefineIterations
	}

	for i, s := range samples {
		if !s.Camera.IsFinite() || !s.Display.IsFinite() {
			return nil, illConditioned(model, len(samples), math.Inf(1), fmt.Sprintf("sample %d is not finite", i))
		}
	}

	fit, distinct := dedupe(samples)
	if distinct < model.MinSamples() {
		return nil, insufficient(model, len(samples), distinct)
	}

	cams := make([]geom.Point, len(fit))
	disps := make([]geom.Point, len(fit))
	for i, s := range fit {
		cams[i], disps[i] = s.Camera, s.Display
	}
	camT, camN := normalize(cams)
	dispT, dispN := normalize(disps)

	var (
		hn   Matrix
		cond float64
		err  error
	)
	switch model {
	case ModelAffine:
		hn, cond, err = solveAffine(camN, dispN)
	default:
		hn, cond, err = solveDLT(camN, dispN)
	}
	if cond > maxCond {
		return nil, illConditioned(model, len(samples), cond,
			fmt.Sprintf("condition number %.3g exceeds %.3g", cond, maxCond))
	}
	if err != nil {
		return nil, illConditioned(model, len(samples), cond, err.Error())
	}

	dispInv, ok := dispT.Inverse()
	if !ok {
		return nil, illConditioned(model, len(samples), cond, "display normalisation is singular")
	}
	h := dispInv.Mul(hn).Mul(camT).normalized()
	if model == ModelHomography && iters > 0 {
		h = refine(h, fit, iters)
	}

	t, err := NewTransform(model, h)
	if err != nil {
		return nil, err
	}
	t.condition = cond
	t.measure(samples)
	return t, nil
}

// dedupe drops repeated correspondences. distinct is the smaller of the
// number of unique camera points and unique display points, so a detector
// that reports the same spot for two pattern dots does not count twice.
func dedupe(samples []Sample) (out []Sample, distinct int) {
	seen := make(map[Sample]struct{}, len(samples))
	cams := make(map[geom.Point]struct{}, len(samples))
	disps := make(map[geom.Point]struct{}, len(samples))
	for _, s := range samples {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		cams[s.Camera] = struct{}{}
		disps[s.Display] = struct{}{}
		out = append(out, s)
	}
	distinct = len(cams)
	if len(disps) < distinct {
		distinct = len(disps)
	}
	return out, distinct
}

// normalize applies Hartley normalisation: centroid to the origin, mean
// distance sqrt(2). Coincident points leave the scale at 1 and are caught by
// the conditioning check.
func normalize(pts []geom.Point) (Matrix, []geom.Point) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= n

	s := 1.0
	if mean > 1e-12 {
		s = math.Sqrt2 / mean
	}
	t := Matrix{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}
	out := make([]geom.Point, len(pts))
	for i, p := range pts {
		out[i] = geom.Point{X: s * (p.X - cx), Y: s * (p.Y - cy)}
	}
	return t, out
}

// solveDLT returns the unit-norm null vector of the 2N x 9 DLT design matrix.
// The condition number is taken against the smallest singular value that must
// be non-zero (index 7); index 8 carries the fit residual.
func solveDLT(cam, disp []geom.Point) (Matrix, float64, error) {
	n := len(cam)
	a := mat.NewDense(2*n, 9, nil)
	for i := range cam {
		x, y := cam[i].X, cam[i].Y
		u, v := disp[i].X, disp[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFullV); !ok {
		return Matrix{}, math.Inf(1), fmt.Errorf("svd factorisation failed")
	}
	vals := svd.Values(nil)
	cond := conditionOf(vals, 7)

	var v mat.Dense
	svd.VTo(&v)
	var h Matrix
	for i := 0; i < 9; i++ {
		h[i] = v.At(i, 8)
	}
	if math.Abs(h.Det()) < 1e-10 {
		return h, cond, fmt.Errorf("degenerate geometry (collinear or repeated points)")
	}
	return h, cond, nil
}

// solveAffine solves the 2N x 6 linear least-squares system.
func solveAffine(cam, disp []geom.Point) (Matrix, float64, error) {
	n := len(cam)
	a := mat.NewDense(2*n, 6, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range cam {
		x, y := cam[i].X, cam[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1})
		b.SetVec(2*i, disp[i].X)
		b.SetVec(2*i+1, disp[i].Y)
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return Matrix{}, math.Inf(1), fmt.Errorf("svd factorisation failed")
	}
	cond := conditionOf(svd.Values(nil), 5)
	if math.IsInf(cond, 1) {
		return Matrix{}, cond, fmt.Errorf("degenerate geometry (collinear points)")
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return Matrix{}, cond, fmt.Errorf("least squares: %w", err)
	}
	return Matrix{
		x.AtVec(0), x.AtVec(1), x.AtVec(2),
		x.AtVec(3), x.AtVec(4), x.AtVec(5),
		0, 0, 1,
	}, cond, nil
}

func conditionOf(vals []float64, smallest int) float64 {
	if len(vals) <= smallest || vals[smallest] <= vals[0]*1e-15 {
		return math.Inf(1)
	}
	return vals[0] / vals[smallest]
}

// refine runs Gauss-Newton on the eight free homography parameters (h22 held
// at 1), accepting a step only when it lowers the squared error.
func refine(h Matrix, samples []Sample, iters int) Matrix {
	if math.Abs(h[8]-1) > 1e-9 {
		return h
	}
	n := len(samples)
	cost := reprojectionCost(h, samples)
	for it := 0; it < iters && cost > 0; it++ {
		j := mat.NewDense(2*n, 8, nil)
		r := mat.NewVecDense(2*n, nil)
		for i, s := range samples {
			x, y := s.Camera.X, s.Camera.Y
			w := h[6]*x + h[7]*y + 1
			if math.Abs(w) < 1e-12 {
				return h
			}
			px := (h[0]*x + h[1]*y + h[2]) / w
			py := (h[3]*x + h[4]*y + h[5]) / w
			r.SetVec(2*i, s.Display.X-px)
			r.SetVec(2*i+1, s.Display.Y-py)
			j.SetRow(2*i, []float64{x / w, y / w, 1 / w, 0, 0, 0, -px * x / w, -px * y / w})
			j.SetRow(2*i+1, []float64{0, 0, 0, x / w, y / w, 1 / w, -py * x / w, -py * y / w})
		}

		var delta mat.VecDense
		if err := delta.SolveVec(j, r); err != nil {
			break
		}
		next := h
		for k := 0; k < 8; k++ {
			next[k] += delta.AtVec(k)
		}
		c := reprojectionCost(next, samples)
		if math.IsNaN(c) || c >= cost {
			break
		}
		improved := cost - c
		h, cost = next, c
		if improved <= 1e-12*(1+cost) {
			break
		}
	}
	return h
}

func reprojectionCost(h Matrix, samples []Sample) float64 {
	var sum float64
	for _, s := range samples {
		d := h.Apply(s.Camera).Dist(s.Display)
		sum += d * d
	}
	return sum
}

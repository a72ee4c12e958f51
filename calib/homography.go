package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/powei-lin/camera-intrinsic/detect"
	"github.com/powei-lin/camera-intrinsic/pnp"
)

// Homography is a 3x3 matrix (represented as a 2D array) that maps the plane
// of one view onto another. Indices are [row][column].
type Homography [3][3]float64

// At returns the entry at (row, col).
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps a point through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

func homographyFromDense(m mat.Matrix) *Homography {
	var h Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = m.At(r, c)
		}
	}
	return &h
}

// unitNorm maps pixels into units of half the larger image dimension,
// centered on the image center. Distortion search and focal recovery both
// run in these units.
type unitNorm struct {
	cx, cy, scale float64
}

func newUnitNorm(width, height int) unitNorm {
	return unitNorm{
		cx:    float64(width) / 2,
		cy:    float64(height) / 2,
		scale: float64(max(width, height)) / 2,
	}
}

func (n unitNorm) apply(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - n.cx) / n.scale, Y: (p.Y - n.cy) / n.scale}
}

// divisionDenomFloor rejects undistortions where 1 + lambda*r^2 approaches
// zero and the one-parameter division model folds back on itself.
const divisionDenomFloor = 1e-2

// divisionUndistort undoes one-parameter division-model distortion on a
// normalized point.
func divisionUndistort(pt r2.Point, lambda float64) (r2.Point, bool) {
	denom := 1 + lambda*(pt.X*pt.X+pt.Y*pt.Y)
	if denom < divisionDenomFloor {
		return r2.Point{}, false
	}
	return r2.Point{X: pt.X / denom, Y: pt.Y / denom}, true
}

// sharedFeatureIDs returns the feature ids detected in both frames, ascending.
func sharedFeatureIDs(ff0, ff1 *detect.FrameFeature) []uint32 {
	var ids []uint32
	for _, id := range ff0.SortedIDs() {
		if _, ok := ff1.Features[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// The distortion search sweeps lambda coarsely over the barrel range, then
// refines around the best coarse candidate at one tenth the step.
const (
	coarseLambdaMin  = -0.95
	coarseLambdaStep = 0.05
	coarseLambdaEnd  = 25
	fineLambdaStep   = 0.005
	fineLambdaEnd    = 9
)

type homographyCandidate struct {
	lambda float64
	score  float64
	h      *Homography
}

// radialDistortionHomography estimates the division-model distortion shared
// by two frames and the plane homography between them, by sweeping lambda and
// scoring each candidate's homography on symmetric transfer error.
func radialDistortionHomography(ff0, ff1 *detect.FrameFeature) (float64, *Homography, error) {
	ids := sharedFeatureIDs(ff0, ff1)
	if len(ids) < 4 {
		return 0, nil, errors.Errorf("frames share %d features, need at least 4", len(ids))
	}
	norm := newUnitNorm(ff0.Width, ff0.Height)
	pts0 := make([]r2.Point, len(ids))
	pts1 := make([]r2.Point, len(ids))
	for i, id := range ids {
		pts0[i] = norm.apply(ff0.Features[id].P2D)
		pts1[i] = norm.apply(ff1.Features[id].P2D)
	}

	best := homographyCandidate{score: math.Inf(1)}
	for i := 0; i <= coarseLambdaEnd; i++ {
		lambda := coarseLambdaMin + float64(i)*coarseLambdaStep
		if c := scoreLambda(pts0, pts1, lambda); c.score < best.score {
			best = c
		}
	}
	if best.h == nil {
		return 0, nil, errors.New("no distortion candidate admits a homography")
	}
	center := best.lambda
	for i := -fineLambdaEnd; i <= fineLambdaEnd; i++ {
		lambda := center + float64(i)*fineLambdaStep
		if c := scoreLambda(pts0, pts1, lambda); c.score < best.score {
			best = c
		}
	}
	return best.lambda, best.h, nil
}

// scoreLambda undistorts the matches with one lambda candidate, fits a
// homography, and scores it by mean symmetric transfer error. An infinite
// score marks an unusable candidate.
func scoreLambda(pts0, pts1 []r2.Point, lambda float64) homographyCandidate {
	bad := homographyCandidate{lambda: lambda, score: math.Inf(1)}
	und0 := make([]r2.Point, 0, len(pts0))
	und1 := make([]r2.Point, 0, len(pts1))
	for i := range pts0 {
		q0, ok0 := divisionUndistort(pts0[i], lambda)
		q1, ok1 := divisionUndistort(pts1[i], lambda)
		if !ok0 || !ok1 {
			continue
		}
		und0 = append(und0, q0)
		und1 = append(und1, q1)
	}
	if len(und0) < 4 {
		return bad
	}
	fwdDense, err := pnp.EstimateHomography(und0, und1)
	if err != nil {
		return bad
	}
	var bwdDense mat.Dense
	if err := bwdDense.Inverse(fwdDense); err != nil {
		return bad
	}
	fwd := homographyFromDense(fwdDense)
	bwd := homographyFromDense(&bwdDense)
	var total float64
	for i := range und0 {
		d0 := fwd.Apply(und0[i]).Sub(und1[i])
		d1 := bwd.Apply(und1[i]).Sub(und0[i])
		total += d0.X*d0.X + d0.Y*d0.Y + d1.X*d1.X + d1.Y*d1.Y
	}
	return homographyCandidate{lambda: lambda, score: total / float64(len(und0)), h: fwd}
}

// homographyToFocal recovers a shared focal length from a homography between
// two views, the way panorama stitchers seed theirs. Both derivations must
// yield a usable estimate; the result is their geometric mean.
func homographyToFocal(h *Homography) (float64, bool) {
	h0, h1, h2 := h.At(0, 0), h.At(0, 1), h.At(0, 2)
	h3, h4, h5 := h.At(1, 0), h.At(1, 1), h.At(1, 2)
	h6, h7 := h.At(2, 0), h.At(2, 1)

	d1 := h6 * h7
	d2 := (h7 - h6) * (h7 + h6)
	v1 := -(h0*h1 + h3*h4) / d1
	v2 := (h0*h0 + h3*h3 - h1*h1 - h4*h4) / d2
	f1, ok1 := pickFocal(v1, v2, d1, d2)

	d1 = h0*h3 + h1*h4
	d2 = h0*h0 + h1*h1 - h3*h3 - h4*h4
	v1 = -h2 * h5 / d1
	v2 = (h5*h5 - h2*h2) / d2
	f0, ok0 := pickFocal(v1, v2, d1, d2)

	if !ok0 || !ok1 {
		return 0, false
	}
	return math.Sqrt(f0 * f1), true
}

// pickFocal selects the squared-focal estimate to trust: with two positive
// candidates, the one whose denominator is larger in magnitude.
func pickFocal(v1, v2, d1, d2 float64) (float64, bool) {
	if v1 < v2 {
		v1, v2 = v2, v1
	}
	switch {
	case v1 > 0 && v2 > 0 && !math.IsInf(v1, 1):
		if math.Abs(d1) > math.Abs(d2) {
			return math.Sqrt(v1), true
		}
		return math.Sqrt(v2), true
	case v1 > 0 && !math.IsInf(v1, 1):
		return math.Sqrt(v1), true
	default:
		return 0, false
	}
}

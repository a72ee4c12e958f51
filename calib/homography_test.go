package calib

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/powei-lin/camera-intrinsic/detect"
	"github.com/powei-lin/camera-intrinsic/scalar"
)

func TestHomographyApply(t *testing.T) {
	h := Homography{{2, 0, 1}, {0, 1, 0}, {0.5, 0, 1}}
	got := h.Apply(r2.Point{X: 2, Y: 3})
	test.That(t, got.X, test.ShouldAlmostEqual, 2.5)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1.5)
}

func TestDivisionUndistort(t *testing.T) {
	got, ok := divisionUndistort(r2.Point{X: 0.5}, -0.3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got.X, test.ShouldAlmostEqual, 0.5/0.925)
	test.That(t, got.Y, test.ShouldAlmostEqual, 0)

	// Zero distortion is the identity.
	got, ok = divisionUndistort(r2.Point{X: 0.3, Y: -0.4}, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got.X, test.ShouldAlmostEqual, 0.3)
	test.That(t, got.Y, test.ShouldAlmostEqual, -0.4)

	// The model folds over where 1 + lambda r^2 reaches zero.
	_, ok = divisionUndistort(r2.Point{X: 1.0, Y: 0.5}, -0.9)
	test.That(t, ok, test.ShouldBeFalse)
}

// rotationColumns returns the rotation matrix of an axis-angle vector, by
// columns.
func rotationColumns(rvec r3.Vector) [3]r3.Vector {
	return [3]r3.Vector{
		scalar.RotateVec(rvec, r3.Vector{X: 1}),
		scalar.RotateVec(rvec, r3.Vector{Y: 1}),
		scalar.RotateVec(rvec, r3.Vector{Z: 1}),
	}
}

func TestHomographyToFocalRotationOnly(t *testing.T) {
	// A rotation-only homography K R K^-1 determines the focal exactly.
	const f = 1.3
	cols := rotationColumns(r3.Vector{X: 0.2, Y: 0.3, Z: 0.1})
	h := Homography{
		{cols[0].X, cols[1].X, f * cols[2].X},
		{cols[0].Y, cols[1].Y, f * cols[2].Y},
		{cols[0].Z / f, cols[1].Z / f, cols[2].Z},
	}

	got, ok := homographyToFocal(&h)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldAlmostEqual, f, 1e-9)
}

func TestHomographyToFocalRejectsTranslation(t *testing.T) {
	h := Homography{{1, 0, 5}, {0, 1, -3}, {0, 0, 1}}
	_, ok := homographyToFocal(&h)
	test.That(t, ok, test.ShouldBeFalse)
}

// divisionDistort is the inverse of divisionUndistort, for building synthetic
// matches.
func divisionDistort(pt r2.Point, lambda float64) r2.Point {
	ru := math.Hypot(pt.X, pt.Y)
	if ru == 0 || lambda == 0 {
		return pt
	}
	rd := (1 - math.Sqrt(1-4*lambda*ru*ru)) / (2 * lambda * ru)
	return pt.Mul(rd / ru)
}

func TestRadialDistortionHomography(t *testing.T) {
	const lambda = -0.3
	trueH := Homography{{1.05, 0.02, 0.1}, {-0.01, 0.98, -0.05}, {0.08, -0.06, 1}}
	norm := newUnitNorm(640, 480)

	ff0 := &detect.FrameFeature{Width: 640, Height: 480, Features: make(map[uint32]detect.FeaturePoint)}
	ff1 := &detect.FrameFeature{Width: 640, Height: 480, Features: make(map[uint32]detect.FeaturePoint)}
	id := uint32(0)
	for i := -3; i <= 3; i++ {
		for j := -2; j <= 2; j++ {
			u0 := r2.Point{X: float64(i) * 0.25, Y: float64(j) * 0.25}
			u1 := trueH.Apply(u0)
			d0 := divisionDistort(u0, lambda)
			d1 := divisionDistort(u1, lambda)
			ff0.Features[id] = detect.FeaturePoint{P2D: r2.Point{X: d0.X*norm.scale + norm.cx, Y: d0.Y*norm.scale + norm.cy}}
			ff1.Features[id] = detect.FeaturePoint{P2D: r2.Point{X: d1.X*norm.scale + norm.cx, Y: d1.Y*norm.scale + norm.cy}}
			id++
		}
	}

	gotLambda, gotH, err := radialDistortionHomography(ff0, ff1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotLambda, test.ShouldAlmostEqual, lambda, 0.01)
	for _, u0 := range []r2.Point{{X: 0.5, Y: 0.25}, {X: -0.25, Y: 0.5}, {X: 0, Y: 0}} {
		want := trueH.Apply(u0)
		got := gotH.Apply(u0)
		test.That(t, got.X, test.ShouldAlmostEqual, want.X, 0.02)
		test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 0.02)
	}
}

func TestRadialDistortionHomographyNeedsMatches(t *testing.T) {
	ff0 := &detect.FrameFeature{Width: 640, Height: 480, Features: map[uint32]detect.FeaturePoint{
		0: {P2D: r2.Point{X: 10, Y: 10}},
		1: {P2D: r2.Point{X: 20, Y: 10}},
		2: {P2D: r2.Point{X: 10, Y: 20}},
	}}
	_, _, err := radialDistortionHomography(ff0, ff0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSharedFeatureIDsSorted(t *testing.T) {
	ff0 := &detect.FrameFeature{Features: map[uint32]detect.FeaturePoint{5: {}, 1: {}, 9: {}, 3: {}}}
	ff1 := &detect.FrameFeature{Features: map[uint32]detect.FeaturePoint{9: {}, 3: {}, 7: {}, 5: {}}}
	test.That(t, sharedFeatureIDs(ff0, ff1), test.ShouldResemble, []uint32{3, 5, 9})
}

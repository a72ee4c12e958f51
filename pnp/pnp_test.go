package pnp

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

func boardPoints() []r3.Vector {
	var pts []r3.Vector
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			pts = append(pts, r3.Vector{X: float64(i) * 0.1, Y: float64(j) * 0.1})
		}
	}
	return pts
}

func projectToUnitPlane(rvec, tvec r3.Vector, p3ds []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(p3ds))
	for i, p := range p3ds {
		c := scalar.RotateVec(rvec, p).Add(tvec)
		out[i] = r2.Point{X: c.X / c.Z, Y: c.Y / c.Z}
	}
	return out
}

func TestSolvePlanarRecoversPose(t *testing.T) {
	rvec := r3.Vector{X: 0.1, Y: -0.2, Z: 0.05}
	tvec := r3.Vector{X: 0.1, Y: -0.15, Z: 1.5}
	p3ds := boardPoints()
	p2ds := projectToUnitPlane(rvec, tvec, p3ds)

	gotR, gotT, err := SolvePlanar(p3ds, p2ds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotR.X, test.ShouldAlmostEqual, rvec.X, 1e-6)
	test.That(t, gotR.Y, test.ShouldAlmostEqual, rvec.Y, 1e-6)
	test.That(t, gotR.Z, test.ShouldAlmostEqual, rvec.Z, 1e-6)
	test.That(t, gotT.X, test.ShouldAlmostEqual, tvec.X, 1e-6)
	test.That(t, gotT.Y, test.ShouldAlmostEqual, tvec.Y, 1e-6)
	test.That(t, gotT.Z, test.ShouldAlmostEqual, tvec.Z, 1e-6)
}

func TestSolvePlanarReprojects(t *testing.T) {
	poses := []struct {
		name string
		rvec r3.Vector
		tvec r3.Vector
	}{
		{"generic", r3.Vector{X: 0.3, Y: 0.1, Z: -0.2}, r3.Vector{X: -0.05, Y: 0.1, Z: 0.8}},
		{"identity rotation", r3.Vector{}, r3.Vector{X: 0.02, Y: -0.01, Z: 1.0}},
		{"half turn", r3.Vector{Z: math.Pi}, r3.Vector{X: 0.05, Y: 0.02, Z: 1.2}},
	}
	p3ds := boardPoints()
	for _, tc := range poses {
		t.Run(tc.name, func(t *testing.T) {
			p2ds := projectToUnitPlane(tc.rvec, tc.tvec, p3ds)
			gotR, gotT, err := SolvePlanar(p3ds, p2ds)
			test.That(t, err, test.ShouldBeNil)
			// The axis-angle vector is ambiguous at a half turn, so check
			// the pose by where it sends the points.
			got := projectToUnitPlane(gotR, gotT, p3ds)
			for i := range got {
				test.That(t, got[i].X, test.ShouldAlmostEqual, p2ds[i].X, 1e-6)
				test.That(t, got[i].Y, test.ShouldAlmostEqual, p2ds[i].Y, 1e-6)
			}
		})
	}
}

func TestSolvePlanarRejectsBadInput(t *testing.T) {
	p3ds := boardPoints()
	p2ds := projectToUnitPlane(r3.Vector{}, r3.Vector{Z: 1}, p3ds)

	_, _, err := SolvePlanar(p3ds, p2ds[:len(p2ds)-1])
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = SolvePlanar(p3ds[:3], p2ds[:3])
	test.That(t, err, test.ShouldNotBeNil)

	offPlane := append([]r3.Vector(nil), p3ds...)
	offPlane[2].Z = 0.5
	_, _, err = SolvePlanar(offPlane, p2ds)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSolvePlanarRejectsCollinear(t *testing.T) {
	var p3ds []r3.Vector
	for i := 0; i < 6; i++ {
		p3ds = append(p3ds, r3.Vector{X: float64(i) * 0.1, Y: float64(i) * 0.1})
	}
	p2ds := projectToUnitPlane(r3.Vector{X: 0.1}, r3.Vector{Z: 1.5}, p3ds)
	_, _, err := SolvePlanar(p3ds, p2ds)
	test.That(t, err, test.ShouldNotBeNil)
}

func applyHomography(h *mat.Dense, pt r2.Point) r2.Point {
	w := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{
		X: (h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)) / w,
		Y: (h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)) / w,
	}
}

func TestEstimateHomographyRecoversKnown(t *testing.T) {
	want := mat.NewDense(3, 3, []float64{
		1.2, 0.1, 5,
		-0.05, 0.9, -3,
		1e-4, -2e-4, 1,
	})
	var src, dst []r2.Point
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			pt := r2.Point{X: float64(i) * 10, Y: float64(j) * 10}
			src = append(src, pt)
			dst = append(dst, applyHomography(want, pt))
		}
	}
	got, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, got.At(i, j), test.ShouldAlmostEqual, want.At(i, j), 1e-6)
		}
	}
}

func TestEstimateHomographyRejectsCoincident(t *testing.T) {
	pts := []r2.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
	_, err := EstimateHomography(pts, pts)
	test.That(t, err, test.ShouldNotBeNil)
}

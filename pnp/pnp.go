// Package pnp recovers a camera pose from correspondences between points on
// a planar calibration target and their projections on the normalized image
// plane.
package pnp

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// planarEps is how far off the z=0 plane a target point may sit before the
// homography decomposition no longer applies.
const planarEps = 1e-9

// degenerateSigmaRatio rejects homography systems whose second-smallest
// singular value has collapsed, i.e. the points do not determine a unique
// homography.
const degenerateSigmaRatio = 1e-10

// SolvePlanar estimates the rigid transform from target coordinates to camera
// coordinates given target points on the z=0 plane and their normalized image
// projections (x/z, y/z). It returns the rotation as an axis-angle vector and
// the translation.
func SolvePlanar(p3ds []r3.Vector, p2ds []r2.Point) (r3.Vector, r3.Vector, error) {
	if len(p3ds) != len(p2ds) {
		return r3.Vector{}, r3.Vector{}, errors.Errorf(
			"point sets must have the same number of elements, got %d and %d", len(p3ds), len(p2ds))
	}
	if len(p3ds) < 4 {
		return r3.Vector{}, r3.Vector{}, errors.Errorf("pose estimation needs at least 4 points, got %d", len(p3ds))
	}
	src := make([]r2.Point, len(p3ds))
	for i, p := range p3ds {
		if math.Abs(p.Z) > planarEps {
			return r3.Vector{}, r3.Vector{}, errors.Errorf("target point %d is off the z=0 plane", i)
		}
		src[i] = r2.Point{X: p.X, Y: p.Y}
	}
	homog, err := EstimateHomography(src, p2ds)
	if err != nil {
		return r3.Vector{}, r3.Vector{}, err
	}

	h1 := r3.Vector{X: homog.At(0, 0), Y: homog.At(1, 0), Z: homog.At(2, 0)}
	h2 := r3.Vector{X: homog.At(0, 1), Y: homog.At(1, 1), Z: homog.At(2, 1)}
	h3 := r3.Vector{X: homog.At(0, 2), Y: homog.At(1, 2), Z: homog.At(2, 2)}
	// The target origin must sit in front of the camera; the DLT solution is
	// only determined up to sign.
	if h3.Z < 0 {
		h1, h2, h3 = h1.Mul(-1), h2.Mul(-1), h3.Mul(-1)
	}
	lambda := 2 / (h1.Norm() + h2.Norm())
	c1 := h1.Mul(lambda)
	c2 := h2.Mul(lambda)
	tvec := h3.Mul(lambda)
	c3 := c1.Cross(c2)

	rot, err := nearestRotation(mat.NewDense(3, 3, []float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	}))
	if err != nil {
		return r3.Vector{}, r3.Vector{}, err
	}

	front := 0
	for _, p := range p3ds {
		z := rot.At(2, 0)*p.X + rot.At(2, 1)*p.Y + rot.At(2, 2)*p.Z + tvec.Z
		if z > 0 {
			front++
		}
	}
	if 2*front <= len(p3ds) {
		return r3.Vector{}, r3.Vector{}, errors.New("recovered pose puts the target behind the camera")
	}
	return axisAngle(rot), tvec, nil
}

// EstimateHomography computes the homography mapping src points to dst points
// with the normalized direct linear transform.
func EstimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets must have the same number of elements, got %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("homography estimation needs at least 4 points, got %d", len(src))
	}
	normSrc, t1, err := normalizePoints(src)
	if err != nil {
		return nil, err
	}
	normDst, t2, err := normalizePoints(dst)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range normSrc {
		s := normSrc[i]
		d := normDst[i]
		a.SetRow(2*i, []float64{s.X, s.Y, 1, 0, 0, 0, -d.X * s.X, -d.X * s.Y, -d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, s.X, s.Y, 1, -d.Y * s.X, -d.Y * s.Y, -d.Y})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.New("failed to factorize homography system")
	}
	sigma := svd.Values(nil)
	if sigma[7] < degenerateSigmaRatio*sigma[0] {
		return nil, errors.New("points are in a degenerate configuration")
	}
	var v mat.Dense
	svd.VTo(&v)
	h := v.ColView(8)
	homog := mat.NewDense(3, 3, []float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), h.AtVec(8),
	})

	// Undo the normalization, H = T2^-1 Hhat T1, and put the result on the
	// canonical scale.
	var t2inv mat.Dense
	if err := t2inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization transform")
	}
	homog.Mul(&t2inv, homog)
	homog.Mul(homog, t1)
	if s := homog.At(2, 2); math.Abs(s) > 1e-12 {
		homog.Scale(1/s, homog)
	}
	return homog, nil
}

// normalizePoints centers the points on their centroid and scales them to a
// mean distance of sqrt(2), as in Multiple View Geometry, Alg 4.2. It returns
// the transformed points and the 3x3 transform that produced them.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	n := float64(len(pts))
	var mu r2.Point
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1 / n)
	d := 0.0
	for _, pt := range pts {
		x2 := (pt.X - mu.X) * (pt.X - mu.X)
		y2 := (pt.Y - mu.Y) * (pt.Y - mu.Y)
		d += math.Sqrt(x2+y2) / n
	}
	if d < 1e-12 {
		return nil, nil, errors.New("points are coincident")
	}
	scale := math.Sqrt(2) / d
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = r2.Point{X: scale * (pt.X - mu.X), Y: scale * (pt.Y - mu.Y)}
	}
	return out, t, nil
}

// nearestRotation projects a near-rotation matrix onto SO(3), R = U diag(1,
// 1, det(UV^T)) V^T.
func nearestRotation(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, errors.New("failed to factorize rotation")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	d := 1.0
	if mat.Det(&uvt) < 0 {
		d = -1
	}
	corr := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, d})
	var rot mat.Dense
	rot.Mul(&u, corr)
	rot.Mul(&rot, v.T())
	return &rot, nil
}

// axisAngle converts a rotation matrix to its axis-angle vector.
func axisAngle(rot *mat.Dense) r3.Vector {
	tr := rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2)
	cosTheta := (tr - 1) / 2
	if cosTheta > 1 {
		cosTheta = 1
	}
	if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)
	if theta < 1e-10 {
		return r3.Vector{}
	}
	if math.Pi-theta < 1e-6 {
		// Near a half turn the off-diagonal differences vanish; recover the
		// axis from (R+I)/2 = aa^T instead, using its largest column.
		col := 0
		for i := 1; i < 3; i++ {
			if rot.At(i, i) > rot.At(col, col) {
				col = i
			}
		}
		axis := r3.Vector{X: rot.At(0, col) / 2, Y: rot.At(1, col) / 2, Z: rot.At(2, col) / 2}
		switch col {
		case 0:
			axis.X += 0.5
		case 1:
			axis.Y += 0.5
		default:
			axis.Z += 0.5
		}
		return axis.Normalize().Mul(theta)
	}
	axis := r3.Vector{
		X: rot.At(2, 1) - rot.At(1, 2),
		Y: rot.At(0, 2) - rot.At(2, 0),
		Z: rot.At(1, 0) - rot.At(0, 1),
	}
	return axis.Mul(theta / (2 * math.Sin(theta)))
}

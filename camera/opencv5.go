package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

// OpenCV5 is the plain OpenCV pinhole model with three radial and two
// tangential coefficients (Brown-Conrady). It only projects points in front
// of the camera.
type OpenCV5 struct {
	dims
	params []float64 // fx fy cx cy k1 k2 p1 p2 k3
}

// NewOpenCV5 builds an OpenCV radial-tangential model from fx fy cx cy k1 k2 p1 p2 k3.
func NewOpenCV5(params []float64, width, height int) (*OpenCV5, error) {
	if err := checkParamLen(FamilyOpenCV5, params, 9); err != nil {
		return nil, err
	}
	return &OpenCV5{dims{width, height}, cloneParams(params)}, nil
}

// Family returns FamilyOpenCV5.
func (m *OpenCV5) Family() Family { return FamilyOpenCV5 }

// Params returns a copy of fx fy cx cy k1 k2 p1 p2 k3.
func (m *OpenCV5) Params() []float64 { return cloneParams(m.params) }

// SetParams replaces the parameter vector.
func (m *OpenCV5) SetParams(params []float64) error {
	if err := checkParamLen(FamilyOpenCV5, params, 9); err != nil {
		return err
	}
	m.params = cloneParams(params)
	return nil
}

// Clone returns a deep copy.
func (m *OpenCV5) Clone() Model {
	return &OpenCV5{m.dims, cloneParams(m.params)}
}

// CheckValid checks the parameters for a usable camera.
func (m *OpenCV5) CheckValid() error {
	return checkValidParams(FamilyOpenCV5, m.params, m.width, m.height)
}

// DistortionBounds keeps all five coefficients in the range where the
// distortion map stays invertible for real lenses.
func (m *OpenCV5) DistortionBounds() []ParamBound {
	return []ParamBound{
		{Index: 4, Lower: -1.0, Upper: 1.0},
		{Index: 5, Lower: -1.0, Upper: 1.0},
		{Index: 6, Lower: -1.0, Upper: 1.0},
		{Index: 7, Lower: -1.0, Upper: 1.0},
		{Index: 8, Lower: -1.0, Upper: 1.0},
	}
}

// opencv5Project is the Brown-Conrady forward model:
//
//	x_d = x' (1 + k1 r^2 + k2 r^4 + k3 r^6) + 2 p1 x' y' + p2 (r^2 + 2 x'^2)
//	y_d = y' (1 + k1 r^2 + k2 r^4 + k3 r^6) + p1 (r^2 + 2 y'^2) + 2 p2 x' y'
//
// over the normalized point (x', y') = (x/z, y/z).
func opencv5Project[T scalar.Field[T]](q []T, pt scalar.Vec3[T]) ([2]T, bool) {
	fx, fy, cx, cy := q[0], q[1], q[2], q[3]
	k1, k2, p1, p2, k3 := q[4], q[5], q[6], q[7], q[8]
	x, y, z := pt[0], pt[1], pt[2]
	var zero [2]T

	if z.Val() < projEps {
		return zero, false
	}
	xp := x.Div(z)
	yp := y.Div(z)
	r2v := xp.Mul(xp).Add(yp.Mul(yp))
	radial := k3.Mul(r2v).Add(k2).Mul(r2v).Add(k1).Mul(r2v).Add(k1.Const(1))
	two := k1.Const(2)
	xy := xp.Mul(yp)
	xd := xp.Mul(radial).Add(two.Mul(p1).Mul(xy)).Add(p2.Mul(r2v.Add(two.Mul(xp).Mul(xp))))
	yd := yp.Mul(radial).Add(p1.Mul(r2v.Add(two.Mul(yp).Mul(yp)))).Add(two.Mul(p2).Mul(xy))
	u := fx.Mul(xd).Add(cx)
	v := fy.Mul(yd).Add(cy)
	return [2]T{u, v}, true
}

// Project maps a camera-frame point to a pixel.
func (m *OpenCV5) Project(pt r3.Vector) (r2.Point, bool) {
	return m.ProjectAt(m.params, pt)
}

// ProjectAt is Project under an alternate parameter vector.
func (m *OpenCV5) ProjectAt(params []float64, pt r3.Vector) (r2.Point, bool) {
	uv, ok := opencv5Project(liftParams(params), scalar.Vec(pt))
	if !ok {
		return r2.Point{}, false
	}
	return pixel(uv), true
}

// ProjectDual is Project over dual numbers.
func (m *OpenCV5) ProjectDual(params []scalar.Dual, pt scalar.Vec3[scalar.Dual]) ([2]scalar.Dual, bool) {
	return opencv5Project(params, pt)
}

// Unproject maps a pixel to a unit ray by undistorting the normalized point
// with an iterative Newton-Raphson method on the forward distortion, then
// lifting onto the z=1 plane.
func (m *OpenCV5) Unproject(px r2.Point) (r3.Vector, bool) {
	fx, fy, cx, cy := m.params[0], m.params[1], m.params[2], m.params[3]
	k1, k2, p1, p2, k3 := m.params[4], m.params[5], m.params[6], m.params[7], m.params[8]
	xd := (px.X - cx) / fx
	yd := (px.Y - cy) / fy

	// Start with the distorted point as initial guess.
	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-10

	for i := 0; i < maxIterations; i++ {
		r2v := xu*xu + yu*yu
		r4 := r2v * r2v
		r6 := r4 * r2v

		radDist := 1.0 + k1*r2v + k2*r4 + k3*r6
		xdEst := xu*radDist + 2.0*p1*xu*yu + p2*(r2v+2.0*xu*xu)
		ydEst := yu*radDist + 2.0*p2*xu*yu + p1*(r2v+2.0*yu*yu)

		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		// Jacobian of the forward distortion, inverted in closed form.
		dRadDxu := 2.0 * xu * (k1 + 2.0*k2*r2v + 3.0*k3*r4)
		dRadDyu := 2.0 * yu * (k1 + 2.0*k2*r2v + 3.0*k3*r4)

		dxdDxu := radDist + xu*dRadDxu + 2.0*p1*yu + 6.0*p2*xu
		dxdDyu := xu*dRadDyu + 2.0*p1*xu + 2.0*p2*yu
		dydDxu := yu*dRadDxu + 2.0*p2*yu + 2.0*p1*xu
		dydDyu := radDist + yu*dRadDyu + 2.0*p2*xu + 6.0*p1*yu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}
	if math.IsNaN(xu) || math.IsInf(xu, 0) || math.IsNaN(yu) || math.IsInf(yu, 0) {
		return r3.Vector{}, false
	}
	return normRay(xu, yu, 1)
}

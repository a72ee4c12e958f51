package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

// KannalaBrandt is the 4-coefficient Kannala-Brandt fisheye model. The
// distortion is a polynomial in the incidence angle theta, so it stays
// well-behaved past 180 degrees of field of view where pinhole-based models
// break down.
type KannalaBrandt struct {
	dims
	params []float64 // fx fy cx cy k1 k2 k3 k4
}

// NewKannalaBrandt builds a Kannala-Brandt model from fx fy cx cy k1 k2 k3 k4.
func NewKannalaBrandt(params []float64, width, height int) (*KannalaBrandt, error) {
	if err := checkParamLen(FamilyKannalaBrandt, params, 8); err != nil {
		return nil, err
	}
	return &KannalaBrandt{dims{width, height}, cloneParams(params)}, nil
}

// Family returns FamilyKannalaBrandt.
func (m *KannalaBrandt) Family() Family { return FamilyKannalaBrandt }

// Params returns a copy of fx fy cx cy k1 k2 k3 k4.
func (m *KannalaBrandt) Params() []float64 { return cloneParams(m.params) }

// SetParams replaces the parameter vector.
func (m *KannalaBrandt) SetParams(params []float64) error {
	if err := checkParamLen(FamilyKannalaBrandt, params, 8); err != nil {
		return err
	}
	m.params = cloneParams(params)
	return nil
}

// Clone returns a deep copy.
func (m *KannalaBrandt) Clone() Model {
	return &KannalaBrandt{m.dims, cloneParams(m.params)}
}

// CheckValid checks the parameters for a usable camera.
func (m *KannalaBrandt) CheckValid() error {
	return checkValidParams(FamilyKannalaBrandt, m.params, m.width, m.height)
}

// DistortionBounds keeps the theta-polynomial coefficients in a range where
// the angle mapping stays invertible for practical lenses.
func (m *KannalaBrandt) DistortionBounds() []ParamBound {
	return []ParamBound{
		{Index: 4, Lower: -1.0, Upper: 1.0},
		{Index: 5, Lower: -1.0, Upper: 1.0},
		{Index: 6, Lower: -1.0, Upper: 1.0},
		{Index: 7, Lower: -1.0, Upper: 1.0},
	}
}

// kb4Project maps theta = atan2(r, z) through the odd polynomial
// thetaD = theta + k1 theta^3 + k2 theta^5 + k3 theta^7 + k4 theta^9.
// Only a point on the optical axis behind the camera has no projection.
func kb4Project[T scalar.Field[T]](q []T, pt scalar.Vec3[T]) ([2]T, bool) {
	fx, fy, cx, cy := q[0], q[1], q[2], q[3]
	k1, k2, k3, k4 := q[4], q[5], q[6], q[7]
	x, y, z := pt[0], pt[1], pt[2]
	var zero [2]T

	r := x.Mul(x).Add(y.Mul(y)).Sqrt()
	if r.Val() < projEps {
		if z.Val() <= 0 {
			return zero, false
		}
		return [2]T{cx, cy}, true
	}
	theta := r.Atan2(z)
	t2 := theta.Mul(theta)
	poly := k4.Mul(t2).Add(k3).Mul(t2).Add(k2).Mul(t2).Add(k1).Mul(t2).Add(k1.Const(1))
	scale := theta.Mul(poly).Div(r)
	u := fx.Mul(x.Mul(scale)).Add(cx)
	v := fy.Mul(y.Mul(scale)).Add(cy)
	return [2]T{u, v}, true
}

// Project maps a camera-frame point to a pixel.
func (m *KannalaBrandt) Project(pt r3.Vector) (r2.Point, bool) {
	return m.ProjectAt(m.params, pt)
}

// ProjectAt is Project under an alternate parameter vector.
func (m *KannalaBrandt) ProjectAt(params []float64, pt r3.Vector) (r2.Point, bool) {
	uv, ok := kb4Project(liftParams(params), scalar.Vec(pt))
	if !ok {
		return r2.Point{}, false
	}
	return pixel(uv), true
}

// ProjectDual is Project over dual numbers.
func (m *KannalaBrandt) ProjectDual(params []scalar.Dual, pt scalar.Vec3[scalar.Dual]) ([2]scalar.Dual, bool) {
	return kb4Project(params, pt)
}

// Unproject maps a pixel to a unit ray. The distorted angle is inverted with
// a Newton iteration on the theta polynomial.
func (m *KannalaBrandt) Unproject(px r2.Point) (r3.Vector, bool) {
	fx, fy, cx, cy := m.params[0], m.params[1], m.params[2], m.params[3]
	mx := (px.X - cx) / fx
	my := (px.Y - cy) / fy
	thetaD := math.Sqrt(mx*mx + my*my)
	if thetaD < projEps {
		return r3.Vector{X: 0, Y: 0, Z: 1}, true
	}

	theta, ok := m.solveTheta(thetaD)
	if !ok {
		return r3.Vector{}, false
	}
	s := math.Sin(theta) / thetaD
	return normRay(s*mx, s*my, math.Cos(theta))
}

// solveTheta inverts thetaD(theta) by Newton-Raphson, starting from the
// distorted angle itself.
func (m *KannalaBrandt) solveTheta(thetaD float64) (float64, bool) {
	k1, k2, k3, k4 := m.params[4], m.params[5], m.params[6], m.params[7]

	const maxIterations = 20
	const tolerance = 1e-10

	theta := thetaD
	for i := 0; i < maxIterations; i++ {
		t2 := theta * theta
		fVal := theta*(1+t2*(k1+t2*(k2+t2*(k3+t2*k4)))) - thetaD
		if math.Abs(fVal) < tolerance {
			break
		}
		fDeriv := 1 + t2*(3*k1+t2*(5*k2+t2*(7*k3+t2*9*k4)))
		if fDeriv == 0 {
			break
		}
		theta -= fVal / fDeriv
	}
	if math.IsNaN(theta) || math.IsInf(theta, 0) || theta < 0 || theta > math.Pi {
		return 0, false
	}
	return theta, true
}

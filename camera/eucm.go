package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

// EUCM is the extended unified camera model. It adds a beta parameter that
// stretches the projection ellipsoid, which fits wide fisheye lenses much
// more closely than UCM at the cost of one extra term.
type EUCM struct {
	dims
	params []float64 // fx fy cx cy alpha beta
}

// NewEUCM builds an extended unified camera model from fx fy cx cy alpha beta.
func NewEUCM(params []float64, width, height int) (*EUCM, error) {
	if err := checkParamLen(FamilyEUCM, params, 6); err != nil {
		return nil, err
	}
	return &EUCM{dims{width, height}, cloneParams(params)}, nil
}

// Family returns FamilyEUCM.
func (m *EUCM) Family() Family { return FamilyEUCM }

// Params returns a copy of fx fy cx cy alpha beta.
func (m *EUCM) Params() []float64 { return cloneParams(m.params) }

// SetParams replaces the parameter vector.
func (m *EUCM) SetParams(params []float64) error {
	if err := checkParamLen(FamilyEUCM, params, 6); err != nil {
		return err
	}
	m.params = cloneParams(params)
	return nil
}

// Clone returns a deep copy.
func (m *EUCM) Clone() Model {
	return &EUCM{m.dims, cloneParams(m.params)}
}

// CheckValid checks the parameters for a usable camera.
func (m *EUCM) CheckValid() error {
	return checkValidParams(FamilyEUCM, m.params, m.width, m.height)
}

// DistortionBounds keeps alpha in its blend range and beta positive.
func (m *EUCM) DistortionBounds() []ParamBound {
	return []ParamBound{
		{Index: 4, Lower: 1e-6, Upper: 1.0},
		{Index: 5, Lower: 1e-3, Upper: 10.0},
	}
}

// eucmProject generalizes ucmProject with d = sqrt(beta(x^2+y^2) + z^2).
func eucmProject[T scalar.Field[T]](q []T, pt scalar.Vec3[T]) ([2]T, bool) {
	fx, fy, cx, cy, alpha, beta := q[0], q[1], q[2], q[3], q[4], q[5]
	x, y, z := pt[0], pt[1], pt[2]
	var zero [2]T

	d := beta.Mul(x.Mul(x).Add(y.Mul(y))).Add(z.Mul(z)).Sqrt()
	denom := alpha.Mul(d).Add(alpha.Const(1).Sub(alpha).Mul(z))
	if !blendValid(alpha.Val(), d.Val(), z.Val(), denom.Val()) {
		return zero, false
	}
	u := fx.Mul(x.Div(denom)).Add(cx)
	v := fy.Mul(y.Div(denom)).Add(cy)
	return [2]T{u, v}, true
}

// Project maps a camera-frame point to a pixel.
func (m *EUCM) Project(pt r3.Vector) (r2.Point, bool) {
	return m.ProjectAt(m.params, pt)
}

// ProjectAt is Project under an alternate parameter vector.
func (m *EUCM) ProjectAt(params []float64, pt r3.Vector) (r2.Point, bool) {
	uv, ok := eucmProject(liftParams(params), scalar.Vec(pt))
	if !ok {
		return r2.Point{}, false
	}
	return pixel(uv), true
}

// ProjectDual is Project over dual numbers.
func (m *EUCM) ProjectDual(params []scalar.Dual, pt scalar.Vec3[scalar.Dual]) ([2]scalar.Dual, bool) {
	return eucmProject(params, pt)
}

// Unproject maps a pixel to a unit ray.
func (m *EUCM) Unproject(px r2.Point) (r3.Vector, bool) {
	fx, fy, cx, cy := m.params[0], m.params[1], m.params[2], m.params[3]
	alpha, beta := m.params[4], m.params[5]
	mx := (px.X - cx) / fx
	my := (px.Y - cy) / fy
	r2v := mx*mx + my*my

	s := 1 - (2*alpha-1)*beta*r2v
	if s < 0 {
		return r3.Vector{}, false
	}
	den := alpha*math.Sqrt(s) + 1 - alpha
	if den < projEps {
		return r3.Vector{}, false
	}
	mz := (1 - beta*alpha*alpha*r2v) / den
	return normRay(mx, my, mz)
}

package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

// UCM is the unified camera model. A single alpha parameter blends between a
// pinhole (alpha 0) and a full catadioptric projection, which is enough to
// cover most fisheye lenses with only five parameters.
type UCM struct {
	dims
	params []float64 // fx fy cx cy alpha
}

// NewUCM builds a unified camera model from fx fy cx cy alpha.
func NewUCM(params []float64, width, height int) (*UCM, error) {
	if err := checkParamLen(FamilyUCM, params, 5); err != nil {
		return nil, err
	}
	return &UCM{dims{width, height}, cloneParams(params)}, nil
}

// Family returns FamilyUCM.
func (m *UCM) Family() Family { return FamilyUCM }

// Params returns a copy of fx fy cx cy alpha.
func (m *UCM) Params() []float64 { return cloneParams(m.params) }

// SetParams replaces the parameter vector.
func (m *UCM) SetParams(params []float64) error {
	if err := checkParamLen(FamilyUCM, params, 5); err != nil {
		return err
	}
	m.params = cloneParams(params)
	return nil
}

// Clone returns a deep copy.
func (m *UCM) Clone() Model {
	return &UCM{m.dims, cloneParams(m.params)}
}

// CheckValid checks the parameters for a usable camera.
func (m *UCM) CheckValid() error {
	return checkValidParams(FamilyUCM, m.params, m.width, m.height)
}

// DistortionBounds bounds alpha away from zero so the seed solve cannot
// collapse to a degenerate pinhole with an unconstrained focal.
func (m *UCM) DistortionBounds() []ParamBound {
	return []ParamBound{{Index: 4, Lower: 1e-6, Upper: 1.0}}
}

// ucmProject is the projection formula over any scalar field. The validity
// condition z > -w*d bounds the projection to the half-space where the model
// is injective; see the double sphere camera model paper for the derivation.
func ucmProject[T scalar.Field[T]](q []T, pt scalar.Vec3[T]) ([2]T, bool) {
	fx, fy, cx, cy, alpha := q[0], q[1], q[2], q[3], q[4]
	x, y, z := pt[0], pt[1], pt[2]
	var zero [2]T

	d := x.Mul(x).Add(y.Mul(y)).Add(z.Mul(z)).Sqrt()
	denom := alpha.Mul(d).Add(alpha.Const(1).Sub(alpha).Mul(z))
	if !blendValid(alpha.Val(), d.Val(), z.Val(), denom.Val()) {
		return zero, false
	}
	u := fx.Mul(x.Div(denom)).Add(cx)
	v := fy.Mul(y.Div(denom)).Add(cy)
	return [2]T{u, v}, true
}

// blendValid is the shared validity test for the alpha-blended models.
func blendValid(alpha, d, z, denom float64) bool {
	if denom < projEps {
		return false
	}
	var w float64
	if alpha <= 0.5 {
		w = alpha / (1 - alpha)
	} else {
		w = (1 - alpha) / alpha
	}
	return z > -w*d
}

// Project maps a camera-frame point to a pixel.
func (m *UCM) Project(pt r3.Vector) (r2.Point, bool) {
	return m.ProjectAt(m.params, pt)
}

// ProjectAt is Project under an alternate parameter vector.
func (m *UCM) ProjectAt(params []float64, pt r3.Vector) (r2.Point, bool) {
	uv, ok := ucmProject(liftParams(params), scalar.Vec(pt))
	if !ok {
		return r2.Point{}, false
	}
	return pixel(uv), true
}

// ProjectDual is Project over dual numbers.
func (m *UCM) ProjectDual(params []scalar.Dual, pt scalar.Vec3[scalar.Dual]) ([2]scalar.Dual, bool) {
	return ucmProject(params, pt)
}

// Unproject maps a pixel to a unit ray.
func (m *UCM) Unproject(px r2.Point) (r3.Vector, bool) {
	fx, fy, cx, cy, alpha := m.params[0], m.params[1], m.params[2], m.params[3], m.params[4]
	mx := (px.X - cx) / fx
	my := (px.Y - cy) / fy
	r2v := mx*mx + my*my

	s := 1 - (2*alpha-1)*r2v
	if s < 0 {
		return r3.Vector{}, false
	}
	den := alpha*math.Sqrt(s) + 1 - alpha
	if den < projEps {
		return r3.Vector{}, false
	}
	mz := (1 - alpha*alpha*r2v) / den
	return normRay(mx, my, mz)
}

// normRay scales (mx, my, mz) to a unit ray.
func normRay(mx, my, mz float64) (r3.Vector, bool) {
	n := math.Sqrt(mx*mx + my*my + mz*mz)
	if n < projEps {
		return r3.Vector{}, false
	}
	return r3.Vector{X: mx / n, Y: my / n, Z: mz / n}, true
}

package scalar

import (
	"github.com/golang/geo/r3"
)

// Vec3 is a 3-vector over a scalar field.
type Vec3[T Field[T]] [3]T

// LiftVec lifts an r3.Vector into Dual constants.
func LiftVec(v r3.Vector) Vec3[Dual] {
	return Vec3[Dual]{Lift(v.X), Lift(v.Y), Lift(v.Z)}
}

// Vec converts an r3.Vector into the plain field.
func Vec(v r3.Vector) Vec3[F64] {
	return Vec3[F64]{F64(v.X), F64(v.Y), F64(v.Z)}
}

// Add returns a+b componentwise.
func (a Vec3[T]) Add(b Vec3[T]) Vec3[T] {
	return Vec3[T]{a[0].Add(b[0]), a[1].Add(b[1]), a[2].Add(b[2])}
}

// Scale returns a scaled by s.
func (a Vec3[T]) Scale(s T) Vec3[T] {
	return Vec3[T]{a[0].Mul(s), a[1].Mul(s), a[2].Mul(s)}
}

// Dot returns the dot product of a and b.
func (a Vec3[T]) Dot(b Vec3[T]) T {
	return a[0].Mul(b[0]).Add(a[1].Mul(b[1])).Add(a[2].Mul(b[2]))
}

// Cross returns the cross product of a and b.
func (a Vec3[T]) Cross(b Vec3[T]) Vec3[T] {
	return Vec3[T]{
		a[1].Mul(b[2]).Sub(a[2].Mul(b[1])),
		a[2].Mul(b[0]).Sub(a[0].Mul(b[2])),
		a[0].Mul(b[1]).Sub(a[1].Mul(b[0])),
	}
}

// smallAngleThresh is the squared angle below which Rotate switches to the
// first-order series; sqrt is not differentiable at zero so the closed form
// cannot be used for a zero rotation vector.
const smallAngleThresh = 1e-14

// Rotate applies the axis-angle rotation rvec to point p using the Rodrigues
// formula, p cos(t) + (k x p) sin(t) + k (k . p)(1 - cos(t)) with k the unit
// axis and t the angle. Written against the scalar field so the same code
// produces derivatives under Dual.
func Rotate[T Field[T]](rvec, p Vec3[T]) Vec3[T] {
	theta2 := rvec.Dot(rvec)
	if theta2.Val() < smallAngleThresh {
		// First-order series p + rvec x p; second-order terms vanish in
		// both value and first derivative at rvec = 0.
		return p.Add(rvec.Cross(p))
	}
	theta := theta2.Sqrt()
	k := rvec.Scale(theta.Const(1).Div(theta))
	cosT := theta.Cos()
	sinT := theta.Sin()
	oneMinus := theta.Const(1).Sub(cosT)
	out := p.Scale(cosT)
	out = out.Add(k.Cross(p).Scale(sinT))
	return out.Add(k.Scale(k.Dot(p).Mul(oneMinus)))
}

// RotateVec is the plain-float instantiation of Rotate on r3 vectors.
func RotateVec(rvec, p r3.Vector) r3.Vector {
	out := Rotate(Vec(rvec), Vec(p))
	return r3.Vector{X: out[0].Val(), Y: out[1].Val(), Z: out[2].Val()}
}

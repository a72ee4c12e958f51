// Package scalar provides the numeric field the camera projection formulas are
// written against, so that one formula evaluates under plain float64 or under
// forward-mode dual numbers carrying a derivative.
package scalar

import (
	"math"

	"gonum.org/v1/gonum/num/dual"
)

// Field is the arithmetic capability a projection formula needs from its
// scalar type. F64 implements it for plain evaluation and Dual for
// gradient-bearing evaluation.
type Field[T any] interface {
	Add(T) T
	Sub(T) T
	Mul(T) T
	Div(T) T
	Neg() T
	Sqrt() T
	Sin() T
	Cos() T
	// Atan2 treats the receiver as y and the argument as x.
	Atan2(T) T
	// Val is the plain value, with any derivative dropped.
	Val() float64
	// Const lifts a constant into the same field as the receiver.
	Const(float64) T
}

// F64 is the plain evaluation scalar.
type F64 float64

// Add returns a+b.
func (a F64) Add(b F64) F64 { return a + b }

// Sub returns a-b.
func (a F64) Sub(b F64) F64 { return a - b }

// Mul returns a*b.
func (a F64) Mul(b F64) F64 { return a * b }

// Div returns a/b.
func (a F64) Div(b F64) F64 { return a / b }

// Neg returns -a.
func (a F64) Neg() F64 { return -a }

// Sqrt returns the square root of a.
func (a F64) Sqrt() F64 { return F64(math.Sqrt(float64(a))) }

// Sin returns the sine of a.
func (a F64) Sin() F64 { return F64(math.Sin(float64(a))) }

// Cos returns the cosine of a.
func (a F64) Cos() F64 { return F64(math.Cos(float64(a))) }

// Atan2 returns atan2(a, b).
func (a F64) Atan2(b F64) F64 { return F64(math.Atan2(float64(a), float64(b))) }

// Val returns the plain value.
func (a F64) Val() float64 { return float64(a) }

// Const lifts c into F64.
func (a F64) Const(c float64) F64 { return F64(c) }

// Dual is the gradient-bearing scalar. It wraps gonum's dual number and
// delegates the nonlinear operations to the dual package; the linear ones are
// componentwise by the definition of dual arithmetic.
type Dual dual.Number

// Add returns a+b.
func (a Dual) Add(b Dual) Dual { return Dual{Real: a.Real + b.Real, Emag: a.Emag + b.Emag} }

// Sub returns a-b.
func (a Dual) Sub(b Dual) Dual { return Dual{Real: a.Real - b.Real, Emag: a.Emag - b.Emag} }

// Mul returns a*b.
func (a Dual) Mul(b Dual) Dual { return Dual(dual.Mul(dual.Number(a), dual.Number(b))) }

// Div returns a/b.
func (a Dual) Div(b Dual) Dual {
	return Dual(dual.Mul(dual.Number(a), dual.Inv(dual.Number(b))))
}

// Neg returns -a.
func (a Dual) Neg() Dual { return Dual{Real: -a.Real, Emag: -a.Emag} }

// Sqrt returns the square root of a.
func (a Dual) Sqrt() Dual { return Dual(dual.Sqrt(dual.Number(a))) }

// Sin returns the sine of a.
func (a Dual) Sin() Dual { return Dual(dual.Sin(dual.Number(a))) }

// Cos returns the cosine of a.
func (a Dual) Cos() Dual { return Dual(dual.Cos(dual.Number(a))) }

// Atan2 returns atan2(a, b). The derivative is computed from the closed form
// d atan2(y,x) = (x dy - y dx) / (x^2 + y^2), which stays defined on the
// negative x axis where the atan(y/x) rewrite does not.
func (a Dual) Atan2(b Dual) Dual {
	den := a.Real*a.Real + b.Real*b.Real
	return Dual{
		Real: math.Atan2(a.Real, b.Real),
		Emag: (b.Real*a.Emag - a.Real*b.Emag) / den,
	}
}

// Val returns the plain value, dropping the derivative.
func (a Dual) Val() float64 { return a.Real }

// Const lifts c into Dual with a zero derivative.
func (a Dual) Const(c float64) Dual { return Dual{Real: c} }

// Lift returns v as a Dual constant (zero derivative).
func Lift(v float64) Dual { return Dual{Real: v} }

// Seeded returns v as a Dual carrying derivative 1, i.e. the variable a
// gradient is being taken with respect to.
func Seeded(v float64) Dual { return Dual{Real: v, Emag: 1} }

// LiftSlice lifts a float vector into Dual constants.
func LiftSlice(vs []float64) []Dual {
	out := make([]Dual, len(vs))
	for i, v := range vs {
		out[i] = Lift(v)
	}
	return out
}

package optimize

import "math"

// Loss reshapes the squared norm of a residual before it enters the total
// cost, so that large residuals can be down-weighted.
type Loss interface {
	// Rho maps the squared residual norm to its cost contribution.
	Rho(s float64) float64
	// DRho is the derivative of Rho with respect to the squared norm.
	DRho(s float64) float64
}

// HuberLoss is quadratic for residual norms up to Delta and linear beyond it.
type HuberLoss struct {
	Delta float64
}

// NewHuberLoss returns a Huber loss with the given outlier threshold on the
// residual norm.
func NewHuberLoss(delta float64) *HuberLoss {
	return &HuberLoss{Delta: delta}
}

// Rho maps the squared residual norm to its cost contribution.
func (l *HuberLoss) Rho(s float64) float64 {
	d2 := l.Delta * l.Delta
	if s <= d2 {
		return s
	}
	return 2*l.Delta*math.Sqrt(s) - d2
}

// DRho is the derivative of Rho with respect to the squared norm.
func (l *HuberLoss) DRho(s float64) float64 {
	d2 := l.Delta * l.Delta
	if s <= d2 {
		return 1
	}
	return l.Delta / math.Sqrt(s)
}

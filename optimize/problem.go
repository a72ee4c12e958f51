// Package optimize provides the nonlinear least-squares machinery the
// calibrator refines camera parameters with. A Problem collects parameter
// blocks and residual terms; a Solver minimizes the total cost with nlopt,
// differentiating the residuals with forward-mode dual numbers.
package optimize

import (
	"math"

	"github.com/pkg/errors"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

// BlockID is the handle of a parameter block registered with a Problem.
type BlockID int

// Residual is one term of the least-squares cost, evaluated over the
// parameter blocks it references. The boolean return is false where the term
// is undefined at the current iterate, which drops it from the cost.
type Residual interface {
	// Dim is the length of the residual vector.
	Dim() int
	// Blocks lists the parameter blocks the term reads, in the order
	// Evaluate receives them.
	Blocks() []BlockID
	Evaluate(blocks [][]float64) ([]float64, bool)
	// EvaluateDual is Evaluate over dual numbers, for derivative evaluation.
	EvaluateDual(blocks [][]scalar.Dual) ([]scalar.Dual, bool)
}

type paramBlock struct {
	label  string
	values []float64
	lower  []float64
	upper  []float64
	fixed  []bool
}

type residualTerm struct {
	res  Residual
	loss Loss
}

// Problem is a nonlinear least-squares problem under construction.
type Problem struct {
	blocks []*paramBlock
	terms  []residualTerm
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{}
}

// AddBlock registers a parameter block seeded with the given values and
// returns its handle. The values are copied. The label only appears in error
// messages.
func (p *Problem) AddBlock(label string, values []float64) BlockID {
	n := len(values)
	b := &paramBlock{
		label:  label,
		values: append([]float64(nil), values...),
		lower:  make([]float64, n),
		upper:  make([]float64, n),
		fixed:  make([]bool, n),
	}
	for i := 0; i < n; i++ {
		b.lower[i] = math.Inf(-1)
		b.upper[i] = math.Inf(1)
	}
	p.blocks = append(p.blocks, b)
	return BlockID(len(p.blocks) - 1)
}

// SetBounds constrains one scalar of a block to [lower, upper].
func (p *Problem) SetBounds(id BlockID, idx int, lower, upper float64) error {
	b, err := p.block(id)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(b.values) {
		return errors.Errorf("block %q has no scalar %d", b.label, idx)
	}
	if lower > upper {
		return errors.Errorf("block %q scalar %d has inverted bounds [%v, %v]", b.label, idx, lower, upper)
	}
	b.lower[idx] = lower
	b.upper[idx] = upper
	return nil
}

// Fix pins one scalar of a block to the given value. The solver will hold it
// there exactly.
func (p *Problem) Fix(id BlockID, idx int, value float64) error {
	b, err := p.block(id)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(b.values) {
		return errors.Errorf("block %q has no scalar %d", b.label, idx)
	}
	b.values[idx] = value
	b.fixed[idx] = true
	return nil
}

// SetValues replaces a block's current values, e.g. to restart a solve from
// an earlier result. The length must match the block.
func (p *Problem) SetValues(id BlockID, values []float64) error {
	b, err := p.block(id)
	if err != nil {
		return err
	}
	if len(values) != len(b.values) {
		return errors.Errorf("block %q has %d scalars, got %d", b.label, len(b.values), len(values))
	}
	copy(b.values, values)
	return nil
}

// AddResidual adds one cost term. A nil loss leaves the squared norm
// unshaped.
func (p *Problem) AddResidual(res Residual, loss Loss) error {
	if res.Dim() <= 0 {
		return errors.Errorf("residual must have a positive dimension, got %d", res.Dim())
	}
	for _, id := range res.Blocks() {
		if _, err := p.block(id); err != nil {
			return err
		}
	}
	p.terms = append(p.terms, residualTerm{res: res, loss: loss})
	return nil
}

func (p *Problem) block(id BlockID) (*paramBlock, error) {
	if int(id) < 0 || int(id) >= len(p.blocks) {
		return nil, errors.Errorf("no parameter block with id %d", id)
	}
	return p.blocks[id], nil
}

package optimize

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

// ErrNoSolution is returned when the optimizer cannot drive the problem to a
// stationary point.
var ErrNoSolution = errors.New("optimizer could not solve the problem")

const (
	defaultMaxEval = 5000
	defaultFtolRel = 1e-14
	defaultFtolAbs = 1e-16
	defaultXtolRel = 1e-12
)

// Solver minimizes a Problem with nlopt's gradient-based SLSQP. One solver
// can be reused across problems.
type Solver struct {
	// MaxEval caps the number of objective evaluations per solve.
	MaxEval int
	FtolRel float64
	FtolAbs float64
	XtolRel float64

	logger golog.Logger
}

// NewSolver returns a solver with the default stopping criteria.
func NewSolver(logger golog.Logger) *Solver {
	return &Solver{
		MaxEval: defaultMaxEval,
		FtolRel: defaultFtolRel,
		FtolAbs: defaultFtolAbs,
		XtolRel: defaultXtolRel,
		logger:  logger,
	}
}

// freeScalar addresses one optimizable scalar inside a problem's blocks.
type freeScalar struct {
	block int
	idx   int
}

type solveResult struct {
	solution []float64
	score    float64
	err      error
}

// Solve minimizes the problem's total cost and returns the refined values of
// every block. Fixed scalars are held exactly; free scalars are clamped into
// their bounds before the first iteration.
func (s *Solver) Solve(ctx context.Context, p *Problem) (map[BlockID][]float64, error) {
	if len(p.terms) == 0 {
		return nil, errors.New("problem has no residuals")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	working := make([][]float64, len(p.blocks))
	for i, b := range p.blocks {
		working[i] = append([]float64(nil), b.values...)
	}

	// Flatten the free scalars into the vector nlopt sees. freePos maps a
	// (block, scalar) pair back to its slot, -1 where the scalar is fixed.
	var free []freeScalar
	var lower, upper, x0 []float64
	freePos := make([][]int, len(p.blocks))
	for bi, b := range p.blocks {
		freePos[bi] = make([]int, len(b.values))
		for i := range b.values {
			freePos[bi][i] = -1
			if b.fixed[i] {
				continue
			}
			lo, hi := b.lower[i], b.upper[i]
			v := working[bi][i]
			if v < lo {
				v = lo
			}
			if v > hi {
				v = hi
			}
			working[bi][i] = v
			freePos[bi][i] = len(free)
			free = append(free, freeScalar{block: bi, idx: i})
			lower = append(lower, lo)
			upper = append(upper, hi)
			x0 = append(x0, v)
		}
	}
	if len(free) == 0 {
		return blockValues(working), nil
	}

	apply := func(x []float64) {
		for k, f := range free {
			working[f.block][f.idx] = x[k]
		}
	}

	evaluations := 0
	minFunc := func(x, gradient []float64) float64 {
		evaluations++
		apply(x)
		for i := range gradient {
			gradient[i] = 0
		}
		var cost float64
		for _, term := range p.terms {
			ids := term.res.Blocks()
			views := make([][]float64, len(ids))
			for i, id := range ids {
				views[i] = working[id]
			}
			r, ok := term.res.Evaluate(views)
			if !ok {
				continue
			}
			sq := floats.Dot(r, r)
			w := 1.0
			if term.loss != nil {
				cost += term.loss.Rho(sq)
				w = term.loss.DRho(sq)
			} else {
				cost += sq
			}
			if len(gradient) == 0 {
				continue
			}

			// One forward-mode pass per free scalar the term references:
			// seed it, differentiate the residual, accumulate the chain
			// rule d/dx rho(|r|^2) = rho' * 2 r . dr/dx.
			duals := make([][]scalar.Dual, len(ids))
			for i, id := range ids {
				duals[i] = scalar.LiftSlice(working[id])
			}
			for i, id := range ids {
				for j := range duals[i] {
					k := freePos[id][j]
					if k < 0 {
						continue
					}
					duals[i][j].Emag = 1
					dr, ok := term.res.EvaluateDual(duals)
					duals[i][j].Emag = 0
					if !ok {
						continue
					}
					var g float64
					for d, rd := range dr {
						g += r[d] * rd.Emag
					}
					gradient[k] += 2 * w * g
				}
			}
		}
		return cost
	}

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(len(free)))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	err = multierr.Combine(
		opt.SetFtolRel(s.FtolRel),
		opt.SetFtolAbs(s.FtolAbs),
		opt.SetXtolRel(s.XtolRel),
		opt.SetLowerBounds(lower),
		opt.SetUpperBounds(upper),
		opt.SetMinObjective(minFunc),
		opt.SetMaxEval(s.MaxEval),
	)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	solveChan := make(chan solveResult, 1)
	wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		solution, score, optErr := opt.Optimize(x0)
		solveChan <- solveResult{solution: solution, score: score, err: optErr}
	})
	select {
	case <-ctx.Done():
		stopErr := opt.ForceStop()
		wg.Wait()
		return nil, multierr.Combine(ctx.Err(), stopErr)
	case res := <-solveChan:
		if res.err != nil {
			return nil, multierr.Combine(ErrNoSolution, res.err)
		}
		apply(res.solution)
		s.logger.Debugw("solve finished", "free scalars", len(free), "evaluations", evaluations, "cost", res.score)
	}
	return blockValues(working), nil
}

func blockValues(working [][]float64) map[BlockID][]float64 {
	out := make(map[BlockID][]float64, len(working))
	for i, vals := range working {
		out[BlockID(i)] = append([]float64(nil), vals...)
	}
	return out
}

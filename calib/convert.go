package calib

import (
	"context"
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/powei-lin/camera-intrinsic/camera"
	"github.com/powei-lin/camera-intrinsic/optimize"
)

// DefaultGridDensity is roughly how many rays ConvertModel samples along the
// longer image dimension.
const DefaultGridDensity = 30

// ConvertOptions controls model conversion.
type ConvertOptions struct {
	// DisabledDistortions pins that many trailing distortion parameters of
	// the target to zero.
	DisabledDistortions int
	// GridDensity overrides DefaultGridDensity when positive.
	GridDensity int
}

// ConvertModel refits the target model so it projects like the source model,
// over a pixel grid unprojected through the source. The target is updated in
// place; its focal lengths and principal point start from the source's. Both
// models must share an image size, callers converting between sizes have a
// bug.
func (c *Calibrator) ConvertModel(ctx context.Context, source, target camera.Model, opts ConvertOptions) error {
	if source.Width() != target.Width() || source.Height() != target.Height() {
		panic(fmt.Sprintf("converting between image sizes %dx%d and %dx%d",
			source.Width(), source.Height(), target.Width(), target.Height()))
	}
	density := opts.GridDensity
	if density <= 0 {
		density = DefaultGridDensity
	}
	longer := max(source.Width(), source.Height())
	edge := longer / 100
	stride := max(longer/density, 1)

	srcParams := source.Params()
	targetInit := target.Params()
	copy(targetInit[:4], srcParams[:4])

	problem := optimize.NewProblem()
	paramsID := problem.AddBlock("params", targetInit)
	rays := 0
	for y := edge; y < source.Height()-edge; y += stride {
		for x := edge; x < source.Width()-edge; x += stride {
			ray, ok := source.Unproject(r2.Point{X: float64(x), Y: float64(y)})
			if !ok {
				continue
			}
			factor := NewConvertFactor(source, target, ray, paramsID)
			if err := problem.AddResidual(factor, optimize.NewHuberLoss(1)); err != nil {
				return err
			}
			rays++
		}
	}
	if rays == 0 {
		return errors.New("source model unprojects none of the sample grid")
	}
	if err := applyParamBounds(problem, paramsID, target, false); err != nil {
		return err
	}
	if err := disableTrailingDistortions(problem, paramsID, len(targetInit), opts.DisabledDistortions); err != nil {
		return err
	}

	result, err := c.Solver.Solve(ctx, problem)
	if err != nil {
		return errors.Wrapf(err, "converting %s to %s over %d rays", source.Family(), target.Family(), rays)
	}
	return target.SetParams(result[paramsID])
}

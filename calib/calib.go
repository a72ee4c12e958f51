// Package calib runs the camera calibration pipeline: bootstrap an initial
// unified-model estimate from two views of the planar target, jointly refine
// the intrinsics with one pose per frame, optionally convert the result to
// another model family, and score the fit by reprojection error.
package calib

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/powei-lin/camera-intrinsic/optimize"
	"github.com/powei-lin/camera-intrinsic/pnp"
)

// ErrInitializationFailed reports that a two-frame bootstrap could not
// produce a starting camera model. Callers may retry with a different frame
// pair.
var ErrInitializationFailed = errors.New("camera initialization failed")

// Solver is the nonlinear least-squares capability the pipeline refines
// parameters with.
type Solver interface {
	Solve(ctx context.Context, p *optimize.Problem) (map[optimize.BlockID][]float64, error)
}

// PoseFunc estimates the pose of the planar target from target-plane points
// and their unit-plane projections.
type PoseFunc func(p3ds []r3.Vector, p2ds []r2.Point) (rvec, tvec r3.Vector, err error)

// Calibrator estimates camera intrinsics from detected target features. The
// collaborator fields are exported so callers can swap in their own solver,
// pose estimator, or observer.
type Calibrator struct {
	Solver     Solver
	PoseSolver PoseFunc
	Observer   Observer

	logger golog.Logger
}

// New returns a calibrator with the default solver and planar pose estimator.
func New(logger golog.Logger) *Calibrator {
	return &Calibrator{
		Solver:     optimize.NewSolver(logger),
		PoseSolver: pnp.SolvePlanar,
		Observer:   NoopObserver{},
		logger:     logger,
	}
}

package calib

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/powei-lin/camera-intrinsic/camera"
	"github.com/powei-lin/camera-intrinsic/detect"
	"github.com/powei-lin/camera-intrinsic/optimize"
)

// InitCamera bootstraps a unified camera model from two frames. It estimates
// a shared division-model distortion and the inter-frame homography, reads a
// focal length off the homography, then refines focal and alpha with both
// frame poses. A positive fixedFocal pins the focal length in pixels instead
// of estimating it. Failures that a different frame pair might avoid wrap
// ErrInitializationFailed.
func (c *Calibrator) InitCamera(ctx context.Context, ff0, ff1 *detect.FrameFeature, fixedFocal float64) (camera.Model, error) {
	if ff0 == nil || ff1 == nil {
		return nil, errors.Wrap(ErrInitializationFailed, "both bootstrap frames need detections")
	}
	lambda, homog, err := radialDistortionHomography(ff0, ff1)
	if err != nil {
		return nil, multierr.Combine(ErrInitializationFailed, err)
	}
	unitFocal, ok := homographyToFocal(homog)
	if !ok {
		return nil, errors.Wrap(ErrInitializationFailed, "homography admits no focal length")
	}

	pose0, err := c.initPose(ff0, lambda)
	if err != nil {
		return nil, multierr.Combine(ErrInitializationFailed, err)
	}
	pose1, err := c.initPose(ff1, lambda)
	if err != nil {
		return nil, multierr.Combine(ErrInitializationFailed, err)
	}

	initF := unitFocal * float64(max(ff0.Width, ff0.Height)) / 2
	if fixedFocal > 0 {
		initF = fixedFocal
	}
	initAlpha := math.Abs(lambda)
	c.logger.Debugw("bootstrapped initial estimate",
		"lambda", lambda, "initial focal", initF, "initial alpha", initAlpha)

	return c.initUCM(ctx, ff0, ff1, pose0, pose1, initF, initAlpha, fixedFocal)
}

// initPose seeds one frame's pose from its division-undistorted detections.
func (c *Calibrator) initPose(ff *detect.FrameFeature, lambda float64) (Pose, error) {
	norm := newUnitNorm(ff.Width, ff.Height)
	ids := ff.SortedIDs()
	p3ds := make([]r3.Vector, 0, len(ids))
	p2ds := make([]r2.Point, 0, len(ids))
	for _, id := range ids {
		fp := ff.Features[id]
		und, ok := divisionUndistort(norm.apply(fp.P2D), lambda)
		if !ok {
			continue
		}
		p3ds = append(p3ds, fp.P3D)
		p2ds = append(p2ds, und)
	}
	rvec, tvec, err := c.PoseSolver(p3ds, p2ds)
	if err != nil {
		return Pose{}, errors.Wrap(err, "seeding bootstrap pose")
	}
	return Pose{Rvec: rvec, Tvec: tvec}, nil
}

// initUCM solves the two-parameter seed problem, focal and alpha with the
// principal point pinned to the image center, then refines the resulting
// model jointly over both frames.
func (c *Calibrator) initUCM(
	ctx context.Context,
	ff0, ff1 *detect.FrameFeature,
	pose0, pose1 Pose,
	initF, initAlpha, fixedFocal float64,
) (camera.Model, error) {
	halfW := float64(ff0.Width) / 2
	halfH := float64(ff0.Height) / 2
	template, err := camera.NewUCM([]float64{initF, initF, halfW, halfH, initAlpha}, ff0.Width, ff0.Height)
	if err != nil {
		return nil, err
	}

	problem := optimize.NewProblem()
	paramsID := problem.AddBlock("params", []float64{initF, initAlpha})
	poseIDs := make([][2]optimize.BlockID, 2)
	for i, p := range []Pose{pose0, pose1} {
		poseIDs[i] = [2]optimize.BlockID{
			problem.AddBlock("rvec", vec3Slice(p.Rvec)),
			problem.AddBlock("tvec", vec3Slice(p.Tvec)),
		}
	}
	for i, ff := range []*detect.FrameFeature{ff0, ff1} {
		for _, id := range ff.SortedIDs() {
			fp := ff.Features[id]
			factor := NewUCMFocalAlphaFactor(template, fp.P3D, fp.P2D, paramsID, poseIDs[i][0], poseIDs[i][1])
			if err := problem.AddResidual(factor, optimize.NewHuberLoss(1)); err != nil {
				return nil, err
			}
		}
	}
	err = multierr.Combine(
		problem.SetBounds(paramsID, 0, initF/3, initF*3),
		problem.SetBounds(paramsID, 1, 1e-6, 1),
	)
	if err != nil {
		return nil, err
	}
	if fixedFocal > 0 {
		if err := problem.Fix(paramsID, 0, initF); err != nil {
			return nil, err
		}
	}

	result, err := c.Solver.Solve(ctx, problem)
	if err != nil {
		return nil, multierr.Combine(ErrInitializationFailed, err)
	}
	focal, alpha := result[paramsID][0], result[paramsID][1]
	if focal <= 0 {
		return nil, errors.Wrap(ErrInitializationFailed, "seed solve collapsed to a zero focal length")
	}
	c.logger.Debugw("seed solve finished", "focal", focal, "alpha", alpha)

	seed, err := camera.NewUCM([]float64{focal, focal, halfW, halfH, alpha}, ff0.Width, ff0.Height)
	if err != nil {
		return nil, err
	}
	refined, _, err := c.Calibrate(ctx, []*detect.FrameFeature{ff0, ff1}, seed, Options{
		XYSameFocal: true,
		FixedFocal:  fixedFocal,
	})
	if err != nil {
		return nil, multierr.Combine(ErrInitializationFailed, err)
	}
	return refined, nil
}

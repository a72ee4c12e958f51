package calib

import (
	"context"
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/powei-lin/camera-intrinsic/camera"
	"github.com/powei-lin/camera-intrinsic/detect"
	"github.com/powei-lin/camera-intrinsic/optimize"
	"github.com/powei-lin/camera-intrinsic/utils"
)

// maxFocalPx bounds focal lengths during joint refinement.
const maxFocalPx = 10000

// Options controls joint refinement.
type Options struct {
	// XYSameFocal estimates one focal length for both axes.
	XYSameFocal bool
	// DisabledDistortions pins that many trailing distortion parameters to
	// zero.
	DisabledDistortions int
	// FixedFocal, when positive, reruns the solve with fx pinned to this
	// value after the free pass.
	FixedFocal float64
}

// minRayZ rejects undistorted rays too close to the image plane to yield a
// unit-plane projection.
const minRayZ = 1e-9

// frameSeed is one frame's starting pose for refinement.
type frameSeed struct {
	rvec, tvec r3.Vector
}

// Calibrate jointly refines the model's parameters and one pose per frame
// against every detected feature. The model itself is not modified; the
// refined copy is returned with the poses, indexed by input frame. Frames
// whose pose cannot be seeded are excluded and logged rather than failing
// the run.
func (c *Calibrator) Calibrate(
	ctx context.Context,
	frames []*detect.FrameFeature,
	model camera.Model,
	opts Options,
) (camera.Model, []FramePose, error) {
	params := model.Params()
	if opts.XYSameFocal {
		params = append(params[:1], params[2:]...)
	}
	problem := optimize.NewProblem()
	paramsID := problem.AddBlock("params", params)

	seeds := make([]*frameSeed, len(frames))
	var seedFns []utils.SimpleFunc
	for i, ff := range frames {
		if ff == nil {
			continue
		}
		i, ff := i, ff
		seedFns = append(seedFns, func(context.Context) error {
			seed, err := c.seedFramePose(ff, model)
			if err != nil {
				c.logger.Debugw("excluding frame from refinement", "frame", i, "error", err)
				return nil
			}
			seeds[i] = seed
			return nil
		})
	}
	if _, err := utils.RunInParallel(ctx, seedFns); err != nil {
		return nil, nil, err
	}

	var retained []int
	totalPoints := 0
	poseIDs := make(map[int][2]optimize.BlockID, len(frames))
	for i, ff := range frames {
		if seeds[i] == nil {
			continue
		}
		rvecID := problem.AddBlock(fmt.Sprintf("rvec%d", i), vec3Slice(seeds[i].rvec))
		tvecID := problem.AddBlock(fmt.Sprintf("tvec%d", i), vec3Slice(seeds[i].tvec))
		for _, id := range ff.SortedIDs() {
			fp := ff.Features[id]
			factor := NewReprojectionFactor(model, fp.P3D, fp.P2D, opts.XYSameFocal, paramsID, rvecID, tvecID)
			if err := problem.AddResidual(factor, optimize.NewHuberLoss(1)); err != nil {
				return nil, nil, err
			}
		}
		poseIDs[i] = [2]optimize.BlockID{rvecID, tvecID}
		retained = append(retained, i)
		totalPoints += ff.Count()
	}
	if len(retained) == 0 {
		return nil, nil, errors.Errorf("none of the %d frames has a usable pose", len(frames))
	}

	if err := applyParamBounds(problem, paramsID, model, opts.XYSameFocal); err != nil {
		return nil, nil, err
	}
	if err := disableTrailingDistortions(problem, paramsID, len(params), opts.DisabledDistortions); err != nil {
		return nil, nil, err
	}

	result, err := c.Solver.Solve(ctx, problem)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "joint refinement over %d frames (%d points)", len(retained), totalPoints)
	}
	if opts.FixedFocal > 0 {
		c.logger.Debugw("rerunning refinement with pinned focal", "focal", opts.FixedFocal)
		for id, values := range result {
			if err := problem.SetValues(id, values); err != nil {
				return nil, nil, err
			}
		}
		if err := problem.Fix(paramsID, 0, opts.FixedFocal); err != nil {
			return nil, nil, err
		}
		result, err = c.Solver.Solve(ctx, problem)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "pinned-focal refinement over %d frames", len(retained))
		}
	}

	refined := result[paramsID]
	if opts.XYSameFocal {
		full := make([]float64, 0, len(refined)+1)
		full = append(full, refined[0], refined[0])
		refined = append(full, refined[1:]...)
	}
	calibrated := model.Clone()
	if err := calibrated.SetParams(refined); err != nil {
		return nil, nil, err
	}
	poses := make([]FramePose, 0, len(retained))
	for _, i := range retained {
		poses = append(poses, FramePose{
			Index: i,
			Pose: Pose{
				Rvec: sliceVec3(result[poseIDs[i][0]]),
				Tvec: sliceVec3(result[poseIDs[i][1]]),
			},
		})
	}
	return calibrated, poses, nil
}

// seedFramePose estimates a frame's starting pose by undistorting its
// detections through the current model and solving the planar pose.
func (c *Calibrator) seedFramePose(ff *detect.FrameFeature, model camera.Model) (*frameSeed, error) {
	ids := ff.SortedIDs()
	p3ds := make([]r3.Vector, 0, len(ids))
	p2ds := make([]r2.Point, 0, len(ids))
	for _, id := range ids {
		fp := ff.Features[id]
		ray, ok := model.Unproject(fp.P2D)
		if !ok || ray.Z < minRayZ {
			continue
		}
		p3ds = append(p3ds, fp.P3D)
		p2ds = append(p2ds, r2.Point{X: ray.X / ray.Z, Y: ray.Y / ray.Z})
	}
	if len(p3ds) == 0 {
		return nil, errors.New("no detection survives undistortion")
	}
	rvec, tvec, err := c.PoseSolver(p3ds, p2ds)
	if err != nil {
		return nil, err
	}
	return &frameSeed{rvec: rvec, tvec: tvec}, nil
}

// applyParamBounds constrains the intrinsics block: focals positive, the
// principal point inside the image, distortion terms inside their family
// ranges. Indices shift down by one when the block omits fy.
func applyParamBounds(p *optimize.Problem, id optimize.BlockID, model camera.Model, sameFocal bool) error {
	shift := 0
	if sameFocal {
		shift = 1
	}
	if err := p.SetBounds(id, 0, 0, maxFocalPx); err != nil {
		return err
	}
	if err := p.SetBounds(id, 1-shift, 0, maxFocalPx); err != nil {
		return err
	}
	if err := p.SetBounds(id, 2-shift, 0, float64(model.Width())); err != nil {
		return err
	}
	if err := p.SetBounds(id, 3-shift, 0, float64(model.Height())); err != nil {
		return err
	}
	for _, b := range model.DistortionBounds() {
		if err := p.SetBounds(id, b.Index-shift, b.Lower, b.Upper); err != nil {
			return err
		}
	}
	return nil
}

// disableTrailingDistortions pins the last n scalars of the intrinsics block
// to zero.
func disableTrailingDistortions(p *optimize.Problem, id optimize.BlockID, blockLen, n int) error {
	for i := 0; i < n; i++ {
		if err := p.Fix(id, blockLen-1-i, 0); err != nil {
			return err
		}
	}
	return nil
}

// Package main is the calibrate command: it fits an intrinsic camera model to
// detected calibration-target features and reports reprojection accuracy.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/powei-lin/camera-intrinsic/calib"
	"github.com/powei-lin/camera-intrinsic/camera"
	"github.com/powei-lin/camera-intrinsic/detect"
	"github.com/powei-lin/camera-intrinsic/utils"
)

const (
	// Flags.
	flagInput              = "input"
	flagModel              = "model"
	flagOutput             = "output"
	flagPoses              = "poses"
	flagFixedFocal         = "fixed-focal"
	flagSameFocal          = "same-focal"
	flagDisabledDistortion = "disabled-distortion"
	flagDensity            = "density"

	initAttempts   = 10
	histogramBins  = 10
	histogramWidth = 40
)

var logger = golog.NewDevelopmentLogger("calibrate")

func main() {
	app := &cli.App{
		Name:  "calibrate",
		Usage: "fit an intrinsic camera model to detected target features",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagInput,
				Aliases:  []string{"i"},
				Usage:    "load detected features from JSON `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:  flagModel,
				Value: string(camera.FamilyUCM),
				Usage: "model family to fit: ucm, eucm, kb4 or opencv5",
			},
			&cli.StringFlag{
				Name:    flagOutput,
				Aliases: []string{"o"},
				Value:   "model.json",
				Usage:   "write the calibrated model to `FILE`",
			},
			&cli.StringFlag{
				Name:  flagPoses,
				Usage: "also write the per-frame poses to `FILE`",
			},
			&cli.Float64Flag{
				Name:  flagFixedFocal,
				Usage: "pin the focal length to `PIXELS` instead of estimating it",
			},
			&cli.BoolFlag{
				Name:  flagSameFocal,
				Usage: "estimate a single focal length shared by x and y",
			},
			&cli.IntFlag{
				Name:  flagDisabledDistortion,
				Usage: "pin the last `N` distortion parameters to zero",
			},
			&cli.IntFlag{
				Name:  flagDensity,
				Value: calib.DefaultGridDensity,
				Usage: "ray grid density used when converting between model families",
			},
		},
		Action: runCalibration,
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func runCalibration(c *cli.Context) error {
	family := camera.Family(c.String(flagModel))
	if _, err := camera.NumParams(family); err != nil {
		return err
	}

	frames, err := detect.LoadFeatures(c.String(flagInput))
	if err != nil {
		return err
	}
	logger.Infow("loaded detections", "path", c.String(flagInput), "frames", len(frames))

	calibrator := calib.New(logger)
	seed, err := seedModel(c.Context, calibrator, frames, c.Float64(flagFixedFocal))
	if err != nil {
		return err
	}

	model := seed
	if family != seed.Family() {
		params, err := camera.DefaultParams(family, seed.Width(), seed.Height())
		if err != nil {
			return err
		}
		target, err := camera.NewModel(family, params, seed.Width(), seed.Height())
		if err != nil {
			return err
		}
		if err := calibrator.ConvertModel(c.Context, seed, target, calib.ConvertOptions{
			DisabledDistortions: c.Int(flagDisabledDistortion),
			GridDensity:         c.Int(flagDensity),
		}); err != nil {
			return err
		}
		model = target
	}

	final, poses, err := calibrator.Calibrate(c.Context, frames, model, calib.Options{
		XYSameFocal:         c.Bool(flagSameFocal),
		DisabledDistortions: c.Int(flagDisabledDistortion),
		FixedFocal:          c.Float64(flagFixedFocal),
	})
	if err != nil {
		return err
	}

	report, err := calibrator.Validate(final, poses, frames)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "calibrated %s model over %d frames, %d points\n",
		final.Family(), len(poses), report.TotalPoints)
	fmt.Fprintf(c.App.Writer, "params: %v\n", final.Params())
	fmt.Fprintf(c.App.Writer, "median pixel error:       %.4f\n", report.MedianPixelErr)
	fmt.Fprintf(c.App.Writer, "trimmed mean pixel error: %.4f\n", report.TrimmedMeanPixelErr)
	hist := histogram.Hist(histogramBins, report.Errors)
	if err := histogram.Fprint(c.App.Writer, hist, histogram.Linear(histogramWidth)); err != nil {
		return err
	}

	out := c.String(flagOutput)
	if err := camera.WriteModelToJSONFile(out, final); err != nil {
		return err
	}
	logger.Infow("wrote model", "path", out)

	if posesPath := c.String(flagPoses); posesPath != "" {
		if err := writePoses(posesPath, poses); err != nil {
			return err
		}
		logger.Infow("wrote poses", "path", posesPath)
	}
	return nil
}

// seedModel bootstraps intrinsics from the preferred frame pair, then retries
// random pairs when a pair turns out to be degenerate.
func seedModel(
	ctx context.Context,
	calibrator *calib.Calibrator,
	frames []*detect.FrameFeature,
	fixedFocal float64,
) (camera.Model, error) {
	present := make([]int, 0, len(frames))
	for i, ff := range frames {
		if ff != nil && ff.Count() > 0 {
			present = append(present, i)
		}
	}
	if len(present) < 2 {
		return nil, errors.Errorf("need detections in at least 2 frames, have %d", len(present))
	}

	idx0, idx1, err := calib.FindBestTwoFrames(frames)
	if err != nil {
		return nil, err
	}

	//nolint:gosec
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	lastErr := calib.ErrInitializationFailed
	for attempt := 0; attempt < initAttempts; attempt++ {
		if attempt > 0 || idx0 == idx1 {
			idx0 = present[utils.SampleRandomIntRange(0, len(present)-1, r)]
			idx1 = present[utils.SampleRandomIntRange(0, len(present)-1, r)]
			if idx0 == idx1 {
				continue
			}
		}
		logger.Debugw("bootstrapping intrinsics", "attempt", attempt, "frame0", idx0, "frame1", idx1)
		seed, err := calibrator.InitCamera(ctx, frames[idx0], frames[idx1], fixedFocal)
		if err == nil {
			return seed, nil
		}
		if !errors.Is(err, calib.ErrInitializationFailed) {
			return nil, err
		}
		logger.Debugw("initialization failed, resampling pair", "error", err)
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "no usable frame pair after %d attempts", initAttempts)
}

// writePoses saves the refined per-frame extrinsics as JSON.
func writePoses(path string, poses []calib.FramePose) error {
	data, err := json.MarshalIndent(poses, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package calib

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/powei-lin/camera-intrinsic/camera"
	"github.com/powei-lin/camera-intrinsic/detect"
	"github.com/powei-lin/camera-intrinsic/utils"
)

// Report summarizes reprojection accuracy over every validated point.
type Report struct {
	TotalPoints int
	// MedianPixelErr is the upper middle of the sorted per-point errors.
	MedianPixelErr float64
	// TrimmedMeanPixelErr is the mean of the lowest 99% of errors, so a few
	// wild points cannot dominate the score.
	TrimmedMeanPixelErr float64
	// Errors holds every per-point error, ascending.
	Errors []float64
}

// Validate reprojects every detected feature through the model under its
// frame's pose and reports the pixel error distribution. Points the model
// cannot project are left out of the statistics. Each frame's diagnostics go
// to the calibrator's observer.
func (c *Calibrator) Validate(model camera.Model, poses []FramePose, frames []*detect.FrameFeature) (*Report, error) {
	var all []float64
	for _, fp := range poses {
		if fp.Index < 0 || fp.Index >= len(frames) || frames[fp.Index] == nil {
			return nil, errors.Errorf("pose refers to frame %d with no detections", fp.Index)
		}
		ff := frames[fp.Index]
		camPoints := make([]r3.Vector, 0, ff.Count())
		frameErrs := make([]float64, 0, ff.Count())
		for _, id := range ff.SortedIDs() {
			feat := ff.Features[id]
			pc := fp.Pose.Transform(feat.P3D)
			camPoints = append(camPoints, pc)
			px, ok := model.Project(pc)
			if !ok {
				continue
			}
			frameErrs = append(frameErrs, math.Hypot(px.X-feat.P2D.X, px.Y-feat.P2D.Y))
		}
		if len(frameErrs) == 0 {
			c.logger.Debugw("frame has no projectable points", "frame", fp.Index)
			continue
		}
		avg, err := stats.Mean(frameErrs)
		if err != nil {
			return nil, err
		}
		c.Observer.ObserveFrame(FrameDiagnostic{
			FrameIndex:   fp.Index,
			TimeNs:       ff.TimeNs,
			CameraPoints: camPoints,
			AvgPixelErr:  avg,
		})
		all = append(all, frameErrs...)
	}
	if len(all) == 0 {
		return nil, errors.New("no validated points")
	}

	// Median sorts its input ascending; the 99% trim below relies on that.
	median := utils.Median(all...)
	n99 := max(len(all)*99/100, 1)
	trimmed, err := stats.Mean(all[:n99])
	if err != nil {
		return nil, err
	}
	return &Report{
		TotalPoints:         len(all),
		MedianPixelErr:      median,
		TrimmedMeanPixelErr: trimmed,
		Errors:              all,
	}, nil
}

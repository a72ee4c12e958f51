// Package detect holds the observed calibration-target correspondences the
// calibrator consumes. Detection itself happens upstream; this package only
// defines the frame data and its file format.
package detect

import (
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// FeaturePoint pairs one detected pixel with the target point it observes.
type FeaturePoint struct {
	P2D r2.Point  `json:"p2d"`
	P3D r3.Vector `json:"p3d"`
}

// FrameFeature is everything detected in one captured frame, keyed by the
// target feature id so frames can be matched against each other.
type FrameFeature struct {
	TimeNs   int64                   `json:"time_ns"`
	Width    int                     `json:"width_px"`
	Height   int                     `json:"height_px"`
	Features map[uint32]FeaturePoint `json:"features"`
}

// Count reports how many features were detected in the frame.
func (ff *FrameFeature) Count() int {
	return len(ff.Features)
}

// BoundingBoxArea is the area in square pixels of the axis-aligned box
// around the detected pixels, zero when fewer than two distinct points exist.
func (ff *FrameFeature) BoundingBoxArea() float64 {
	first := true
	var minX, maxX, minY, maxY float64
	for _, f := range ff.Features {
		if first {
			minX, maxX = f.P2D.X, f.P2D.X
			minY, maxY = f.P2D.Y, f.P2D.Y
			first = false
			continue
		}
		minX = min(minX, f.P2D.X)
		maxX = max(maxX, f.P2D.X)
		minY = min(minY, f.P2D.Y)
		maxY = max(maxY, f.P2D.Y)
	}
	if first {
		return 0
	}
	return (maxX - minX) * (maxY - minY)
}

// AveragePoint is the mean of the detected pixels, the zero point when the
// frame has no detections. Summation runs in id order so repeated calls
// return identical values.
func (ff *FrameFeature) AveragePoint() r2.Point {
	if len(ff.Features) == 0 {
		return r2.Point{}
	}
	var sum r2.Point
	for _, id := range ff.SortedIDs() {
		sum = sum.Add(ff.Features[id].P2D)
	}
	return sum.Mul(1 / float64(len(ff.Features)))
}

// SortedIDs returns the frame's feature ids in ascending order, for
// deterministic iteration over Features.
func (ff *FrameFeature) SortedIDs() []uint32 {
	ids := make([]uint32, 0, len(ff.Features))
	for id := range ff.Features {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// LoadFeatures reads a detection file. A null entry marks a frame where the
// detector found nothing and stays nil.
func LoadFeatures(path string) ([]*FrameFeature, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var frames []*FrameFeature
	if err := json.Unmarshal(data, &frames); err != nil {
		return nil, errors.Wrapf(err, "cannot parse features from %q", path)
	}
	return frames, nil
}

// SaveFeatures writes frames as a detection file readable by LoadFeatures.
func SaveFeatures(path string, frames []*FrameFeature) error {
	data, err := json.MarshalIndent(frames, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package calib

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/powei-lin/camera-intrinsic/detect"
	"github.com/powei-lin/camera-intrinsic/utils"
)

// FindBestTwoFrames picks the two frames the bootstrap should start from.
// Both picks come from the frames with the most detections: the first covers
// the largest image area, the second sits farthest from where those frames
// cluster. The picks may coincide when one frame wins both measures.
func FindBestTwoFrames(frames []*detect.FrameFeature) (int, int, error) {
	maxDetections := 0
	var candidates []int
	for i, ff := range frames {
		if ff == nil || ff.Count() == 0 {
			continue
		}
		switch {
		case ff.Count() > maxDetections:
			maxDetections = ff.Count()
			candidates = []int{i}
		case ff.Count() == maxDetections:
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, 0, errors.New("no frame has any detected features")
	}

	centers := make([]r2.Point, len(candidates))
	var centroid r2.Point
	for i, idx := range candidates {
		centers[i] = frames[idx].AveragePoint()
		centroid = centroid.Add(centers[i])
	}
	centroid = centroid.Mul(1 / float64(len(candidates)))

	// Later candidates win ties on both measures.
	bestArea, bestDist := candidates[0], candidates[0]
	maxArea, maxDist := -1.0, -1.0
	for i, idx := range candidates {
		if area := frames[idx].BoundingBoxArea(); area >= maxArea {
			maxArea = area
			bestArea = idx
		}
		d := utils.Square(centers[i].X-centroid.X) + utils.Square(centers[i].Y-centroid.Y)
		if d >= maxDist {
			maxDist = d
			bestDist = idx
		}
	}
	return bestArea, bestDist, nil
}

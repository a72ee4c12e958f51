package calib

import (
	"github.com/golang/geo/r3"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

// Pose places the calibration target in the camera frame as an axis-angle
// rotation followed by a translation.
type Pose struct {
	Rvec r3.Vector `json:"rvec"`
	Tvec r3.Vector `json:"tvec"`
}

// Transform maps a target-plane point into the camera frame.
func (p Pose) Transform(pt r3.Vector) r3.Vector {
	return scalar.RotateVec(p.Rvec, pt).Add(p.Tvec)
}

// FramePose pairs a refined pose with the index of the frame it came from.
// Indices can be sparse when frames were excluded from refinement.
type FramePose struct {
	Index int `json:"frame"`
	Pose
}

func vec3Slice(v r3.Vector) []float64 {
	return []float64{v.X, v.Y, v.Z}
}

func sliceVec3(s []float64) r3.Vector {
	return r3.Vector{X: s[0], Y: s[1], Z: s[2]}
}

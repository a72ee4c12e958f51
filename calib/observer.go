package calib

import "github.com/golang/geo/r3"

// FrameDiagnostic is the per-frame record validation emits: the target points
// transformed into the camera frame and the frame's mean reprojection error.
type FrameDiagnostic struct {
	FrameIndex   int
	TimeNs       int64
	CameraPoints []r3.Vector
	AvgPixelErr  float64
}

// Observer receives per-frame diagnostics during validation, e.g. to feed a
// visualizer or a recording.
type Observer interface {
	ObserveFrame(d FrameDiagnostic)
}

// NoopObserver drops all diagnostics.
type NoopObserver struct{}

// ObserveFrame does nothing.
func (NoopObserver) ObserveFrame(FrameDiagnostic) {}

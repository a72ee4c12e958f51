// Package camera implements the intrinsic camera models the calibrator can
// estimate: the unified camera model and its extended form, the
// Kannala-Brandt fisheye polynomial, and the 5-coefficient OpenCV pinhole
// model. Every model exposes its projection both over plain floats and over
// dual numbers so the optimizer can differentiate through it.
package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

// Family is the name of an intrinsic model family.
type Family string

const (
	// FamilyUCM is the unified camera model, fx fy cx cy alpha.
	FamilyUCM = Family("ucm")
	// FamilyEUCM is the extended unified camera model, fx fy cx cy alpha beta.
	FamilyEUCM = Family("eucm")
	// FamilyKannalaBrandt is the 4-coefficient fisheye polynomial, fx fy cx cy k1 k2 k3 k4.
	FamilyKannalaBrandt = Family("kb4")
	// FamilyOpenCV5 is the OpenCV radial-tangential model, fx fy cx cy k1 k2 p1 p2 k3.
	FamilyOpenCV5 = Family("opencv5")
)

// ParamBound is the allowed range for one distortion parameter, indexed into
// the full parameter vector.
type ParamBound struct {
	Index        int
	Lower, Upper float64
}

// Model is an intrinsic camera model. The first four parameters of every
// family are fx, fy, cx, cy; the rest are family-specific distortion terms.
type Model interface {
	Family() Family
	Width() int
	Height() int
	// Params returns a copy of the parameter vector.
	Params() []float64
	SetParams(params []float64) error
	Clone() Model
	CheckValid() error
	// DistortionBounds reports the valid range of each distortion parameter.
	DistortionBounds() []ParamBound

	// Project maps a point in the camera frame to a pixel. The second return
	// is false where the model does not define a projection for the point.
	Project(pt r3.Vector) (r2.Point, bool)
	// ProjectAt is Project evaluated under an alternate parameter vector.
	ProjectAt(params []float64, pt r3.Vector) (r2.Point, bool)
	// ProjectDual is Project over dual numbers, for derivative evaluation.
	ProjectDual(params []scalar.Dual, pt scalar.Vec3[scalar.Dual]) ([2]scalar.Dual, bool)
	// Unproject maps a pixel to a unit ray in the camera frame.
	Unproject(px r2.Point) (r3.Vector, bool)
}

// NewModel returns a model of the given family from its full parameter vector.
func NewModel(family Family, params []float64, width, height int) (Model, error) {
	switch family {
	case FamilyUCM:
		return NewUCM(params, width, height)
	case FamilyEUCM:
		return NewEUCM(params, width, height)
	case FamilyKannalaBrandt:
		return NewKannalaBrandt(params, width, height)
	case FamilyOpenCV5:
		return NewOpenCV5(params, width, height)
	default:
		return nil, errors.Errorf("do not know how to build %q camera model", family)
	}
}

// NumParams reports the parameter count of a model family.
func NumParams(family Family) (int, error) {
	switch family {
	case FamilyUCM:
		return 5, nil
	case FamilyEUCM:
		return 6, nil
	case FamilyKannalaBrandt:
		return 8, nil
	case FamilyOpenCV5:
		return 9, nil
	default:
		return 0, errors.Errorf("unknown camera model %q", family)
	}
}

// DefaultParams returns an undistorted in-bounds starting parameter vector
// for a family, suitable as an optimizer seed.
func DefaultParams(family Family, width, height int) ([]float64, error) {
	f := float64(max(width, height)) / 2
	leading := []float64{f, f, float64(width) / 2, float64(height) / 2}
	switch family {
	case FamilyUCM:
		return append(leading, 0.5), nil
	case FamilyEUCM:
		return append(leading, 0.5, 1.0), nil
	case FamilyKannalaBrandt:
		return append(leading, 0, 0, 0, 0), nil
	case FamilyOpenCV5:
		return append(leading, 0, 0, 0, 0, 0), nil
	default:
		return nil, errors.Errorf("unknown camera model %q", family)
	}
}

// projEps guards divisions in the projection formulas.
const projEps = 1e-9

// dims carries the image size shared by all model families.
type dims struct {
	width, height int
}

func (d dims) Width() int { return d.width }

func (d dims) Height() int { return d.height }

func checkParamLen(family Family, params []float64, want int) error {
	if len(params) != want {
		return errors.Errorf("%s model expects %d parameters, got %d", family, want, len(params))
	}
	return nil
}

func checkValidParams(family Family, params []float64, width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("%s model has invalid size (%d, %d)", family, width, height)
	}
	if params[0] <= 0 || params[1] <= 0 {
		return errors.Errorf("%s model has invalid focal length (%v, %v)", family, params[0], params[1])
	}
	if params[2] < 0 || params[3] < 0 {
		return errors.Errorf("%s model has invalid principal point (%v, %v)", family, params[2], params[3])
	}
	return nil
}

func cloneParams(params []float64) []float64 {
	return append([]float64(nil), params...)
}

func liftParams(params []float64) []scalar.F64 {
	out := make([]scalar.F64, len(params))
	for i, p := range params {
		out[i] = scalar.F64(p)
	}
	return out
}

// pixel converts a projected pair in a scalar field back to a plain point.
func pixel[T scalar.Field[T]](uv [2]T) r2.Point {
	return r2.Point{X: uv[0].Val(), Y: uv[1].Val()}
}

package calib

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/powei-lin/camera-intrinsic/camera"
	"github.com/powei-lin/camera-intrinsic/optimize"
	"github.com/powei-lin/camera-intrinsic/scalar"
)

// ReprojectionFactor penalizes the pixel distance between one detected
// feature and its projection under the current intrinsics and frame pose.
// With sameFocal the parameter block omits fy and fx serves both axes.
type ReprojectionFactor struct {
	model     camera.Model
	p3d       r3.Vector
	p2d       r2.Point
	sameFocal bool
	blocks    []optimize.BlockID
}

// NewReprojectionFactor builds a factor over a params block and the frame's
// rvec and tvec blocks.
func NewReprojectionFactor(
	model camera.Model,
	p3d r3.Vector,
	p2d r2.Point,
	sameFocal bool,
	params, rvec, tvec optimize.BlockID,
) *ReprojectionFactor {
	return &ReprojectionFactor{
		model:     model,
		p3d:       p3d,
		p2d:       p2d,
		sameFocal: sameFocal,
		blocks:    []optimize.BlockID{params, rvec, tvec},
	}
}

// Dim is the length of the residual vector.
func (f *ReprojectionFactor) Dim() int { return 2 }

// Blocks lists the referenced parameter blocks.
func (f *ReprojectionFactor) Blocks() []optimize.BlockID { return f.blocks }

// Evaluate returns projected minus observed pixel, false where the point has
// no projection under the current iterate.
func (f *ReprojectionFactor) Evaluate(blocks [][]float64) ([]float64, bool) {
	params := blocks[0]
	if f.sameFocal {
		params = expandSameFocal(params)
	}
	pt := scalar.RotateVec(sliceVec3(blocks[1]), f.p3d).Add(sliceVec3(blocks[2]))
	px, ok := f.model.ProjectAt(params, pt)
	if !ok {
		return nil, false
	}
	return []float64{px.X - f.p2d.X, px.Y - f.p2d.Y}, true
}

// EvaluateDual is Evaluate over dual numbers.
func (f *ReprojectionFactor) EvaluateDual(blocks [][]scalar.Dual) ([]scalar.Dual, bool) {
	params := blocks[0]
	if f.sameFocal {
		params = expandSameFocalDual(params)
	}
	rvec := scalar.Vec3[scalar.Dual]{blocks[1][0], blocks[1][1], blocks[1][2]}
	tvec := scalar.Vec3[scalar.Dual]{blocks[2][0], blocks[2][1], blocks[2][2]}
	pt := scalar.Rotate(rvec, scalar.LiftVec(f.p3d)).Add(tvec)
	uv, ok := f.model.ProjectDual(params, pt)
	if !ok {
		return nil, false
	}
	return []scalar.Dual{
		uv[0].Sub(scalar.Lift(f.p2d.X)),
		uv[1].Sub(scalar.Lift(f.p2d.Y)),
	}, true
}

// expandSameFocal widens a reduced parameter vector [f cx cy d...] back to
// [f f cx cy d...]. Both focal slots share the one scalar, so a derivative
// seeded there flows through fx and fy together.
func expandSameFocal(reduced []float64) []float64 {
	full := make([]float64, 0, len(reduced)+1)
	full = append(full, reduced[0], reduced[0])
	return append(full, reduced[1:]...)
}

func expandSameFocalDual(reduced []scalar.Dual) []scalar.Dual {
	full := make([]scalar.Dual, 0, len(reduced)+1)
	full = append(full, reduced[0], reduced[0])
	return append(full, reduced[1:]...)
}

// UCMFocalAlphaFactor is the two-parameter bootstrap residual: a unified
// model with the principal point pinned to the image center, leaving only
// [f alpha] free alongside the two frame poses.
type UCMFocalAlphaFactor struct {
	template *camera.UCM
	cx, cy   float64
	p3d      r3.Vector
	p2d      r2.Point
	blocks   []optimize.BlockID
}

// NewUCMFocalAlphaFactor builds a factor whose principal point comes from the
// template model. The params block holds [f alpha].
func NewUCMFocalAlphaFactor(
	template *camera.UCM,
	p3d r3.Vector,
	p2d r2.Point,
	params, rvec, tvec optimize.BlockID,
) *UCMFocalAlphaFactor {
	tp := template.Params()
	return &UCMFocalAlphaFactor{
		template: template,
		cx:       tp[2],
		cy:       tp[3],
		p3d:      p3d,
		p2d:      p2d,
		blocks:   []optimize.BlockID{params, rvec, tvec},
	}
}

// Dim is the length of the residual vector.
func (f *UCMFocalAlphaFactor) Dim() int { return 2 }

// Blocks lists the referenced parameter blocks.
func (f *UCMFocalAlphaFactor) Blocks() []optimize.BlockID { return f.blocks }

// Evaluate returns projected minus observed pixel under [f f cx cy alpha].
func (f *UCMFocalAlphaFactor) Evaluate(blocks [][]float64) ([]float64, bool) {
	fa := blocks[0]
	params := []float64{fa[0], fa[0], f.cx, f.cy, fa[1]}
	pt := scalar.RotateVec(sliceVec3(blocks[1]), f.p3d).Add(sliceVec3(blocks[2]))
	px, ok := f.template.ProjectAt(params, pt)
	if !ok {
		return nil, false
	}
	return []float64{px.X - f.p2d.X, px.Y - f.p2d.Y}, true
}

// EvaluateDual is Evaluate over dual numbers.
func (f *UCMFocalAlphaFactor) EvaluateDual(blocks [][]scalar.Dual) ([]scalar.Dual, bool) {
	fa := blocks[0]
	params := []scalar.Dual{fa[0], fa[0], scalar.Lift(f.cx), scalar.Lift(f.cy), fa[1]}
	rvec := scalar.Vec3[scalar.Dual]{blocks[1][0], blocks[1][1], blocks[1][2]}
	tvec := scalar.Vec3[scalar.Dual]{blocks[2][0], blocks[2][1], blocks[2][2]}
	pt := scalar.Rotate(rvec, scalar.LiftVec(f.p3d)).Add(tvec)
	uv, ok := f.template.ProjectDual(params, pt)
	if !ok {
		return nil, false
	}
	return []scalar.Dual{
		uv[0].Sub(scalar.Lift(f.p2d.X)),
		uv[1].Sub(scalar.Lift(f.p2d.Y)),
	}, true
}

// ConvertFactor penalizes the pixel distance between a fixed source model's
// projection of one ray and the target model's projection of the same ray.
// Rays either model cannot project contribute a zero residual instead of
// dropping out, so the term count stays constant across iterates.
type ConvertFactor struct {
	source camera.Model
	target camera.Model
	ray    r3.Vector
	blocks []optimize.BlockID
}

// NewConvertFactor builds a factor for one sampled ray. The params block
// holds the target model's full parameter vector.
func NewConvertFactor(source, target camera.Model, ray r3.Vector, params optimize.BlockID) *ConvertFactor {
	return &ConvertFactor{
		source: source,
		target: target,
		ray:    ray,
		blocks: []optimize.BlockID{params},
	}
}

// Dim is the length of the residual vector.
func (f *ConvertFactor) Dim() int { return 2 }

// Blocks lists the referenced parameter blocks.
func (f *ConvertFactor) Blocks() []optimize.BlockID { return f.blocks }

// Evaluate returns source projection minus target projection.
func (f *ConvertFactor) Evaluate(blocks [][]float64) ([]float64, bool) {
	src, okSrc := f.source.Project(f.ray)
	dst, okDst := f.target.ProjectAt(blocks[0], f.ray)
	if !okSrc || !okDst {
		return []float64{0, 0}, true
	}
	return []float64{src.X - dst.X, src.Y - dst.Y}, true
}

// EvaluateDual is Evaluate over dual numbers. The source projection is a
// constant.
func (f *ConvertFactor) EvaluateDual(blocks [][]scalar.Dual) ([]scalar.Dual, bool) {
	src, okSrc := f.source.Project(f.ray)
	uv, okDst := f.target.ProjectDual(blocks[0], scalar.LiftVec(f.ray))
	if !okSrc || !okDst {
		return []scalar.Dual{{}, {}}, true
	}
	return []scalar.Dual{
		scalar.Lift(src.X).Sub(uv[0]),
		scalar.Lift(src.Y).Sub(uv[1]),
	}, true
}

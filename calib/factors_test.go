package calib

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

func TestReprojectionFactorZeroAtTruth(t *testing.T) {
	model := truthUCM(t)
	pose := boardPoses()[0]
	p3d := r3.Vector{X: 0.12, Y: -0.08}
	p2d, ok := model.Project(pose.Transform(p3d))
	test.That(t, ok, test.ShouldBeTrue)

	factor := NewReprojectionFactor(model, p3d, p2d, false, 0, 1, 2)
	test.That(t, factor.Dim(), test.ShouldEqual, 2)
	blocks := [][]float64{model.Params(), vec3Slice(pose.Rvec), vec3Slice(pose.Tvec)}

	res, ok := factor.Evaluate(blocks)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, res[0], test.ShouldAlmostEqual, 0, 1e-10)
	test.That(t, res[1], test.ShouldAlmostEqual, 0, 1e-10)

	duals := make([][]scalar.Dual, len(blocks))
	for i, b := range blocks {
		duals[i] = scalar.LiftSlice(b)
	}
	dres, ok := factor.EvaluateDual(duals)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, dres[0].Real, test.ShouldAlmostEqual, res[0])
	test.That(t, dres[1].Real, test.ShouldAlmostEqual, res[1])
}

func TestReprojectionFactorSameFocalLayout(t *testing.T) {
	model := truthUCM(t)
	pose := boardPoses()[1]
	p3d := r3.Vector{X: -0.04, Y: 0.16}
	p2d, ok := model.Project(pose.Transform(p3d))
	test.That(t, ok, test.ShouldBeTrue)

	full := NewReprojectionFactor(model, p3d, p2d, false, 0, 1, 2)
	reduced := NewReprojectionFactor(model, p3d, p2d, true, 0, 1, 2)

	params := model.Params()
	shrunk := append([]float64{params[0]}, params[2:]...)
	rv, tv := vec3Slice(pose.Rvec), vec3Slice(pose.Tvec)

	wantRes, ok := full.Evaluate([][]float64{params, rv, tv})
	test.That(t, ok, test.ShouldBeTrue)
	gotRes, ok := reduced.Evaluate([][]float64{shrunk, rv, tv})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, gotRes[0], test.ShouldEqual, wantRes[0])
	test.That(t, gotRes[1], test.ShouldEqual, wantRes[1])

	// A derivative seeded on the shared focal is the sum of the fx and fy
	// derivatives.
	dualFull := [][]scalar.Dual{scalar.LiftSlice(params), scalar.LiftSlice(rv), scalar.LiftSlice(tv)}
	dualFull[0][0].Emag = 1
	dFx, ok := full.EvaluateDual(dualFull)
	test.That(t, ok, test.ShouldBeTrue)
	dualFull[0][0].Emag = 0
	dualFull[0][1].Emag = 1
	dFy, ok := full.EvaluateDual(dualFull)
	test.That(t, ok, test.ShouldBeTrue)

	dualReduced := [][]scalar.Dual{scalar.LiftSlice(shrunk), scalar.LiftSlice(rv), scalar.LiftSlice(tv)}
	dualReduced[0][0].Emag = 1
	dShared, ok := reduced.EvaluateDual(dualReduced)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, dShared[0].Emag, test.ShouldAlmostEqual, dFx[0].Emag+dFy[0].Emag, 1e-12)
	test.That(t, dShared[1].Emag, test.ShouldAlmostEqual, dFx[1].Emag+dFy[1].Emag, 1e-12)
}

func TestReprojectionFactorUndefinedPoint(t *testing.T) {
	model := truthUCM(t)
	factor := NewReprojectionFactor(model, r3.Vector{}, r2.Point{X: 320, Y: 240}, false, 0, 1, 2)
	// The pose puts the target well behind the camera.
	rv, tv := []float64{0, 0, 0}, []float64{0, 0, -2}

	_, ok := factor.Evaluate([][]float64{model.Params(), rv, tv})
	test.That(t, ok, test.ShouldBeFalse)

	duals := [][]scalar.Dual{
		scalar.LiftSlice(model.Params()),
		scalar.LiftSlice(rv),
		scalar.LiftSlice(tv),
	}
	_, ok = factor.EvaluateDual(duals)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestUCMFocalAlphaFactorMatchesModel(t *testing.T) {
	template := truthUCM(t)
	pose := boardPoses()[2]
	p3d := r3.Vector{X: 0.2, Y: 0.08}
	p2d, ok := template.Project(pose.Transform(p3d))
	test.That(t, ok, test.ShouldBeTrue)

	factor := NewUCMFocalAlphaFactor(template, p3d, p2d, 0, 1, 2)
	blocks := [][]float64{{460, 0.6}, vec3Slice(pose.Rvec), vec3Slice(pose.Tvec)}
	res, ok := factor.Evaluate(blocks)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, res[0], test.ShouldAlmostEqual, 0, 1e-10)
	test.That(t, res[1], test.ShouldAlmostEqual, 0, 1e-10)

	// Off-truth focal and alpha give the same residual as the full model
	// evaluated at [f f cx cy alpha].
	blocks[0] = []float64{400, 0.4}
	res, ok = factor.Evaluate(blocks)
	test.That(t, ok, test.ShouldBeTrue)
	want, ok := template.ProjectAt([]float64{400, 400, 320, 240, 0.4}, pose.Transform(p3d))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, res[0], test.ShouldEqual, want.X-p2d.X)
	test.That(t, res[1], test.ShouldEqual, want.Y-p2d.Y)
}

func TestConvertFactorMatchesProjectionGap(t *testing.T) {
	source := truthUCM(t)
	targetParams := []float64{470, 465, 318, 242, 0.5}
	ray := r3.Vector{X: 0.2, Y: -0.1, Z: 1}

	factor := NewConvertFactor(source, source.Clone(), ray, 0)
	res, ok := factor.Evaluate([][]float64{targetParams})
	test.That(t, ok, test.ShouldBeTrue)

	src, ok := source.Project(ray)
	test.That(t, ok, test.ShouldBeTrue)
	dst, ok := source.ProjectAt(targetParams, ray)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, res[0], test.ShouldEqual, src.X-dst.X)
	test.That(t, res[1], test.ShouldEqual, src.Y-dst.Y)
}

func TestConvertFactorZeroFillsUndefined(t *testing.T) {
	source := truthUCM(t)
	// Far behind the camera, beyond the unified model's valid half-space.
	ray := r3.Vector{X: 0.05, Z: -1}
	factor := NewConvertFactor(source, source.Clone(), ray, 0)

	res, ok := factor.Evaluate([][]float64{source.Params()})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, res[0], test.ShouldEqual, 0.0)
	test.That(t, res[1], test.ShouldEqual, 0.0)

	dres, ok := factor.EvaluateDual([][]scalar.Dual{scalar.LiftSlice(source.Params())})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, dres[0].Real, test.ShouldEqual, 0.0)
	test.That(t, dres[0].Emag, test.ShouldEqual, 0.0)
	test.That(t, dres[1].Real, test.ShouldEqual, 0.0)
}

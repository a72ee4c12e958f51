package camera

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/powei-lin/camera-intrinsic/scalar"
)

func testModels(t *testing.T) []Model {
	t.Helper()
	ucm, err := NewUCM([]float64{450, 455, 320, 240, 0.6}, 640, 480)
	test.That(t, err, test.ShouldBeNil)
	eucm, err := NewEUCM([]float64{450, 455, 320, 240, 0.6, 1.2}, 640, 480)
	test.That(t, err, test.ShouldBeNil)
	kb, err := NewKannalaBrandt([]float64{280, 282, 320, 240, 0.02, -0.01, 0.005, -0.002}, 640, 480)
	test.That(t, err, test.ShouldBeNil)
	cv, err := NewOpenCV5([]float64{600, 605, 320, 240, 0.1, -0.05, 0.001, -0.002, 0.02}, 640, 480)
	test.That(t, err, test.ShouldBeNil)
	return []Model{ucm, eucm, kb, cv}
}

func TestProjectUnprojectRoundTrip(t *testing.T) {
	pts := []r3.Vector{
		{X: 0.3, Y: -0.2, Z: 1.0},
		{X: -0.1, Y: 0.25, Z: 0.9},
		{X: 0.05, Y: 0.02, Z: 2.0},
	}
	for _, m := range testModels(t) {
		for _, pt := range pts {
			px, ok := m.Project(pt)
			test.That(t, ok, test.ShouldBeTrue)
			ray, ok := m.Unproject(px)
			test.That(t, ok, test.ShouldBeTrue)
			want := pt.Normalize()
			test.That(t, ray.X, test.ShouldAlmostEqual, want.X, 1e-6)
			test.That(t, ray.Y, test.ShouldAlmostEqual, want.Y, 1e-6)
			test.That(t, ray.Z, test.ShouldAlmostEqual, want.Z, 1e-6)
		}
	}
}

func TestProjectBehindCamera(t *testing.T) {
	for _, m := range testModels(t) {
		_, ok := m.Project(r3.Vector{X: 0, Y: 0, Z: -1})
		test.That(t, ok, test.ShouldBeFalse)
	}
}

func TestProjectDualMatchesPlain(t *testing.T) {
	pt := r3.Vector{X: 0.3, Y: -0.2, Z: 1.1}
	for _, m := range testModels(t) {
		plain, ok := m.Project(pt)
		test.That(t, ok, test.ShouldBeTrue)
		uv, ok := m.ProjectDual(scalar.LiftSlice(m.Params()), scalar.LiftVec(pt))
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, uv[0].Real, test.ShouldAlmostEqual, plain.X)
		test.That(t, uv[1].Real, test.ShouldAlmostEqual, plain.Y)
	}
}

func TestProjectDualDerivatives(t *testing.T) {
	// Derivative of the projection with respect to each intrinsic parameter,
	// checked against a central difference.
	pt := r3.Vector{X: 0.3, Y: -0.2, Z: 1.1}
	const h = 1e-7
	for _, m := range testModels(t) {
		params := m.Params()
		for k := range params {
			plus := cloneParams(params)
			plus[k] += h
			minus := cloneParams(params)
			minus[k] -= h
			up, ok := m.ProjectAt(plus, pt)
			test.That(t, ok, test.ShouldBeTrue)
			um, ok := m.ProjectAt(minus, pt)
			test.That(t, ok, test.ShouldBeTrue)

			duals := scalar.LiftSlice(params)
			duals[k] = scalar.Seeded(params[k])
			uv, ok := m.ProjectDual(duals, scalar.LiftVec(pt))
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, uv[0].Emag, test.ShouldAlmostEqual, (up.X-um.X)/(2*h), 1e-4)
			test.That(t, uv[1].Emag, test.ShouldAlmostEqual, (up.Y-um.Y)/(2*h), 1e-4)
		}
	}
}

func TestDistortionBoundsWithinParams(t *testing.T) {
	for _, m := range testModels(t) {
		n := len(m.Params())
		for _, b := range m.DistortionBounds() {
			test.That(t, b.Index, test.ShouldBeGreaterThanOrEqualTo, 4)
			test.That(t, b.Index, test.ShouldBeLessThan, n)
			test.That(t, b.Lower, test.ShouldBeLessThan, b.Upper)
		}
	}
}

func TestNewModelDispatch(t *testing.T) {
	for _, family := range []Family{FamilyUCM, FamilyEUCM, FamilyKannalaBrandt, FamilyOpenCV5} {
		n, err := NumParams(family)
		test.That(t, err, test.ShouldBeNil)
		params, err := DefaultParams(family, 640, 480)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, params, test.ShouldHaveLength, n)

		m, err := NewModel(family, params, 640, 480)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.Family(), test.ShouldEqual, family)
		test.That(t, m.CheckValid(), test.ShouldBeNil)
	}

	_, err := NewModel("pinhole12", []float64{1, 1, 1, 1}, 640, 480)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSetParamsLengthChecked(t *testing.T) {
	for _, m := range testModels(t) {
		err := m.SetParams([]float64{1, 2, 3})
		test.That(t, err, test.ShouldNotBeNil)

		// Full-vector assignment succeeds and is copied, not aliased.
		params := m.Params()
		params[0] = 123
		err = m.SetParams(params)
		test.That(t, err, test.ShouldBeNil)
		params[0] = 456
		test.That(t, m.Params()[0], test.ShouldEqual, 123)
	}
}

func TestCloneIsDeep(t *testing.T) {
	for _, m := range testModels(t) {
		clone := m.Clone()
		params := m.Params()
		params[0] += 50
		err := clone.SetParams(params)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.Params()[0], test.ShouldNotEqual, clone.Params()[0])
	}
}

func TestModelJSONRoundTrip(t *testing.T) {
	for _, m := range testModels(t) {
		data, err := ToJSON(m)
		test.That(t, err, test.ShouldBeNil)
		got, err := FromJSON(data)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Family(), test.ShouldEqual, m.Family())
		test.That(t, got.Width(), test.ShouldEqual, m.Width())
		test.That(t, got.Height(), test.ShouldEqual, m.Height())
		test.That(t, got.Params(), test.ShouldResemble, m.Params())
	}
}

func TestModelJSONFile(t *testing.T) {
	m := testModels(t)[0]
	path := filepath.Join(t.TempDir(), "model.json")
	err := WriteModelToJSONFile(path, m)
	test.That(t, err, test.ShouldBeNil)
	got, err := NewModelFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Params(), test.ShouldResemble, m.Params())

	_, err = NewModelFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	bad := filepath.Join(t.TempDir(), "bad.json")
	err = os.WriteFile(bad, []byte(`{"model":"ucm","params":[1],"width_px":640,"height_px":480}`), 0o644)
	test.That(t, err, test.ShouldBeNil)
	_, err = NewModelFromJSONFile(bad)
	test.That(t, err, test.ShouldNotBeNil)
}

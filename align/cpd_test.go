package align

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/cloudalign/pointcloud"
)

func TestCPDParamsValidate(t *testing.T) {
	test.That(t, DefaultCPDParams().Validate(), test.ShouldBeNil)

	bad := DefaultCPDParams()
	bad.OutlierWeight = 1.0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = DefaultCPDParams()
	bad.OutlierWeight = -0.1
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = DefaultCPDParams()
	bad.MaxIterations = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = DefaultCPDParams()
	bad.Tolerance = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = DefaultCPDParams()
	bad.Tune = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}

func TestEStepNormalization(t *testing.T) {
	moving := skewedCloud()
	stationary := translated(moving, r3.Vector{X: 1, Y: 2, Z: 0})

	x := cloudToMat(stationary)
	y := cloudToMat(moving)
	sigmaSq := InitSigmaSquared(x, y)
	test.That(t, sigmaSq, test.ShouldBeGreaterThan, 0.0)

	// with no outlier mass every stationary column is a proper distribution
	// over the moving points
	postProb := EStep(context.Background(), x, y, identityDense(), r3.Vector{}, 1.0, sigmaSq, 0.0)
	mRows, nCols := postProb.Dims()
	test.That(t, mRows, test.ShouldEqual, moving.Size())
	test.That(t, nCols, test.ShouldEqual, stationary.Size())
	for n := 0; n < nCols; n++ {
		sum := 0.0
		for m := 0; m < mRows; m++ {
			p := postProb.At(m, n)
			test.That(t, p, test.ShouldBeGreaterThanOrEqualTo, 0.0)
			sum += p
		}
		test.That(t, sum, test.ShouldAlmostEqual, 1.0, 1e-9)
	}

	// a positive outlier weight moves mass off the columns
	postProb = EStep(context.Background(), x, y, identityDense(), r3.Vector{}, 1.0, sigmaSq, 0.25)
	for n := 0; n < nCols; n++ {
		sum := 0.0
		for m := 0; m < mRows; m++ {
			sum += postProb.At(m, n)
		}
		test.That(t, sum, test.ShouldBeLessThan, 1.0)
	}
}

func TestAlignViaRigidCPDRecoversTranslation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	moving := skewedCloud()
	stationary := translated(moving, r3.Vector{X: 5, Y: 5, Z: 5})

	params := DefaultCPDParams()
	params.OutlierWeight = 0.05
	params.MaxIterations = 200
	params.Tolerance = 1e-9

	rt, err := AlignViaRigidCPD(context.Background(), params, moving, stationary, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rt.Iterations, test.ShouldBeGreaterThan, 0)

	test.That(t, rt.Scale, test.ShouldAlmostEqual, 1.0, 0.05)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			test.That(t, rt.Rotation.At(i, j), test.ShouldAlmostEqual, want, 0.05)
		}
	}
	test.That(t, rt.Translation.X, test.ShouldAlmostEqual, 5.0, 0.05)
	test.That(t, rt.Translation.Y, test.ShouldAlmostEqual, 5.0, 0.05)
	test.That(t, rt.Translation.Z, test.ShouldAlmostEqual, 5.0, 0.05)
	test.That(t, rt.SigmaSquared, test.ShouldBeLessThan, 0.1)

	// the combined transform maps the moving points onto the stationary ones
	at, err := rt.Transform()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, at.ApplyTo(moving), test.ShouldBeNil)
	for i := 0; i < moving.Size(); i++ {
		test.That(t, moving.At(i).X, test.ShouldAlmostEqual, stationary.At(i).X, 0.05)
		test.That(t, moving.At(i).Y, test.ShouldAlmostEqual, stationary.At(i).Y, 0.05)
		test.That(t, moving.At(i).Z, test.ShouldAlmostEqual, stationary.At(i).Z, 0.05)
	}
}

func TestAlignViaRigidCPDSigmaTrend(t *testing.T) {
	logger := golog.NewTestLogger(t)
	moving := skewedCloud()
	stationary := translated(moving, r3.Vector{X: 3, Y: 0, Z: 1})

	params := DefaultCPDParams()
	params.MaxIterations = 50

	rt, err := AlignViaRigidCPD(context.Background(), params, moving, stationary, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(rt.SigmaHistory), test.ShouldEqual, rt.Iterations)

	// variance trends downward until convergence, modulo a little noise
	for i := 1; i < len(rt.SigmaHistory); i++ {
		test.That(t, rt.SigmaHistory[i], test.ShouldBeLessThan, rt.SigmaHistory[i-1]*1.05+1e-9)
	}
	last := len(rt.SigmaHistory) - 1
	test.That(t, rt.SigmaHistory[last], test.ShouldBeLessThan, rt.SigmaHistory[0])
}

func TestAlignViaRigidCPDIdenticalClouds(t *testing.T) {
	logger := golog.NewTestLogger(t)
	moving := skewedCloud()

	rt, err := AlignViaRigidCPD(context.Background(), DefaultCPDParams(), moving, moving.Clone(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rt.Converged, test.ShouldBeTrue)
	test.That(t, rt.Translation.X, test.ShouldAlmostEqual, 0.0, 0.01)
	test.That(t, rt.Translation.Y, test.ShouldAlmostEqual, 0.0, 0.01)
	test.That(t, rt.Translation.Z, test.ShouldAlmostEqual, 0.0, 0.01)
}

func TestAlignViaRigidCPDIterationCap(t *testing.T) {
	logger := golog.NewTestLogger(t)
	moving := skewedCloud()
	stationary := translated(moving, r3.Vector{X: 5, Y: 5, Z: 5})

	params := DefaultCPDParams()
	params.MaxIterations = 1
	params.Tolerance = 1e-12

	// hitting the cap is not an error; the last iterate comes back
	rt, err := AlignViaRigidCPD(context.Background(), params, moving, stationary, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rt.Converged, test.ShouldBeFalse)
	test.That(t, rt.Iterations, test.ShouldEqual, 1)
}

func TestAlignViaRigidCPDCancelled(t *testing.T) {
	logger := golog.NewTestLogger(t)
	moving := skewedCloud()
	stationary := translated(moving, r3.Vector{X: 5, Y: 5, Z: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AlignViaRigidCPD(ctx, DefaultCPDParams(), moving, stationary, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAlignViaRigidCPDEmptyCloud(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := AlignViaRigidCPD(context.Background(), DefaultCPDParams(), pointcloud.New(), skewedCloud(), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

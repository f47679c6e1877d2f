package align

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/cloudalign/pointcloud"
	"go.viam.com/cloudalign/utils"
)

const (
	cpdDimensionality = 3

	// sigmaSquaredFloor keeps the variance strictly positive; the M-step
	// formula can go slightly negative from rounding once clouds coincide.
	sigmaSquaredFloor = 1e-12
)

// CPDParams configures the rigid coherent-point-drift aligner.
type CPDParams struct {
	// OutlierWeight is the prior probability mass w in [0,1) assigned to
	// unmatched/noise correspondences.
	OutlierWeight float64
	// MaxIterations caps the EM loop. The cap is respected even if the
	// tolerance is never met.
	MaxIterations int
	// Tolerance stops the loop once the relative change in the variance
	// estimate between iterations falls below it.
	Tolerance float64
	// Tune scales the data-driven initial variance estimate.
	Tune float64
}

// DefaultCPDParams returns the parameter values used when the caller has no
// opinion.
func DefaultCPDParams() CPDParams {
	return CPDParams{
		OutlierWeight: 0.1,
		MaxIterations: 100,
		Tolerance:     1e-6,
		Tune:          1.0,
	}
}

// Validate checks parameter ranges.
func (p CPDParams) Validate() error {
	if p.OutlierWeight < 0 || p.OutlierWeight >= 1 {
		return errors.Errorf("outlier weight must be in [0,1), got %v", p.OutlierWeight)
	}
	if p.MaxIterations <= 0 {
		return errors.Errorf("max iterations must be positive, got %d", p.MaxIterations)
	}
	if p.Tolerance <= 0 {
		return errors.Errorf("tolerance must be positive, got %v", p.Tolerance)
	}
	if p.Tune <= 0 {
		return errors.Errorf("tune factor must be positive, got %v", p.Tune)
	}
	return nil
}

// RigidCPDTransform is the state estimated by the rigid CPD model: an
// orthonormal rotation, an isotropic scale, a translation, and the noise
// variance of the correspondence model.
type RigidCPDTransform struct {
	Rotation     *mat.Dense
	Scale        float64
	Translation  r3.Vector
	SigmaSquared float64

	// Iterations is how many EM iterations ran; Converged reports whether
	// the tolerance was met before the iteration cap.
	Iterations int
	Converged  bool

	// SigmaHistory is the variance estimate after each iteration, oldest
	// first. EM guarantees non-decreasing likelihood, and on well-separated
	// clouds the variance trends downward until convergence.
	SigmaHistory []float64
}

// Transform combines rotation, scale, and translation into a single affine
// transform. The scale multiplies the linear block, which a strict affine
// transform allows since only the bottom row is constrained.
func (rt *RigidCPDTransform) Transform() (*AffineTransform, error) {
	var scaled mat.Dense
	scaled.Scale(rt.Scale, rt.Rotation)
	t := NewAffineTransform()
	if err := t.SetLinear(&scaled); err != nil {
		return nil, err
	}
	t.SetTranslation(rt.Translation)
	return t, nil
}

func cloudToMat(pc *pointcloud.PointCloud) *mat.Dense {
	m := mat.NewDense(pc.Size(), cpdDimensionality, nil)
	pc.Iterate(0, 0, func(i int, v r3.Vector) bool {
		m.Set(i, 0, v.X)
		m.Set(i, 1, v.Y)
		m.Set(i, 2, v.Z)
		return true
	})
	return m
}

// InitSigmaSquared returns the data-driven initial noise estimate: the mean
// squared distance between every stationary/moving point pair divided by the
// dimensionality.
func InitSigmaSquared(xPoints, yPoints *mat.Dense) float64 {
	nRowsX, _ := xPoints.Dims()
	mRowsY, _ := yPoints.Dims()
	var normSum utils.RunningSum
	for i := 0; i < nRowsX; i++ {
		xi0, xi1, xi2 := xPoints.At(i, 0), xPoints.At(i, 1), xPoints.At(i, 2)
		for j := 0; j < mRowsY; j++ {
			d0 := xi0 - yPoints.At(j, 0)
			d1 := xi1 - yPoints.At(j, 1)
			d2 := xi2 - yPoints.At(j, 2)
			normSum.Digest(d0*d0 + d1*d1 + d2*d2)
		}
	}
	return normSum.Sum() / float64(nRowsX*mRowsY*cpdDimensionality)
}

// alignedPointSet applies the current (rotation, scale, translation) to every
// moving point: s*Y*R^T + 1*t^T.
func alignedPointSet(yPoints, rotation *mat.Dense, translation r3.Vector, scale float64) *mat.Dense {
	mRowsY, _ := yPoints.Dims()
	var aligned mat.Dense
	aligned.Mul(yPoints, rotation.T())
	aligned.Scale(scale, &aligned)
	out := mat.NewDense(mRowsY, cpdDimensionality, nil)
	for m := 0; m < mRowsY; m++ {
		out.Set(m, 0, aligned.At(m, 0)+translation.X)
		out.Set(m, 1, aligned.At(m, 1)+translation.Y)
		out.Set(m, 2, aligned.At(m, 2)+translation.Z)
	}
	return out
}

// EStep computes the responsibility matrix of the correspondence model: entry
// (m,n) is the posterior probability that stationary point n corresponds to
// moving point m under a Gaussian mixture with a uniform outlier component.
//
// Each stationary column is independent, so the work is spread across columns
// with no shared mutable state; workers write disjoint columns of the result.
func EStep(
	ctx context.Context,
	xPoints, yPoints, rotation *mat.Dense,
	translation r3.Vector,
	scale, sigmaSquared, w float64,
) *mat.Dense {
	nRowsX, _ := xPoints.Dims()
	mRowsY, _ := yPoints.Dims()

	aligned := alignedPointSet(yPoints, rotation, translation, scale)
	outlier := math.Pow(2*math.Pi*sigmaSquared, float64(cpdDimensionality)/2) *
		(w / (1 - w)) *
		(float64(mRowsY) / float64(nRowsX))

	postProb := mat.NewDense(mRowsY, nRowsX, nil)
	//nolint:errcheck // GroupWorkParallel never returns an error
	utils.GroupWorkParallel(
		ctx,
		nRowsX,
		func(groupSize int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			kernel := make([]float64, mRowsY)
			return func(memberNum, n int) {
				xn0, xn1, xn2 := xPoints.At(n, 0), xPoints.At(n, 1), xPoints.At(n, 2)
				denominator := outlier
				for m := 0; m < mRowsY; m++ {
					d0 := xn0 - aligned.At(m, 0)
					d1 := xn1 - aligned.At(m, 1)
					d2 := xn2 - aligned.At(m, 2)
					kernel[m] = math.Exp(-(d0*d0 + d1*d1 + d2*d2) / (2 * sigmaSquared))
					denominator += kernel[m]
				}
				if denominator == 0 {
					return
				}
				for m := 0; m < mRowsY; m++ {
					postProb.Set(m, n, kernel[m]/denominator)
				}
			}, nil
		},
	)
	return postProb
}

// MStep re-estimates rotation, scale, translation, and variance from the
// responsibility matrix via the closed-form weighted Procrustes solution.
func MStep(xPoints, yPoints, postProb *mat.Dense) (*mat.Dense, float64, r3.Vector, float64, error) {
	nRowsX, _ := xPoints.Dims()
	mRowsY, _ := yPoints.Dims()

	colSums := make([]float64, nRowsX)
	rowSums := make([]float64, mRowsY)
	np := 0.0
	for m := 0; m < mRowsY; m++ {
		for n := 0; n < nRowsX; n++ {
			p := postProb.At(m, n)
			colSums[n] += p
			rowSums[m] += p
			np += p
		}
	}
	if np <= 0 {
		return nil, 0, r3.Vector{}, 0, errors.New("responsibility matrix sums to zero; clouds are too far apart for the current variance")
	}

	// weighted means of both clouds
	var ux, uy r3.Vector
	for n := 0; n < nRowsX; n++ {
		ux.X += colSums[n] * xPoints.At(n, 0)
		ux.Y += colSums[n] * xPoints.At(n, 1)
		ux.Z += colSums[n] * xPoints.At(n, 2)
	}
	for m := 0; m < mRowsY; m++ {
		uy.X += rowSums[m] * yPoints.At(m, 0)
		uy.Y += rowSums[m] * yPoints.At(m, 1)
		uy.Z += rowSums[m] * yPoints.At(m, 2)
	}
	ux = ux.Mul(1 / np)
	uy = uy.Mul(1 / np)

	xHat := centerMatrix(xPoints, ux)
	yHat := centerMatrix(yPoints, uy)

	// cross-covariance A = XHat^T * P^T * YHat
	var a mat.Dense
	a.Product(xHat.T(), postProb.T(), yHat)

	var svd mat.SVD
	if ok := svd.Factorize(&a, mat.SVDFull); !ok {
		return nil, 0, r3.Vector{}, 0, errors.New("SVD of cross-covariance matrix failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	// force a proper rotation by flipping the smallest singular direction
	// when U*V^T would be a reflection
	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	detSign := 1.0
	if mat.Det(&uvt) < 0 {
		detSign = -1.0
	}
	c := mat.NewDense(cpdDimensionality, cpdDimensionality, nil)
	c.Set(0, 0, 1)
	c.Set(1, 1, 1)
	c.Set(2, 2, detSign)

	rotation := mat.NewDense(cpdDimensionality, cpdDimensionality, nil)
	rotation.Product(&u, c, v.T())

	trSC := values[0] + values[1] + detSign*values[2]

	yNorm := 0.0
	for m := 0; m < mRowsY; m++ {
		sq := yHat.At(m, 0)*yHat.At(m, 0) + yHat.At(m, 1)*yHat.At(m, 1) + yHat.At(m, 2)*yHat.At(m, 2)
		yNorm += rowSums[m] * sq
	}
	xNorm := 0.0
	for n := 0; n < nRowsX; n++ {
		sq := xHat.At(n, 0)*xHat.At(n, 0) + xHat.At(n, 1)*xHat.At(n, 1) + xHat.At(n, 2)*xHat.At(n, 2)
		xNorm += colSums[n] * sq
	}
	if yNorm <= 0 {
		return nil, 0, r3.Vector{}, 0, errors.New("moving cloud has zero weighted spread")
	}

	scale := trSC / yNorm
	translation := ux.Sub(matVecMul(rotation, uy).Mul(scale))

	sigmaSquared := (xNorm - scale*trSC) / (np * cpdDimensionality)
	if sigmaSquared < sigmaSquaredFloor {
		sigmaSquared = sigmaSquaredFloor
	}

	return rotation, scale, translation, sigmaSquared, nil
}

func centerMatrix(points *mat.Dense, mean r3.Vector) *mat.Dense {
	rows, _ := points.Dims()
	out := mat.NewDense(rows, cpdDimensionality, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, points.At(i, 0)-mean.X)
		out.Set(i, 1, points.At(i, 1)-mean.Y)
		out.Set(i, 2, points.At(i, 2)-mean.Z)
	}
	return out
}

// AlignViaRigidCPD estimates a rotation, isotropic scale, translation, and
// noise variance bringing the moving cloud onto the stationary cloud by
// expectation-maximization over soft correspondences.
//
// Exhausting the iteration cap without meeting the tolerance is not an
// error; the last iterate is still a valid (if imprecise) result and is
// returned with Converged set to false.
func AlignViaRigidCPD(
	ctx context.Context,
	params CPDParams,
	moving, stationary *pointcloud.PointCloud,
	logger golog.Logger,
) (*RigidCPDTransform, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := checkNotEmpty(moving, stationary); err != nil {
		return nil, err
	}

	xPoints := cloudToMat(stationary)
	yPoints := cloudToMat(moving)

	state := &RigidCPDTransform{
		Rotation:     identityDense(),
		Scale:        1.0,
		Translation:  r3.Vector{},
		SigmaSquared: params.Tune * InitSigmaSquared(xPoints, yPoints),
	}

	for i := 0; i < params.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		postProb := EStep(ctx, xPoints, yPoints,
			state.Rotation, state.Translation, state.Scale, state.SigmaSquared, params.OutlierWeight)

		rotation, scale, translation, sigmaSquared, err := MStep(xPoints, yPoints, postProb)
		if err != nil {
			return nil, errors.Wrapf(err, "M-step of iteration %d", i)
		}

		relChange := math.Abs(sigmaSquared-state.SigmaSquared) / math.Max(state.SigmaSquared, sigmaSquaredFloor)

		state.Rotation = rotation
		state.Scale = scale
		state.Translation = translation
		state.SigmaSquared = sigmaSquared
		state.Iterations = i + 1
		state.SigmaHistory = append(state.SigmaHistory, sigmaSquared)

		logger.Debugw("rigid CPD iteration",
			"iteration", i,
			"sigmaSquared", sigmaSquared,
			"scale", scale,
			"relChange", relChange)

		if relChange < params.Tolerance {
			state.Converged = true
			break
		}
	}

	if !state.Converged {
		logger.Warnw("rigid CPD reached the iteration cap before meeting tolerance; returning last iterate",
			"iterations", state.Iterations,
			"sigmaSquared", state.SigmaSquared)
	}
	return state, nil
}

func identityDense() *mat.Dense {
	return mat.NewDense(cpdDimensionality, cpdDimensionality, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}

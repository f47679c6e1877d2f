package align

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/cloudalign/pointcloud"
	"go.viam.com/cloudalign/utils"
)

// pcomps holds the three principal axes of a point cloud, most prominent
// first is not guaranteed; gonum orders eigenvalues ascending and the same
// fixed order is used for both clouds.
type pcomps struct {
	pc1 r3.Vector
	pc2 r3.Vector
	pc3 r3.Vector
}

// estPrincipalComponents determines the three most prominent unit vectors of
// a cloud via eigendecomposition of the covariance of centered points.
func estPrincipalComponents(pc *pointcloud.PointCloud, com r3.Vector) (pcomps, error) {
	var sums [3][3]utils.RunningSum
	pc.Iterate(0, 0, func(_ int, v r3.Vector) bool {
		c := v.Sub(com)
		e := [3]float64{c.X, c.Y, c.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				sums[i][j].Digest(e[i] * e[j])
			}
		}
		return true
	})
	cov := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			cov.SetSym(i, j, sums[i][j].Sum())
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return pcomps{}, errors.New("eigendecomposition of point covariance failed")
	}
	var evecs mat.Dense
	eig.VectorsTo(&evecs)

	return pcomps{
		pc1: r3.Vector{X: evecs.At(0, 0), Y: evecs.At(1, 0), Z: evecs.At(2, 0)}.Normalize(),
		pc2: r3.Vector{X: evecs.At(0, 1), Y: evecs.At(1, 1), Z: evecs.At(2, 1)}.Normalize(),
		pc3: r3.Vector{X: evecs.At(0, 2), Y: evecs.At(1, 2), Z: evecs.At(2, 2)}.Normalize(),
	}, nil
}

// reorientPcomps fixes the sign of each principal axis using the third-order
// moment (skew) of the centered points projected onto it. Third order is
// needed since the first-order moment is eliminated by centering and the
// second order (variance) cannot differentiate positive and negative
// directions. A zero skew leaves the axis unchanged.
func reorientPcomps(com r3.Vector, comps pcomps, pc *pointcloud.PointCloud) pcomps {
	var rs1, rs2, rs3 utils.RunningSum
	pc.Iterate(0, 0, func(_ int, v r3.Vector) bool {
		sv := v.Sub(com)
		rs1.Digest(utils.Cube(sv.Dot(comps.pc1)))
		rs2.Digest(utils.Cube(sv.Dot(comps.pc2)))
		rs3.Digest(utils.Cube(sv.Dot(comps.pc3)))
		return true
	})

	out := comps
	if rs1.Sum() < 0 {
		out.pc1 = out.pc1.Mul(-1)
	}
	if rs2.Sum() < 0 {
		out.pc2 = out.pc2.Mul(-1)
	}
	if rs3.Sum() < 0 {
		out.pc3 = out.pc3.Mul(-1)
	}
	return out
}

func pcompsToColumns(comps pcomps) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		comps.pc1.X, comps.pc2.X, comps.pc3.X,
		comps.pc1.Y, comps.pc2.Y, comps.pc3.Y,
		comps.pc1.Z, comps.pc2.Z, comps.pc3.Z,
	})
}

// AlignViaPCA performs a principal-component alignment.
//
// It computes the center of mass of each cloud, performs PCA separately on
// the stationary and moving clouds, computes third-order distribution
// moments along each axis to establish a consistent orientation, and
// produces a transform that rotates the moving cloud so the principal axes
// coincide. It only identifies a transform; it does not apply it.
//
// Preconditions: both clouds must be non-empty and must not be rotationally
// symmetric, since a spherically symmetric cloud has degenerate principal
// axes. The construction R = S*M^T does not force det(R) = +1, so the result
// can contain a reflection; callers can check with AffineTransform.Det.
func AlignViaPCA(moving, stationary *pointcloud.PointCloud, logger golog.Logger) (*AffineTransform, error) {
	if err := checkNotEmpty(moving, stationary); err != nil {
		return nil, err
	}

	comMoving := pointcloud.CalculateMeanOfPointCloud(moving)
	comStationary := pointcloud.CalculateMeanOfPointCloud(stationary)

	pcompsStationary, err := estPrincipalComponents(stationary, comStationary)
	if err != nil {
		return nil, err
	}
	pcompsMoving, err := estPrincipalComponents(moving, comMoving)
	if err != nil {
		return nil, err
	}

	reorientedStationary := reorientPcomps(comStationary, pcompsStationary, stationary)
	reorientedMoving := reorientPcomps(comMoving, pcompsMoving, moving)

	logger.Debugw("stationary point cloud",
		"com", comStationary,
		"pc1", reorientedStationary.pc1,
		"pc2", reorientedStationary.pc2,
		"pc3", reorientedStationary.pc3)
	logger.Debugw("moving point cloud",
		"com", comMoving,
		"pc1", reorientedMoving.pc1,
		"pc2", reorientedMoving.pc2,
		"pc3", reorientedMoving.pc3)

	// Assemble the orthonormal principal components of each cloud into the
	// columns of a 3x3 matrix. The linear map A carrying the moving matrix M
	// onto the stationary matrix S satisfies S = A*M, and since M is
	// orthonormal M^-1 = M^T, so A = S*M^T.
	s := pcompsToColumns(reorientedStationary)
	m := pcompsToColumns(reorientedMoving)
	var a mat.Dense
	a.Mul(s, m.T())

	t := NewAffineTransform()
	if err := t.SetLinear(&a); err != nil {
		return nil, err
	}

	// The rotation is taken about the moving cloud's own center of mass
	// without explicitly re-centering the data. A*(p - COM_m) + COM_s
	// rearranges to A*p + b with b = COM_s - A*COM_m.
	rotatedCOM := matVecMul(&a, comMoving)
	t.SetTranslation(comStationary.Sub(rotatedCOM))

	logger.Debugw("principal component alignment transform",
		"linear", t.Linear().RawMatrix().Data,
		"translation", t.Translation(),
		"det", t.Det())

	return t, nil
}

func matVecMul(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

package align

import (
	"github.com/pkg/errors"

	"go.viam.com/cloudalign/pointcloud"
)

// ErrEmptyPointCloud is returned when an aligner is handed a cloud with no
// points. Centroid and variance computations divide by the point count, so
// this is a precondition for every aligner.
var ErrEmptyPointCloud = errors.New("point cloud has no points")

func checkNotEmpty(moving, stationary *pointcloud.PointCloud) error {
	if moving.Size() == 0 {
		return errors.Wrap(ErrEmptyPointCloud, "moving")
	}
	if stationary.Size() == 0 {
		return errors.Wrap(ErrEmptyPointCloud, "stationary")
	}
	return nil
}

// AlignViaCOM performs a simple center-of-mass alignment.
//
// The resultant transformation is a rotation-less shift so the point cloud
// centers of mass overlap. It only identifies a transform; it does not apply
// it to the clouds.
func AlignViaCOM(moving, stationary *pointcloud.PointCloud) (*AffineTransform, error) {
	if err := checkNotEmpty(moving, stationary); err != nil {
		return nil, err
	}

	comMoving := pointcloud.CalculateMeanOfPointCloud(moving)
	comStationary := pointcloud.CalculateMeanOfPointCloud(stationary)

	t := NewAffineTransform()
	t.SetTranslation(comStationary.Sub(comMoving))
	return t, nil
}

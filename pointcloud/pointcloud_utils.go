package pointcloud

import (
	"github.com/golang/geo/r3"

	"go.viam.com/cloudalign/utils"
)

// CalculateMeanOfPointCloud returns the spatial average center of a point cloud.
// The zero vector is returned for an empty cloud; callers that treat an empty
// cloud as a precondition violation must check Size first.
func CalculateMeanOfPointCloud(cloud *PointCloud) r3.Vector {
	if cloud.Size() == 0 {
		return r3.Vector{}
	}
	var x, y, z utils.RunningSum
	cloud.Iterate(0, 0, func(_ int, v r3.Vector) bool {
		x.Digest(v.X)
		y.Digest(v.Y)
		z.Digest(v.Z)
		return true
	})
	n := float64(cloud.Size())
	return r3.Vector{X: x.Sum() / n, Y: y.Sum() / n, Z: z.Sum() / n}
}

// BoundsOfPointCloud returns the axis-aligned min and max corners of the
// cloud's grow-only bounding box.
func BoundsOfPointCloud(cloud *PointCloud) (r3.Vector, r3.Vector) {
	meta := cloud.MetaData()
	return r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ},
		r3.Vector{X: meta.MaxX, Y: meta.MaxY, Z: meta.MaxZ}
}

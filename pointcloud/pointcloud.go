// Package pointcloud defines an ordered container of 3D points and the
// helpers the registration code needs to read, select, and mutate them.
//
// Point order is stable: points come back in the order they were appended,
// and in-place mutation (SetAt, transform application) never reorders them.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns a new point cloud metadata struct.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the bounds with the given point. Bounds only ever grow;
// moving a point inward leaves the old envelope in place.
func (meta *MetaData) Merge(v r3.Vector) {
	if v.X > meta.MaxX {
		meta.MaxX = v.X
	}
	if v.Y > meta.MaxY {
		meta.MaxY = v.Y
	}
	if v.Z > meta.MaxZ {
		meta.MaxZ = v.Z
	}

	if v.X < meta.MinX {
		meta.MinX = v.X
	}
	if v.Y < meta.MinY {
		meta.MinY = v.Y
	}
	if v.Z < meta.MinZ {
		meta.MinZ = v.Z
	}
}

// PointCloud is a slice-backed, ordered collection of points.
type PointCloud struct {
	points []r3.Vector
	meta   MetaData
}

// New returns an empty PointCloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{
		points: make([]r3.Vector, 0, size),
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a PointCloud holding a copy of the given points.
func NewFromPoints(points []r3.Vector) *PointCloud {
	cloud := NewWithPrealloc(len(points))
	for _, p := range points {
		cloud.Append(p)
	}
	return cloud
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	return len(cloud.points)
}

// MetaData returns the metadata.
func (cloud *PointCloud) MetaData() MetaData {
	return cloud.meta
}

// Append adds a point to the end of the cloud.
func (cloud *PointCloud) Append(p r3.Vector) {
	cloud.points = append(cloud.points, p)
	cloud.meta.Merge(p)
}

// At returns the point at the given index.
func (cloud *PointCloud) At(i int) r3.Vector {
	return cloud.points[i]
}

// SetAt replaces the point at the given index in place.
func (cloud *PointCloud) SetAt(i int, p r3.Vector) {
	cloud.points[i] = p
	cloud.meta.Merge(p)
}

// Points returns the backing slice. Callers that mutate it own the cloud.
func (cloud *PointCloud) Points() []r3.Vector {
	return cloud.points
}

// Clone returns a deep copy of the cloud.
func (cloud *PointCloud) Clone() *PointCloud {
	points := make([]r3.Vector, len(cloud.points))
	copy(points, cloud.points)
	return &PointCloud{points: points, meta: cloud.meta}
}

// Iterate iterates over all points in the cloud and calls the given
// function for each point. If the supplied function returns false,
// iteration will stop after the function returns.
// numBatches lets you divide up the work. 0 means don't divide.
// myBatch is used iff numBatches > 0 and is which batch you want.
func (cloud *PointCloud) Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector) bool) {
	lowerBound := 0
	upperBound := len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		lowerBound = myBatch * batchSize
		upperBound = (myBatch + 1) * batchSize
	}
	if upperBound > len(cloud.points) {
		upperBound = len(cloud.points)
	}
	for i := lowerBound; i < upperBound; i++ {
		if cont := fn(i, cloud.points[i]); !cont {
			return
		}
	}
}

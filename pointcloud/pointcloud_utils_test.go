package pointcloud

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makeClouds(t *testing.T) []*PointCloud {
	t.Helper()
	// create cloud 0
	cloud0 := NewFromPoints([]r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 0, Y: 0, Z: 1},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 1, Z: 1},
	})
	// create cloud 1
	cloud1 := NewFromPoints([]r3.Vector{
		{X: 30, Y: 0, Z: 0},
		{X: 30, Y: 0, Z: 1},
		{X: 30, Y: 1, Z: 0},
		{X: 30, Y: 1, Z: 1},
		{X: 30, Y: 0.5, Z: 0.5},
	})
	return []*PointCloud{cloud0, cloud1}
}

func TestCalculateMean(t *testing.T) {
	clouds := makeClouds(t)
	mean0 := CalculateMeanOfPointCloud(clouds[0])
	test.That(t, mean0, test.ShouldResemble, r3.Vector{X: 0, Y: 0.5, Z: 0.5})
	mean1 := CalculateMeanOfPointCloud(clouds[1])
	test.That(t, mean1, test.ShouldResemble, r3.Vector{X: 30, Y: 0.5, Z: 0.5})

	test.That(t, CalculateMeanOfPointCloud(New()), test.ShouldResemble, r3.Vector{})
}

func TestBounds(t *testing.T) {
	clouds := makeClouds(t)
	minPt, maxPt := BoundsOfPointCloud(clouds[1])
	test.That(t, minPt, test.ShouldResemble, r3.Vector{X: 30, Y: 0, Z: 0})
	test.That(t, maxPt, test.ShouldResemble, r3.Vector{X: 30, Y: 1, Z: 1})
}

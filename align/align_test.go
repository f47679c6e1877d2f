package align

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/cloudalign/pointcloud"
)

func TestParseMethod(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Method
	}{
		{"com", MethodCOM},
		{"COM", MethodCOM},
		{"c", MethodCOM},
		{"Co", MethodCOM},
		{"pca", MethodPCA},
		{"P", MethodPCA},
		{"pc", MethodPCA},
		{"rigid", MethodRigidCPD},
		{"RIGID", MethodRigidCPD},
		{"r", MethodRigidCPD},
	} {
		got, err := ParseMethod(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, tc.want)
	}

	for _, in := range []string{"", "icp", "comet", "pcx", "rigidity"} {
		_, err := ParseMethod(in)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func driverCollection() *pointcloud.Collection {
	moving := skewedCloud()
	coll := pointcloud.NewCollection()
	coll.Add("moving_a", moving.Clone())
	coll.Add("moving_b", moving.Clone())
	coll.Add("reference", translated(moving, r3.Vector{X: 5, Y: 5, Z: 5}))
	return coll
}

func TestAlignPointsCOM(t *testing.T) {
	logger := golog.NewTestLogger(t)
	coll := driverCollection()

	cfg := Config{
		Method:              "com",
		MovingSelection:     "^moving_",
		StationarySelection: "^reference$",
	}
	err := AlignPoints(context.Background(), cfg, coll, logger)
	test.That(t, err, test.ShouldBeNil)

	stationaryClouds, err := coll.Select("^reference$")
	test.That(t, err, test.ShouldBeNil)
	stationary := stationaryClouds[0].Cloud
	comStationary := pointcloud.CalculateMeanOfPointCloud(stationary)

	movingClouds, err := coll.Select("^moving_")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, movingClouds, test.ShouldHaveLength, 2)
	for _, nc := range movingClouds {
		com := pointcloud.CalculateMeanOfPointCloud(nc.Cloud)
		test.That(t, com.X, test.ShouldAlmostEqual, comStationary.X, 1e-9)
		test.That(t, com.Y, test.ShouldAlmostEqual, comStationary.Y, 1e-9)
		test.That(t, com.Z, test.ShouldAlmostEqual, comStationary.Z, 1e-9)
	}

	// the reference cloud itself is untouched
	test.That(t, stationary.At(0), test.ShouldResemble, skewedCloud().At(0).Add(r3.Vector{X: 5, Y: 5, Z: 5}))
}

func TestAlignPointsPCA(t *testing.T) {
	logger := golog.NewTestLogger(t)
	coll := driverCollection()

	cfg := Config{
		Method:              "pca",
		MovingSelection:     "moving_a",
		StationarySelection: "last",
	}
	err := AlignPoints(context.Background(), cfg, coll, logger)
	test.That(t, err, test.ShouldBeNil)

	movingClouds, err := coll.Select("moving_a")
	test.That(t, err, test.ShouldBeNil)
	want := translated(skewedCloud(), r3.Vector{X: 5, Y: 5, Z: 5})
	got := movingClouds[0].Cloud
	for i := 0; i < got.Size(); i++ {
		test.That(t, got.At(i).X, test.ShouldAlmostEqual, want.At(i).X, 1e-6)
		test.That(t, got.At(i).Y, test.ShouldAlmostEqual, want.At(i).Y, 1e-6)
		test.That(t, got.At(i).Z, test.ShouldAlmostEqual, want.At(i).Z, 1e-6)
	}
}

func TestAlignPointsRigid(t *testing.T) {
	logger := golog.NewTestLogger(t)
	coll := driverCollection()

	cfg := Config{
		Method:              "rigid",
		MovingSelection:     "moving_b",
		StationarySelection: "reference",
		CPD:                 DefaultCPDParams(),
	}
	err := AlignPoints(context.Background(), cfg, coll, logger)
	test.That(t, err, test.ShouldBeNil)

	movingClouds, err := coll.Select("moving_b")
	test.That(t, err, test.ShouldBeNil)
	want := translated(skewedCloud(), r3.Vector{X: 5, Y: 5, Z: 5})
	got := movingClouds[0].Cloud
	for i := 0; i < got.Size(); i++ {
		test.That(t, got.At(i).X, test.ShouldAlmostEqual, want.At(i).X, 0.05)
		test.That(t, got.At(i).Y, test.ShouldAlmostEqual, want.At(i).Y, 0.05)
		test.That(t, got.At(i).Z, test.ShouldAlmostEqual, want.At(i).Z, 0.05)
	}
}

func TestAlignPointsConfigErrors(t *testing.T) {
	logger := golog.NewTestLogger(t)
	coll := driverCollection()

	// unknown method
	err := AlignPoints(context.Background(), Config{
		Method:              "icp",
		MovingSelection:     "all",
		StationarySelection: "last",
	}, coll, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not understood")

	// zero stationary clouds
	err = AlignPoints(context.Background(), Config{
		Method:              "com",
		MovingSelection:     "all",
		StationarySelection: "none",
	}, coll, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "single stationary")

	// multiple stationary clouds
	err = AlignPoints(context.Background(), Config{
		Method:              "com",
		MovingSelection:     "moving_a",
		StationarySelection: "all",
	}, coll, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "single stationary")
}

func TestAlignPointsSkipsStationaryInMovingSelection(t *testing.T) {
	logger := golog.NewTestLogger(t)
	coll := driverCollection()

	cfg := Config{
		Method:              "com",
		MovingSelection:     "all",
		StationarySelection: "reference",
	}
	err := AlignPoints(context.Background(), cfg, coll, logger)
	test.That(t, err, test.ShouldBeNil)

	// the reference cloud was in the moving selection but stays untouched
	stationaryClouds, err := coll.Select("reference")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stationaryClouds[0].Cloud.At(0), test.ShouldResemble, skewedCloud().At(0).Add(r3.Vector{X: 5, Y: 5, Z: 5}))
}

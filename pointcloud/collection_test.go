package pointcloud

import (
	"testing"

	"go.viam.com/test"
)

func makeCollection(t *testing.T) *Collection {
	t.Helper()
	clouds := makeClouds(t)
	coll := NewCollection()
	coll.Add("ct_chest", clouds[0])
	coll.Add("mr_chest", clouds[1])
	coll.Add("ct_head", clouds[0].Clone())
	return coll
}

func TestSelectKeywords(t *testing.T) {
	coll := makeCollection(t)

	none, err := coll.Select("none")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, none, test.ShouldHaveLength, 0)

	last, err := coll.Select("LAST")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, last, test.ShouldHaveLength, 1)
	test.That(t, last[0].Name, test.ShouldEqual, "ct_head")

	all, err := coll.Select("all")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, 3)
}

func TestSelectPattern(t *testing.T) {
	coll := makeCollection(t)

	chest, err := coll.Select("chest")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, chest, test.ShouldHaveLength, 2)

	ct, err := coll.Select("^ct_")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ct, test.ShouldHaveLength, 2)
	test.That(t, ct[0].Name, test.ShouldEqual, "ct_chest")
	test.That(t, ct[1].Name, test.ShouldEqual, "ct_head")

	missing, err := coll.Select("^pet_")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, missing, test.ShouldHaveLength, 0)

	_, err = coll.Select("([")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid point cloud selection")
}

func TestSelectEmptyCollection(t *testing.T) {
	coll := NewCollection()
	last, err := coll.Select("last")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, last, test.ShouldHaveLength, 0)
}

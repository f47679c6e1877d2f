package pointcloud

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Named pairs a point cloud with the label the host knows it by.
type Named struct {
	Name  string
	Cloud *PointCloud
}

// Collection is an ordered set of named point clouds. Order matters: the
// "last" selection keyword refers to the most recently added cloud.
type Collection struct {
	clouds []Named
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{}
}

// Add appends a named cloud to the collection.
func (c *Collection) Add(name string, cloud *PointCloud) {
	c.clouds = append(c.clouds, Named{Name: name, Cloud: cloud})
}

// All returns every cloud in insertion order.
func (c *Collection) All() []Named {
	return c.clouds
}

// Len returns the number of clouds in the collection.
func (c *Collection) Len() int {
	return len(c.clouds)
}

// Select returns the subset of clouds matched by the given selection
// expression. The keywords "none", "last", and "all" are recognized
// case-insensitively; anything else is treated as a regular expression
// matched against cloud names.
func (c *Collection) Select(expr string) ([]Named, error) {
	switch {
	case strings.EqualFold(expr, "none"):
		return nil, nil
	case strings.EqualFold(expr, "last"):
		if len(c.clouds) == 0 {
			return nil, nil
		}
		return c.clouds[len(c.clouds)-1:], nil
	case strings.EqualFold(expr, "all"):
		return c.clouds, nil
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid point cloud selection %q", expr)
	}
	var matched []Named
	for _, nc := range c.clouds {
		if re.MatchString(nc.Name) {
			matched = append(matched, nc)
		}
	}
	return matched, nil
}

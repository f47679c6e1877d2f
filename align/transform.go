// Package align registers a "moving" point cloud against a "stationary"
// reference cloud. Three strategies are available: center-of-mass alignment,
// principal-axis alignment, and a rigid coherent-point-drift model.
package align

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/cloudalign/pointcloud"
)

// AffineTransform is a 4x4 augmented transform matrix in the column-vector
// convention:
//
//	(0,0)  (0,1)  (0,2) | (0,3)
//	(1,0)  (1,1)  (1,2) | (1,3)        linear transform | translation
//	(2,0)  (2,1)  (2,2) | (2,3)   =    -----------------------------
//	--------------------------              (zeros)     |   one
//	(3,0)  (3,1)  (3,2) | (3,3)
//
// The bottom row must remain (0,0,0,1) for the transform to stay affine, so
// only the top 3x4 block is writable.
type AffineTransform struct {
	t [4][4]float64
}

// ErrFixedCoefficient is returned when a write targets the fixed bottom row.
var ErrFixedCoefficient = errors.New("tried to set a fixed coefficient of an affine transform")

// ErrNotAffine indicates the homogeneous coordinate of an applied point was
// not 1. It cannot happen through the public setters and signals an internal
// consistency failure.
var ErrNotAffine = errors.New("transformation is not affine")

// NewAffineTransform returns the identity transform.
func NewAffineTransform() *AffineTransform {
	return &AffineTransform{
		t: [4][4]float64{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
			{0, 0, 0, 1},
		},
	}
}

// Coeff returns the coefficient at row i, column j of the augmented matrix.
func (at *AffineTransform) Coeff(i, j int) float64 {
	return at.t[i][j]
}

// SetCoeff sets one of the 12 free coefficients (rows 0..2, columns 0..3).
func (at *AffineTransform) SetCoeff(i, j int, v float64) error {
	if i < 0 || i > 2 || j < 0 || j > 3 {
		return errors.Wrapf(ErrFixedCoefficient, "coefficient (%d,%d)", i, j)
	}
	at.t[i][j] = v
	return nil
}

// SetLinear copies a 3x3 matrix into the linear block.
func (at *AffineTransform) SetLinear(l mat.Matrix) error {
	r, c := l.Dims()
	if r != 3 || c != 3 {
		return errors.Errorf("linear block must be 3x3, got %dx%d", r, c)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			at.t[i][j] = l.At(i, j)
		}
	}
	return nil
}

// SetTranslation sets the translation column.
func (at *AffineTransform) SetTranslation(v r3.Vector) {
	at.t[0][3] = v.X
	at.t[1][3] = v.Y
	at.t[2][3] = v.Z
}

// Linear returns a copy of the 3x3 linear block.
func (at *AffineTransform) Linear() *mat.Dense {
	l := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			l.Set(i, j, at.t[i][j])
		}
	}
	return l
}

// Translation returns the translation column.
func (at *AffineTransform) Translation() r3.Vector {
	return r3.Vector{X: at.t[0][3], Y: at.t[1][3], Z: at.t[2][3]}
}

// Det returns the determinant of the linear block. A negative value means
// the transform contains a reflection.
func (at *AffineTransform) Det() float64 {
	return mat.Det(at.Linear())
}

// ApplyToPoint applies the full transformation to a point. An implied
// homogeneous coordinate other than 1 is an internal invariant violation.
func (at *AffineTransform) ApplyToPoint(in r3.Vector) (r3.Vector, error) {
	x := in.X*at.t[0][0] + in.Y*at.t[0][1] + in.Z*at.t[0][2] + at.t[0][3]
	y := in.X*at.t[1][0] + in.Y*at.t[1][1] + in.Z*at.t[1][2] + at.t[1][3]
	z := in.X*at.t[2][0] + in.Y*at.t[2][1] + in.Z*at.t[2][2] + at.t[2][3]
	w := in.X*at.t[3][0] + in.Y*at.t[3][1] + in.Z*at.t[3][2] + at.t[3][3]

	if w != 1.0 {
		return r3.Vector{}, errors.Wrapf(ErrNotAffine, "homogeneous coordinate %v", w)
	}
	return r3.Vector{X: x, Y: y, Z: z}, nil
}

// ApplyTo applies the transformation to every point of the cloud in place.
// Application is all-or-nothing: points are mapped into a scratch slice first
// and the cloud is only mutated once every point has mapped cleanly.
func (at *AffineTransform) ApplyTo(cloud *pointcloud.PointCloud) error {
	mapped := make([]r3.Vector, cloud.Size())
	var ferr error
	cloud.Iterate(0, 0, func(i int, p r3.Vector) bool {
		mapped[i], ferr = at.ApplyToPoint(p)
		return ferr == nil
	})
	if ferr != nil {
		return ferr
	}
	for i, p := range mapped {
		cloud.SetAt(i, p)
	}
	return nil
}

// WriteTo writes the transform to the given path as text, all 16
// coefficients of the augmented matrix, row-major, one row per line.
func (at *AffineTransform) WriteTo(fn string) (err error) {
	f, err := os.OpenFile(filepath.Clean(fn), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for i := 0; i < 4; i++ {
		if _, err = fmt.Fprintf(f, "%v %v %v %v\n", at.t[i][0], at.t[i][1], at.t[i][2], at.t[i][3]); err != nil {
			return err
		}
	}
	return nil
}

// ReadAffineTransformFromFile reads a transform written by WriteTo, checking
// that the stored bottom row is still (0,0,0,1).
func ReadAffineTransformFromFile(fn string) (at *AffineTransform, err error) {
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			at, err = nil, cerr
		}
	}()

	at = NewAffineTransform()
	scanner := bufio.NewScanner(f)
	row := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if row > 3 {
			return nil, errors.Errorf("transform file %q has more than 4 rows", fn)
		}
		tokens := strings.Fields(line)
		if len(tokens) != 4 {
			return nil, errors.Errorf("transform file %q row %d has %d coefficients, want 4", fn, row, len(tokens))
		}
		for j, token := range tokens {
			v, perr := strconv.ParseFloat(token, 64)
			if perr != nil {
				return nil, errors.Wrapf(perr, "transform file %q row %d", fn, row)
			}
			at.t[row][j] = v
		}
		row++
	}
	if serr := scanner.Err(); serr != nil {
		return nil, serr
	}
	if row != 4 {
		return nil, errors.Errorf("transform file %q has %d rows, want 4", fn, row)
	}
	if at.t[3][0] != 0 || at.t[3][1] != 0 || at.t[3][2] != 0 || at.t[3][3] != 1 {
		return nil, errors.Wrapf(ErrNotAffine, "transform file %q bottom row", fn)
	}
	return at, err
}

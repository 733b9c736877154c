// Package transform implements composable coordinate transforms and
// their application to volumes. A transform produced by registration
// is an opaque, append-only chain of elementary steps; chains from
// independent registrations are concatenated, never re-solved, and
// always replayed in the order they were authored.
package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"lesionflow/pkg/imaging"
	"lesionflow/pkg/interpolation"
)

// Step is one elementary coordinate mapping. Following resampling
// (pull) semantics, MapPoint takes a physical point in the step's
// fixed space and returns the corresponding point in its moving space.
type Step interface {
	MapPoint(p [3]float64) [3]float64
}

// invertible is implemented by steps that have a closed-form inverse
type invertible interface {
	Inverse() (Step, error)
}

// AffineStep is a linear mapping in homogeneous coordinates. Rigid
// transforms are affine steps whose linear part is a rotation.
type AffineStep struct {
	m *mat.Dense // 4x4, last row (0 0 0 1)
}

// NewAffine wraps a 4x4 homogeneous matrix as a step. The bottom row
// must be (0 0 0 1).
func NewAffine(m *mat.Dense) (*AffineStep, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return nil, fmt.Errorf("transform: affine matrix is %dx%d, want 4x4", r, c)
	}
	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || m.At(3, 3) != 1 {
		return nil, fmt.Errorf("transform: affine matrix bottom row is not (0 0 0 1)")
	}
	out := mat.NewDense(4, 4, nil)
	out.Copy(m)
	return &AffineStep{m: out}, nil
}

// NewAffineFromITK builds an affine step from the ITK transform-file
// parameterization: a row-major 3x3 matrix followed by a translation,
// applied about a fixed center c as y = A(p-c) + t + c. This is the
// format registration solvers emit on disk.
func NewAffineFromITK(params [12]float64, center [3]float64) *AffineStep {
	m := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, params[3*r+c])
		}
	}
	// offset = t + c - A*c folds the rotation center into the
	// translation column
	for r := 0; r < 3; r++ {
		off := params[9+r] + center[r]
		for c := 0; c < 3; c++ {
			off -= params[3*r+c] * center[c]
		}
		m.Set(r, 3, off)
	}
	m.Set(3, 3, 1)
	step, _ := NewAffine(m)
	return step
}

// IdentityAffine returns the identity mapping as an affine step
func IdentityAffine() *AffineStep {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	step, _ := NewAffine(m)
	return step
}

// Translation returns an affine step translating points by (tx,ty,tz)
func Translation(tx, ty, tz float64) *AffineStep {
	step := IdentityAffine()
	step.m.Set(0, 3, tx)
	step.m.Set(1, 3, ty)
	step.m.Set(2, 3, tz)
	return step
}

// MapPoint applies the affine mapping to a physical point
func (a *AffineStep) MapPoint(p [3]float64) [3]float64 {
	var q [3]float64
	for r := 0; r < 3; r++ {
		q[r] = a.m.At(r, 0)*p[0] + a.m.At(r, 1)*p[1] + a.m.At(r, 2)*p[2] + a.m.At(r, 3)
	}
	return q
}

// Matrix returns a copy of the 4x4 homogeneous matrix
func (a *AffineStep) Matrix() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	out.Copy(a.m)
	return out
}

// Then composes two affine steps into one that applies a first and b
// second: Then(b).MapPoint(p) == b.MapPoint(a.MapPoint(p)). Affine
// steps with rotation components do not commute, so the order matters.
func (a *AffineStep) Then(b *AffineStep) *AffineStep {
	m := mat.NewDense(4, 4, nil)
	m.Mul(b.m, a.m)
	step, _ := NewAffine(m)
	return step
}

// Inverse returns the inverse affine mapping
func (a *AffineStep) Inverse() (Step, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.m); err != nil {
		return nil, fmt.Errorf("transform: affine is singular: %w", err)
	}
	return NewAffine(&inv)
}

// DisplacementStep is a dense non-linear mapping: a vector field
// sampled on a fixed-space grid, one displacement component per axis.
// Mapping a point adds the trilinearly interpolated displacement to
// it; points outside the field receive zero displacement.
type DisplacementStep struct {
	comp [3]*imaging.Image
}

// NewDisplacement builds a displacement step from the three component
// fields, which must share one voxel grid.
func NewDisplacement(comp [3]*imaging.Image) (*DisplacementStep, error) {
	for i := 1; i < 3; i++ {
		if !comp[0].SameGrid(comp[i]) {
			return nil, fmt.Errorf("%w: displacement components on differing grids", imaging.ErrGridMismatch)
		}
	}
	return &DisplacementStep{comp: comp}, nil
}

// MapPoint adds the interpolated displacement vector to p
func (d *DisplacementStep) MapPoint(p [3]float64) [3]float64 {
	idx := d.comp[0].PhysicalToIndex(p)
	var tri interpolation.Trilinear
	var q [3]float64
	for axis := 0; axis < 3; axis++ {
		v, ok := tri.Sample(d.comp[axis], idx[0], idx[1], idx[2])
		if !ok {
			v = 0
		}
		q[axis] = p[axis] + v
	}
	return q
}

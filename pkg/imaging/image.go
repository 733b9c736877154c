// Package imaging provides the immutable volume type the pipeline
// operates on, together with its coordinate-frame metadata and the
// grid-level operations that require two volumes to share an identical
// voxel grid.
package imaging

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

// Kind tags a volume as continuous intensity data or a discrete label
// mask. The tag drives interpolation policy: intensity images are
// resampled with trilinear interpolation, label masks with nearest
// neighbor so no fractional values leak across label boundaries.
type Kind int

const (
	// Intensity marks continuous-valued image data
	Intensity Kind = iota

	// LabelMask marks discrete-valued label data
	LabelMask
)

// String returns the human-readable name of the kind
func (k Kind) String() string {
	switch k {
	case Intensity:
		return "intensity"
	case LabelMask:
		return "label-mask"
	default:
		return "unknown"
	}
}

// FrameID identifies the coordinate frame an image currently occupies.
// A frame is named after the image that served as "fixed" in the
// registration that produced it (or after the image itself for native
// space). Transform application refuses to run when the declared
// moving frame of a transform does not match the source image's frame.
type FrameID string

// geomTol is the tolerance used for geometry comparisons. Spacing and
// direction values survive float32 NIfTI headers, so exact equality is
// too strict.
const geomTol = 1e-4

// Image is an immutable 3D volume with coordinate-frame metadata.
// Voxel data is stored as a flat slice in x-fastest order, matching
// index = (z*ny + y)*nx + x. Operations never mutate an Image; they
// return new ones.
type Image struct {
	data      []float64
	dims      [3]int
	spacing   [3]float64
	origin    [3]float64
	direction [3][3]float64
	kind      Kind
	frame     FrameID
}

// IdentityDirection returns the identity direction matrix (voxel axes
// aligned with physical axes).
func IdentityDirection() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// New constructs an Image and validates its geometry invariants:
// positive dimensions, data length matching the dimensions, strictly
// positive spacing, and an orthonormal direction matrix.
func New(data []float64, dims [3]int, spacing, origin [3]float64, direction [3][3]float64, kind Kind, frame FrameID) (*Image, error) {
	for axis, n := range dims {
		if n <= 0 {
			return nil, fmt.Errorf("%w: dimension %d is %d", ErrBadGeometry, axis, n)
		}
	}
	if want := dims[0] * dims[1] * dims[2]; len(data) != want {
		return nil, fmt.Errorf("%w: data length %d does not match dims %v (want %d)", ErrBadGeometry, len(data), dims, want)
	}
	for axis, s := range spacing {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: spacing %g on axis %d is not strictly positive", ErrBadGeometry, s, axis)
		}
	}
	if !orthonormal(direction) {
		return nil, fmt.Errorf("%w: direction matrix %v is not orthonormal", ErrBadGeometry, direction)
	}
	return &Image{
		data:      data,
		dims:      dims,
		spacing:   spacing,
		origin:    origin,
		direction: direction,
		kind:      kind,
		frame:     frame,
	}, nil
}

// orthonormal reports whether the columns of d have unit norm and are
// mutually orthogonal within tolerance.
func orthonormal(d [3][3]float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += d[k][i] * d[k][j]
			}
			want := 0.0
			if i == j {
				want = 1.0
			}
			if !scalar.EqualWithinAbs(dot, want, geomTol) {
				return false
			}
		}
	}
	return true
}

// Dims returns the volume dimensions (nx, ny, nz)
func (im *Image) Dims() [3]int { return im.dims }

// Spacing returns the voxel spacing in mm per axis
func (im *Image) Spacing() [3]float64 { return im.spacing }

// Origin returns the physical position of voxel (0,0,0)
func (im *Image) Origin() [3]float64 { return im.origin }

// Direction returns the orthonormal direction cosine matrix whose
// columns are the physical directions of the voxel axes
func (im *Image) Direction() [3][3]float64 { return im.direction }

// Kind returns the image kind tag
func (im *Image) Kind() Kind { return im.kind }

// Frame returns the coordinate frame the image currently occupies
func (im *Image) Frame() FrameID { return im.frame }

// Data returns the underlying voxel slice in x-fastest order. Callers
// must treat the slice as read-only; Images are immutable values.
func (im *Image) Data() []float64 { return im.data }

// At returns the voxel value at index (x, y, z). Indices must be in
// range; At performs no bounds checking beyond the slice access.
func (im *Image) At(x, y, z int) float64 {
	return im.data[(z*im.dims[1]+y)*im.dims[0]+x]
}

// WithFrame returns a copy of the image relabeled to occupy frame.
// The voxel data is shared: relabeling never rewrites voxels.
func (im *Image) WithFrame(frame FrameID) *Image {
	out := *im
	out.frame = frame
	return &out
}

// WithKind returns a copy of the image carrying a different kind tag.
// Used when an external tool emits a mask without kind metadata.
func (im *Image) WithKind(kind Kind) *Image {
	out := *im
	out.kind = kind
	return &out
}

// Clone returns a deep copy of the image
func (im *Image) Clone() *Image {
	out := *im
	out.data = make([]float64, len(im.data))
	copy(out.data, im.data)
	return &out
}

// IndexToPhysical maps a (possibly fractional) voxel index to a
// physical point: p = origin + direction * (spacing .* index).
func (im *Image) IndexToPhysical(ix, iy, iz float64) [3]float64 {
	sx := ix * im.spacing[0]
	sy := iy * im.spacing[1]
	sz := iz * im.spacing[2]
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = im.origin[r] + im.direction[r][0]*sx + im.direction[r][1]*sy + im.direction[r][2]*sz
	}
	return p
}

// PhysicalToIndex maps a physical point to continuous voxel index
// coordinates. Because the direction matrix is orthonormal its inverse
// is its transpose, so no linear solve is needed.
func (im *Image) PhysicalToIndex(p [3]float64) [3]float64 {
	dx := p[0] - im.origin[0]
	dy := p[1] - im.origin[1]
	dz := p[2] - im.origin[2]
	var idx [3]float64
	for c := 0; c < 3; c++ {
		s := im.direction[0][c]*dx + im.direction[1][c]*dy + im.direction[2][c]*dz
		idx[c] = s / im.spacing[c]
	}
	return idx
}

// SameGrid reports whether two images occupy an identical voxel grid:
// equal dimensions and, within tolerance, equal spacing, origin and
// direction. Frame labels are not compared; see Mask for the
// frame-aware check.
func (im *Image) SameGrid(other *Image) bool {
	if im.dims != other.dims {
		return false
	}
	for i := 0; i < 3; i++ {
		if !scalar.EqualWithinAbs(im.spacing[i], other.spacing[i], geomTol) {
			return false
		}
		if !scalar.EqualWithinAbs(im.origin[i], other.origin[i], geomTol) {
			return false
		}
		for j := 0; j < 3; j++ {
			if !scalar.EqualWithinAbs(im.direction[i][j], other.direction[i][j], geomTol) {
				return false
			}
		}
	}
	return true
}

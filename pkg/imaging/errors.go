package imaging

import "errors"

var (
	// ErrBadGeometry reports an image that violates its construction
	// invariants: non-positive dimensions or spacing, mismatched data
	// length, or a non-orthonormal direction matrix.
	ErrBadGeometry = errors.New("imaging: invalid geometry")

	// ErrGridMismatch reports an elementwise operation attempted on
	// images whose voxel grids (shape, spacing, origin or direction)
	// differ. Always fatal: proceeding would silently combine voxels
	// from different anatomical locations.
	ErrGridMismatch = errors.New("imaging: voxel grid mismatch")

	// ErrFormatMismatch reports an image of the wrong kind for an
	// operation, e.g. a label mask offered as a registration input or
	// an intensity image offered where a binary mask is required.
	ErrFormatMismatch = errors.New("imaging: image kind mismatch")
)

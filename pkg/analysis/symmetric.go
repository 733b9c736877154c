// Package analysis builds the bilateral anatomical reference mask and
// measures how a lesion overlaps it. Both operations are pure
// functions over standard-space label images.
package analysis

import (
	"fmt"

	"lesionflow/pkg/imaging"
)

// Labels used in the symmetric reference mask.
const (
	// LeftLabel marks voxels of the original (left-hemisphere) mask
	LeftLabel = 1

	// RightLabel marks voxels of the mirrored (right-hemisphere) mask
	RightLabel = 2
)

// BuildSymmetric constructs a bilateral reference mask from a
// unilateral binary mask by reflecting it across the left-right
// anatomical axis (array axis 0 in standard-space convention).
// Original-mask voxels are labeled 1 and mirrored voxels 2; where the
// two regions overlap near the midline the mirror's label 2 wins.
// That overwrite is the documented tie-break, not an error.
//
// The input must already be sampled onto the symmetric standard-space
// grid: reflection across an array axis is only anatomically
// meaningful in a template's own coordinate system.
func BuildSymmetric(mask *imaging.Image) (*imaging.Image, error) {
	if mask.Kind() != imaging.LabelMask {
		return nil, fmt.Errorf("%w: symmetric-mask input is %s, want label-mask",
			imaging.ErrFormatMismatch, mask.Kind())
	}

	dims := mask.Dims()
	nx, ny, nz := dims[0], dims[1], dims[2]
	out := make([]float64, nx*ny*nz)

	// Pass 1: original foreground becomes label 1
	for i, v := range mask.Data() {
		if v > 0 {
			out[i] = LeftLabel
		}
	}

	// Pass 2: the reflection writes label 2, overwriting label 1 at
	// any midline overlap
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			row := (z*ny + y) * nx
			for x := 0; x < nx; x++ {
				if mask.Data()[row+x] > 0 {
					out[row+(nx-1-x)] = RightLabel
				}
			}
		}
	}

	return imaging.New(out, dims, mask.Spacing(), mask.Origin(), mask.Direction(),
		imaging.LabelMask, mask.Frame())
}

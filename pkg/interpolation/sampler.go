// Package interpolation provides the voxel samplers used when a volume
// is resampled onto another grid. The sampler choice is what keeps
// label masks discrete: intensity images are sampled trilinearly,
// label masks with nearest neighbor so a resampled mask can only ever
// contain values drawn from the original label set.
package interpolation

import (
	"math"

	"lesionflow/pkg/imaging"
)

// Sampler reads an image at continuous voxel index coordinates.
// The boolean result is false when the point falls outside the volume;
// callers fill such voxels with background (zero).
type Sampler interface {
	Sample(img *imaging.Image, ix, iy, iz float64) (float64, bool)
}

// ForKind returns the sampler mandated by the image kind: Trilinear
// for intensity data, Nearest for label masks.
func ForKind(kind imaging.Kind) Sampler {
	if kind == imaging.LabelMask {
		return Nearest{}
	}
	return Trilinear{}
}

// Trilinear interpolates linearly along all three axes from the eight
// surrounding voxels. Suitable only for continuous intensity data.
type Trilinear struct{}

// Sample returns the trilinearly interpolated value at (ix, iy, iz)
func (Trilinear) Sample(img *imaging.Image, ix, iy, iz float64) (float64, bool) {
	dims := img.Dims()
	if ix < 0 || iy < 0 || iz < 0 ||
		ix > float64(dims[0]-1) || iy > float64(dims[1]-1) || iz > float64(dims[2]-1) {
		return 0, false
	}

	x0, y0, z0 := int(math.Floor(ix)), int(math.Floor(iy)), int(math.Floor(iz))
	x1, y1, z1 := clampIdx(x0+1, dims[0]), clampIdx(y0+1, dims[1]), clampIdx(z0+1, dims[2])
	fx := ix - float64(x0)
	fy := iy - float64(y0)
	fz := iz - float64(z0)

	c000 := img.At(x0, y0, z0)
	c100 := img.At(x1, y0, z0)
	c010 := img.At(x0, y1, z0)
	c110 := img.At(x1, y1, z0)
	c001 := img.At(x0, y0, z1)
	c101 := img.At(x1, y0, z1)
	c011 := img.At(x0, y1, z1)
	c111 := img.At(x1, y1, z1)

	c00 := c000*(1-fx) + c100*fx
	c10 := c010*(1-fx) + c110*fx
	c01 := c001*(1-fx) + c101*fx
	c11 := c011*(1-fx) + c111*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz, true
}

// Nearest returns the value of the closest voxel. This is the only
// sampler permitted for label masks: it guarantees the output value
// set is a subset of the input value set.
type Nearest struct{}

// Sample returns the nearest voxel value to (ix, iy, iz)
func (Nearest) Sample(img *imaging.Image, ix, iy, iz float64) (float64, bool) {
	dims := img.Dims()
	x := int(math.Round(ix))
	y := int(math.Round(iy))
	z := int(math.Round(iz))
	if x < 0 || y < 0 || z < 0 || x >= dims[0] || y >= dims[1] || z >= dims[2] {
		return 0, false
	}
	return img.At(x, y, z), true
}

func clampIdx(i, n int) int {
	if i > n-1 {
		return n - 1
	}
	return i
}

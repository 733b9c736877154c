package transform

import (
	"fmt"

	"lesionflow/pkg/imaging"
	"lesionflow/pkg/interpolation"
)

// Apply resamples source onto target's voxel grid through the given
// transform chain. The chain is typically the handle from a single
// registration, but may be several handles when an image must cross
// multiple frames (native -> within-subject reference -> standard
// space); they are concatenated here, never re-solved.
//
// The interpolation policy follows source.Kind(): trilinear for
// intensity images, nearest neighbor for label masks. The output
// occupies exactly target's grid and frame and carries source's kind,
// so it can enter elementwise arithmetic with other images in that
// frame directly.
//
// Apply fails with ErrFrameMismatch when the chain's declared moving
// frame does not match source's frame, or its fixed frame does not
// match target's. These checks are the guard against silently warping
// an image with a transform computed for a different one.
func Apply(target, source *imaging.Image, handles ...*Handle) (*imaging.Image, error) {
	chain, err := Concat(handles...)
	if err != nil {
		return nil, err
	}
	if chain.Moving() != source.Frame() {
		return nil, fmt.Errorf("%w: transform moves from frame %q but source is in frame %q",
			ErrFrameMismatch, chain.Moving(), source.Frame())
	}
	if chain.Fixed() != target.Frame() {
		return nil, fmt.Errorf("%w: transform targets frame %q but target grid is frame %q",
			ErrFrameMismatch, chain.Fixed(), target.Frame())
	}

	sampler := interpolation.ForKind(source.Kind())
	dims := target.Dims()
	out := make([]float64, dims[0]*dims[1]*dims[2])

	i := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				p := target.IndexToPhysical(float64(x), float64(y), float64(z))
				q := chain.MapPoint(p)
				idx := source.PhysicalToIndex(q)
				if v, ok := sampler.Sample(source, idx[0], idx[1], idx[2]); ok {
					out[i] = v
				}
				i++
			}
		}
	}

	return imaging.New(out, dims, target.Spacing(), target.Origin(), target.Direction(),
		source.Kind(), target.Frame())
}

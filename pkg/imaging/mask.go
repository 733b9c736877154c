package imaging

import "fmt"

// Mask multiplies an intensity image elementwise by a binary label
// mask and returns the brain-extracted result as a new intensity
// image in the input image's coordinate frame.
//
// Both images must occupy the identical voxel grid and the identical
// coordinate frame; any disagreement fails with ErrGridMismatch rather
// than trusting that same-shaped arrays are anatomically aligned.
func Mask(img, mask *Image) (*Image, error) {
	if img.Kind() != Intensity {
		return nil, fmt.Errorf("%w: mask target is %s, want intensity", ErrFormatMismatch, img.Kind())
	}
	if mask.Kind() != LabelMask {
		return nil, fmt.Errorf("%w: mask is %s, want label-mask", ErrFormatMismatch, mask.Kind())
	}
	if err := binary(mask); err != nil {
		return nil, err
	}
	if !img.SameGrid(mask) {
		return nil, fmt.Errorf("%w: image grid %v/%v vs mask grid %v/%v", ErrGridMismatch,
			img.Dims(), img.Spacing(), mask.Dims(), mask.Spacing())
	}
	if img.Frame() != mask.Frame() {
		return nil, fmt.Errorf("%w: image in frame %q, mask in frame %q", ErrGridMismatch, img.Frame(), mask.Frame())
	}

	src := img.Data()
	m := mask.Data()
	out := make([]float64, len(src))
	for i, v := range src {
		if m[i] != 0 {
			out[i] = v
		}
	}
	return New(out, img.Dims(), img.Spacing(), img.Origin(), img.Direction(), Intensity, img.Frame())
}

// binary verifies that every voxel of a mask is 0 or 1
func binary(mask *Image) error {
	for i, v := range mask.Data() {
		if v != 0 && v != 1 {
			return fmt.Errorf("%w: mask voxel %d has value %g, want 0 or 1", ErrFormatMismatch, i, v)
		}
	}
	return nil
}

// Package visualization renders quality-control snapshots of pipeline
// volumes: grayscale mid-slices of registered images that make a
// misregistration obvious at a glance without loading the NIfTI files
// into a viewer.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"lesionflow/pkg/imaging"
)

// Snapshotter extracts 2D slices from a volume for visual inspection
type Snapshotter struct {
	img *imaging.Image

	// lo and hi are the intensity bounds used for display scaling
	lo, hi float64
}

// NewSnapshotter creates a snapshotter for the given volume
func NewSnapshotter(img *imaging.Image) *Snapshotter {
	s := &Snapshotter{img: img}
	data := img.Data()
	if len(data) == 0 {
		return s
	}
	s.lo, s.hi = data[0], data[0]
	for _, v := range data {
		if v < s.lo {
			s.lo = v
		}
		if v > s.hi {
			s.hi = v
		}
	}
	return s
}

// gray maps a voxel value to a 16-bit display intensity
func (s *Snapshotter) gray(v float64) color.Gray16 {
	if s.hi <= s.lo {
		return color.Gray16{}
	}
	scaled := (v - s.lo) / (s.hi - s.lo) * 65535
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 65535 {
		scaled = 65535
	}
	return color.Gray16{Y: uint16(scaled)}
}

// ExtractSlice extracts a 2D slice from the volume along the specified
// axis at the given position
func (s *Snapshotter) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	dims := s.img.Dims()

	var img *image.Gray16
	switch axis {
	case "x", "X":
		if position >= dims[0] {
			return nil, fmt.Errorf("position %d exceeds width %d", position, dims[0])
		}
		img = image.NewGray16(image.Rect(0, 0, dims[2], dims[1]))
		for y := 0; y < dims[1]; y++ {
			for z := 0; z < dims[2]; z++ {
				img.SetGray16(z, y, s.gray(s.img.At(position, y, z)))
			}
		}

	case "y", "Y":
		if position >= dims[1] {
			return nil, fmt.Errorf("position %d exceeds height %d", position, dims[1])
		}
		img = image.NewGray16(image.Rect(0, 0, dims[0], dims[2]))
		for z := 0; z < dims[2]; z++ {
			for x := 0; x < dims[0]; x++ {
				img.SetGray16(x, z, s.gray(s.img.At(x, position, z)))
			}
		}

	case "z", "Z":
		if position >= dims[2] {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, dims[2])
		}
		img = image.NewGray16(image.Rect(0, 0, dims[0], dims[1]))
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				img.SetGray16(x, y, s.gray(s.img.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (s *Snapshotter) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveMidSlices renders the central slice along each axis to
// outputDir as <name>_<axis>.jpg
func (s *Snapshotter) SaveMidSlices(outputDir, name string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	dims := s.img.Dims()
	for axis, mid := range map[string]int{"x": dims[0] / 2, "y": dims[1] / 2, "z": dims[2] / 2} {
		slice, err := s.ExtractSlice(axis, mid)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", name, axis))
		if err := s.SaveSlice(slice, filename); err != nil {
			return err
		}
	}
	return nil
}

package imaging

import (
	"errors"
	"math"
	"testing"
)

// uniformImage builds a dims-sized intensity image filled with value
func uniformImage(t *testing.T, dims [3]int, value float64, frame FrameID) *Image {
	t.Helper()
	data := make([]float64, dims[0]*dims[1]*dims[2])
	for i := range data {
		data[i] = value
	}
	img, err := New(data, dims, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, IdentityDirection(), Intensity, frame)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	return img
}

// TestNewValidation verifies that New rejects malformed geometry
func TestNewValidation(t *testing.T) {
	spacing := [3]float64{1, 1, 1}
	origin := [3]float64{0, 0, 0}
	dir := IdentityDirection()

	tests := []struct {
		name    string
		data    []float64
		dims    [3]int
		spacing [3]float64
		dir     [3][3]float64
	}{
		{"zero dimension", make([]float64, 0), [3]int{0, 2, 2}, spacing, dir},
		{"negative dimension", make([]float64, 8), [3]int{-2, 2, 2}, spacing, dir},
		{"data length mismatch", make([]float64, 7), [3]int{2, 2, 2}, spacing, dir},
		{"zero spacing", make([]float64, 8), [3]int{2, 2, 2}, [3]float64{1, 0, 1}, dir},
		{"negative spacing", make([]float64, 8), [3]int{2, 2, 2}, [3]float64{1, 1, -1}, dir},
		{"non-orthonormal direction", make([]float64, 8), [3]int{2, 2, 2}, spacing,
			[3][3]float64{{2, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
		{"degenerate direction", make([]float64, 8), [3]int{2, 2, 2}, spacing,
			[3][3]float64{{1, 0, 0}, {1, 0, 0}, {0, 0, 1}}},
	}

	for _, tt := range tests {
		_, err := New(tt.data, tt.dims, tt.spacing, origin, tt.dir, Intensity, "a")
		if !errors.Is(err, ErrBadGeometry) {
			t.Errorf("%s: expected ErrBadGeometry, got %v", tt.name, err)
		}
	}
}

// TestAtIndexing verifies the x-fastest voxel layout
func TestAtIndexing(t *testing.T) {
	dims := [3]int{3, 4, 5}
	data := make([]float64, 3*4*5)
	for i := range data {
		data[i] = float64(i)
	}
	img, err := New(data, dims, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, IdentityDirection(), Intensity, "a")
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}

	// Voxel (x,y,z) lives at flat index (z*ny+y)*nx+x
	if got := img.At(2, 3, 4); got != float64((4*4+3)*3+2) {
		t.Errorf("Expected voxel value %f, got %f", float64((4*4+3)*3+2), got)
	}
	if got := img.At(0, 0, 0); got != 0 {
		t.Errorf("Expected voxel value 0, got %f", got)
	}
}

// TestPhysicalRoundTrip verifies that IndexToPhysical and
// PhysicalToIndex invert each other for a rotated, offset grid
func TestPhysicalRoundTrip(t *testing.T) {
	// 90-degree rotation about z
	dir := [3][3]float64{
		{0, -1, 0},
		{1, 0, 0},
		{0, 0, 1},
	}
	data := make([]float64, 8)
	img, err := New(data, [3]int{2, 2, 2}, [3]float64{2, 3, 4}, [3]float64{10, -5, 7}, dir, Intensity, "a")
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}

	idx := [3]float64{1, 0.5, 1.25}
	p := img.IndexToPhysical(idx[0], idx[1], idx[2])
	back := img.PhysicalToIndex(p)
	for i := 0; i < 3; i++ {
		if math.Abs(back[i]-idx[i]) > 1e-9 {
			t.Errorf("Round trip mismatch at axis %d: expected %f, got %f", i, idx[i], back[i])
		}
	}

	// Origin maps to index zero
	zero := img.PhysicalToIndex([3]float64{10, -5, 7})
	for i := 0; i < 3; i++ {
		if math.Abs(zero[i]) > 1e-9 {
			t.Errorf("Expected origin at index 0, got %f on axis %d", zero[i], i)
		}
	}
}

// TestSameGrid verifies grid comparison ignores frame and kind but
// catches geometry differences
func TestSameGrid(t *testing.T) {
	a := uniformImage(t, [3]int{4, 4, 4}, 1, "a")
	b := uniformImage(t, [3]int{4, 4, 4}, 2, "b")
	if !a.SameGrid(b) {
		t.Error("Images on the same grid in different frames should compare equal")
	}
	if !a.SameGrid(b.WithKind(LabelMask)) {
		t.Error("Kind should not affect grid comparison")
	}

	c := uniformImage(t, [3]int{4, 4, 5}, 1, "a")
	if a.SameGrid(c) {
		t.Error("Different dimensions should not compare equal")
	}

	data := make([]float64, 64)
	d, err := New(data, [3]int{4, 4, 4}, [3]float64{1, 1, 1.5}, [3]float64{0, 0, 0}, IdentityDirection(), Intensity, "a")
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	if a.SameGrid(d) {
		t.Error("Different spacing should not compare equal")
	}
}

// TestWithFrameAndKind verifies the relabeling helpers share voxels
// but change metadata
func TestWithFrameAndKind(t *testing.T) {
	a := uniformImage(t, [3]int{2, 2, 2}, 3, "a")

	b := a.WithFrame("b")
	if b.Frame() != "b" {
		t.Errorf("Expected frame b, got %s", b.Frame())
	}
	if a.Frame() != "a" {
		t.Errorf("Original frame changed, got %s", a.Frame())
	}

	m := a.WithKind(LabelMask)
	if m.Kind() != LabelMask {
		t.Errorf("Expected kind %s, got %s", LabelMask, m.Kind())
	}
	if a.Kind() != Intensity {
		t.Errorf("Original kind changed, got %s", a.Kind())
	}
}

// TestClone verifies that mutating a clone leaves the source untouched
func TestClone(t *testing.T) {
	a := uniformImage(t, [3]int{2, 2, 2}, 1, "a")
	c := a.Clone()
	c.Data()[0] = 99
	if a.At(0, 0, 0) == 99 {
		t.Error("Clone shares voxel storage with its source")
	}
}

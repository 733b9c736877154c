package nifti

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"lesionflow/pkg/imaging"
)

// testVolume builds a small image with non-trivial geometry
func testVolume(t *testing.T) *imaging.Image {
	t.Helper()
	dims := [3]int{3, 4, 2}
	data := make([]float64, dims[0]*dims[1]*dims[2])
	for i := range data {
		data[i] = float64(i)
	}
	img, err := imaging.New(data, dims, [3]float64{1.5, 2, 2.5}, [3]float64{-10, 4, 7},
		imaging.IdentityDirection(), imaging.Intensity, "")
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	return img
}

// TestWriteReadRoundTrip verifies voxels and geometry survive a write
// and read, both plain and gzipped
func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	img := testVolume(t)

	for _, name := range []string{"vol.nii", "vol.nii.gz"} {
		path := filepath.Join(dir, name)
		if err := Write(path, img); err != nil {
			t.Fatalf("Write %s failed: %v", name, err)
		}

		got, err := Read(path)
		if err != nil {
			t.Fatalf("Read %s failed: %v", name, err)
		}

		if got.Dims() != img.Dims() {
			t.Errorf("%s: expected dims %v, got %v", name, img.Dims(), got.Dims())
		}
		for axis := 0; axis < 3; axis++ {
			if math.Abs(got.Spacing()[axis]-img.Spacing()[axis]) > 1e-4 {
				t.Errorf("%s: expected spacing %v, got %v", name, img.Spacing(), got.Spacing())
				break
			}
		}
		for axis := 0; axis < 3; axis++ {
			if math.Abs(got.Origin()[axis]-img.Origin()[axis]) > 1e-4 {
				t.Errorf("%s: expected origin %v, got %v", name, img.Origin(), got.Origin())
				break
			}
		}
		for i, v := range got.Data() {
			if v != img.Data()[i] {
				t.Errorf("%s: voxel %d: expected %f, got %f", name, i, img.Data()[i], v)
				break
			}
		}
		if got.Kind() != imaging.Intensity {
			t.Errorf("%s: expected intensity kind, got %s", name, got.Kind())
		}
	}
}

// TestWriteCreatesDirectories verifies Write creates missing parents
func TestWriteCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "vol.nii.gz")
	if err := Write(path, testVolume(t)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected file at %s, got %v", path, err)
	}
}

// TestReadRejectsGarbage verifies a non-NIfTI file fails with
// ErrNotNIfTI
func TestReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.nii")
	if err := os.WriteFile(path, make([]byte, 400), 0o644); err != nil {
		t.Fatalf("Failed to write junk file: %v", err)
	}
	if _, err := Read(path); !errors.Is(err, ErrNotNIfTI) {
		t.Errorf("Expected ErrNotNIfTI, got %v", err)
	}
}

// TestReadMissingFile verifies a missing path reports an error
func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "absent.nii.gz")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

// TestIsNIfTIPath verifies extension detection
func TestIsNIfTIPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"scan.nii", true},
		{"scan.nii.gz", true},
		{"/abs/dir/scan.nii.gz", true},
		{"scan.dcm", false},
		{"series_dir", false},
	}
	for _, tt := range tests {
		if got := IsNIfTIPath(tt.path); got != tt.want {
			t.Errorf("IsNIfTIPath(%q): expected %v, got %v", tt.path, tt.want, got)
		}
	}
}

package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lesionflow/pkg/nifti"
)

// DCM2NIIXConverter converts DICOM series directories to NIfTI via the
// dcm2niix command-line tool. NIfTI inputs pass through untouched, so
// subjects already converted upstream cost nothing.
type DCM2NIIXConverter struct {
	// Command is the dcm2niix binary name or path
	Command string
}

// NewDCM2NIIXConverter returns a converter using the dcm2niix binary
// on PATH.
func NewDCM2NIIXConverter() *DCM2NIIXConverter {
	return &DCM2NIIXConverter{Command: "dcm2niix"}
}

// Convert returns the input path directly for NIfTI inputs. DICOM
// directories are converted into outputDir as <basename>.nii.gz; a
// conversion that produces no readable output is a tool failure.
func (c *DCM2NIIXConverter) Convert(ctx context.Context, inputPath, outputDir string) (string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
	}

	if nifti.IsNIfTIPath(inputPath) {
		if info.IsDir() {
			return "", fmt.Errorf("%w: %s is a directory with a NIfTI extension", ErrInputNotFound, inputPath)
		}
		return inputPath, nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	if err := run(ctx, "dcm2niix", c.Command,
		"-z", "y", // gzip output
		"-f", base,
		"-o", outputDir,
		inputPath,
	); err != nil {
		return "", err
	}

	outPath := filepath.Join(outputDir, base+".nii.gz")
	if _, err := os.Stat(outPath); err != nil {
		return "", &ToolError{Tool: "dcm2niix", Err: fmt.Errorf("expected output %s missing", outPath)}
	}
	return outPath, nil
}

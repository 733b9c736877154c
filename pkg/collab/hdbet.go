package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HDBETExtractor runs HD-BET, the neural brain-extraction tool, through
// its command-line entry point. For an input scan it writes
// <name>_brain.nii.gz (brain-extracted intensities) and
// <name>_brain_bet.nii.gz (the binary brain mask), both in the input's
// native coordinate frame.
type HDBETExtractor struct {
	// Command is the hd-bet binary name or path
	Command string

	// Device selects the compute device, "cuda" or "cpu"
	Device string
}

// NewHDBETExtractor returns an extractor running hd-bet on the GPU
func NewHDBETExtractor() *HDBETExtractor {
	return &HDBETExtractor{Command: "hd-bet", Device: "cuda"}
}

// ExtractBrain runs HD-BET on inputPath and returns the paths of the
// brain image and the brain mask it wrote under outputDir.
func (h *HDBETExtractor) ExtractBrain(ctx context.Context, inputPath, outputDir string) (string, string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", "", err
	}

	base := niftiBase(inputPath)
	brainPath := filepath.Join(outputDir, base+"_brain.nii.gz")
	maskPath := filepath.Join(outputDir, base+"_brain_bet.nii.gz")

	args := []string{
		"-i", inputPath,
		"-o", brainPath,
		"-device", h.Device,
		"--save_bet_mask",
	}
	if h.Device == "cpu" {
		// test-time augmentation is prohibitively slow off the GPU
		args = append(args, "--disable_tta")
	}
	if err := run(ctx, "hd-bet", h.Command, args...); err != nil {
		return "", "", err
	}

	for _, p := range []string{brainPath, maskPath} {
		if _, err := os.Stat(p); err != nil {
			return "", "", &ToolError{Tool: "hd-bet", Err: fmt.Errorf("expected output %s missing", p)}
		}
	}
	return brainPath, maskPath, nil
}

// niftiBase strips the .nii/.nii.gz extension from a path's base name
func niftiBase(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, ".nii")
}

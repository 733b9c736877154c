package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Fixed file names the segmentation container expects inside the
// mounted subject directory, and the path it writes its result to.
const (
	SegInputDWI   = "dwi_b1000_brain.nii.gz"
	SegInputADC   = "adc_brain.nii.gz"
	SegInputFLAIR = "flair_brain.nii.gz"

	SegResultDir  = "results"
	SegLesionFile = "lesion_msk.nii.gz"
)

// DeepISLESSegmenter runs the DeepISLES stroke-lesion segmentation
// model as a version-pinned docker container. The subject directory is
// bind-mounted into the container; inputs must already be
// brain-extracted and mutually co-registered under the fixed names
// above.
type DeepISLESSegmenter struct {
	// Command is the docker binary name or path
	Command string

	// Image is the pinned container image
	Image string

	// Fast trades ensemble quality for speed
	Fast bool

	// SaveTeamOutputs keeps the per-model intermediate predictions
	SaveTeamOutputs bool

	// SkullStrip lets the container strip skulls itself; off here
	// because the pipeline feeds it brain-extracted inputs
	SkullStrip bool

	// Parallelize enables the container's internal concurrency.
	// Opaque to the pipeline; stages stay strictly sequential.
	Parallelize bool
}

// NewDeepISLESSegmenter returns a segmenter running the published
// DeepISLES image with the pipeline's standard options.
func NewDeepISLESSegmenter(parallelize bool) *DeepISLESSegmenter {
	return &DeepISLESSegmenter{
		Command:     "docker",
		Image:       "isleschallenge/deepisles",
		Parallelize: parallelize,
	}
}

// Segment runs the container over subjectDir and returns the path of
// the lesion mask it produced. A missing lesion file after a zero exit
// is still a tool failure: the contract is a complete valid output or
// nothing.
func (s *DeepISLESSegmenter) Segment(ctx context.Context, subjectDir string) (string, error) {
	for _, name := range []string{SegInputDWI, SegInputADC, SegInputFLAIR} {
		if _, err := os.Stat(filepath.Join(subjectDir, name)); err != nil {
			return "", fmt.Errorf("%w: segmentation input %s", ErrInputNotFound, name)
		}
	}

	args := []string{
		"run", "--rm", "--gpus", "all",
		"-v", subjectDir + ":/app/data",
		s.Image,
		"--dwi_file_name", SegInputDWI,
		"--adc_file_name", SegInputADC,
		"--flair_file_name", SegInputFLAIR,
	}
	if s.Fast {
		args = append(args, "--fast")
	}
	if s.SaveTeamOutputs {
		args = append(args, "--save_team_outputs")
	}
	if s.SkullStrip {
		args = append(args, "--skull_strip")
	}
	if s.Parallelize {
		args = append(args, "--parallelize")
	}

	if err := run(ctx, "deepisles", s.Command, args...); err != nil {
		return "", err
	}

	lesionPath := filepath.Join(subjectDir, SegResultDir, SegLesionFile)
	if _, err := os.Stat(lesionPath); err != nil {
		return "", &ToolError{Tool: "deepisles", Err: fmt.Errorf("container exited cleanly but %s is missing", lesionPath)}
	}
	return lesionPath, nil
}

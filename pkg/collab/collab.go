// Package collab defines the pipeline's external collaborators and
// their production implementations. Every collaborator is an isolated
// black box invoked through its command-line contract: it either
// returns a complete, valid output or fails entirely. The pipeline
// never inspects collaborator internals and never retries them:
// rerunning a deterministic tool on identical inputs cannot change
// the outcome.
package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrInputNotFound reports a missing or unreadable input file
var ErrInputNotFound = errors.New("collab: input not found")

// ToolError reports a failed external tool invocation (non-zero exit,
// missing binary, or missing expected output).
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Converter turns a raw scan (a NIfTI file, or a DICOM series
// directory) into a NIfTI file under outputDir and returns its path.
// Inputs that are already NIfTI pass through unchanged.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputDir string) (string, error)
}

// BrainExtractor segments brain from skull for one scan, writing a
// brain-extracted intensity image and a binary brain mask under
// outputDir. Both outputs stay in the input's original coordinate
// frame; alignment happens later.
type BrainExtractor interface {
	ExtractBrain(ctx context.Context, inputPath, outputDir string) (brainPath, maskPath string, err error)
}

// Segmenter runs the lesion segmentation model over a subject
// directory prepared with the fixed input layout (dwi_b1000_brain,
// adc_brain, flair_brain) and returns the path of the binary lesion
// mask it produced.
type Segmenter interface {
	Segment(ctx context.Context, subjectDir string) (lesionPath string, err error)
}

// run executes an external command, capturing stderr for diagnosis
func run(ctx context.Context, tool string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &ToolError{Tool: tool, Err: err, Stderr: tail(stderr.String())}
	}
	return nil
}

// tail keeps the last few lines of tool output for the error message
func tail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "; ")
}

// Preflight verifies that the external commands the configured
// collaborators rely on are present. It reports the first missing
// binary; deeper checks (GPU visibility, docker socket) are left to
// the tools themselves, which fail loudly on their own.
func Preflight(binaries ...string) error {
	for _, bin := range binaries {
		if _, err := exec.LookPath(bin); err != nil {
			return &ToolError{Tool: bin, Err: fmt.Errorf("not installed: %w", err)}
		}
	}
	return nil
}

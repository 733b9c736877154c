package collab

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lesionflow/pkg/imaging"
	"lesionflow/pkg/nifti"
	"lesionflow/pkg/registration"
	"lesionflow/pkg/transform"
)

// ANTsSolver computes registrations through the ANTs command-line
// suite. Volumes are staged as NIfTI files in a scratch directory,
// antsRegistrationSyN.sh fits the transform, and ConvertTransformFile
// exports the affine component as an ITK text transform the solver
// parses back into a replayable handle. SyN runs additionally produce
// a dense warp field which is loaded as a displacement step.
type ANTsSolver struct {
	// RegisterCommand is the registration script name or path
	RegisterCommand string

	// ConvertCommand is the transform-export tool name or path
	ConvertCommand string

	// WorkDir hosts scratch files; empty means the system temp dir
	WorkDir string
}

// NewANTsSolver returns a solver using the ANTs binaries on PATH
func NewANTsSolver(workDir string) *ANTsSolver {
	return &ANTsSolver{
		RegisterCommand: "antsRegistrationSyN.sh",
		ConvertCommand:  "ConvertTransformFile",
		WorkDir:         workDir,
	}
}

var _ registration.Solver = (*ANTsSolver)(nil)

// typeFlag maps the transform type onto the script's -t flag
func typeFlag(t registration.Type) string {
	switch t {
	case registration.Rigid:
		return "r"
	case registration.Affine:
		return "a"
	default:
		return "s"
	}
}

// Solve stages fixed and moving to disk, runs the registration and
// returns the fitted transform as a handle from moving.Frame() onto
// fixed.Frame().
func (s *ANTsSolver) Solve(fixed, moving *imaging.Image, t registration.Type) (*transform.Handle, error) {
	return s.SolveContext(context.Background(), fixed, moving, t)
}

// SolveContext is Solve with caller-controlled cancellation
func (s *ANTsSolver) SolveContext(ctx context.Context, fixed, moving *imaging.Image, t registration.Type) (*transform.Handle, error) {
	dir, err := os.MkdirTemp(s.WorkDir, "antsreg-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	fixedPath := filepath.Join(dir, "fixed.nii.gz")
	movingPath := filepath.Join(dir, "moving.nii.gz")
	if err := nifti.Write(fixedPath, fixed); err != nil {
		return nil, err
	}
	if err := nifti.Write(movingPath, moving); err != nil {
		return nil, err
	}

	prefix := filepath.Join(dir, "reg_")
	if err := run(ctx, "antsRegistration", s.RegisterCommand,
		"-d", "3",
		"-f", fixedPath,
		"-m", movingPath,
		"-o", prefix,
		"-t", typeFlag(t),
	); err != nil {
		return nil, err
	}

	// Export the binary affine to the parseable ITK text format
	affineMat := prefix + "0GenericAffine.mat"
	affineTxt := prefix + "affine.txt"
	if err := run(ctx, "ConvertTransformFile", s.ConvertCommand, "3", affineMat, affineTxt); err != nil {
		return nil, err
	}
	affine, err := ParseITKAffine(affineTxt)
	if err != nil {
		return nil, err
	}

	steps := []transform.Step{affine}
	if t == registration.SyN {
		comp, err := nifti.ReadDisplacement(prefix + "1Warp.nii.gz")
		if err != nil {
			return nil, &ToolError{Tool: "antsRegistration", Err: fmt.Errorf("reading warp field: %w", err)}
		}
		warp, err := transform.NewDisplacement(comp)
		if err != nil {
			return nil, err
		}
		// the warp lives in fixed space and is traversed before the
		// affine when pulling points toward moving space
		steps = []transform.Step{warp, affine}
	}

	return transform.NewHandle(moving.Frame(), fixed.Frame(), steps...), nil
}

// ParseITKAffine reads an ITK text transform file: 12 Parameters (a
// row-major 3x3 matrix then a translation) and 3 FixedParameters (the
// rotation center).
func ParseITKAffine(path string) (*transform.AffineStep, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	defer f.Close()

	var params []float64
	var center []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Parameters:"):
			params, err = parseFloats(strings.TrimPrefix(line, "Parameters:"))
		case strings.HasPrefix(line, "FixedParameters:"):
			center, err = parseFloats(strings.TrimPrefix(line, "FixedParameters:"))
		}
		if err != nil {
			return nil, fmt.Errorf("collab: %s: %w", path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(params) != 12 {
		return nil, fmt.Errorf("collab: %s: %d transform parameters, want 12", path, len(params))
	}
	if len(center) != 3 {
		return nil, fmt.Errorf("collab: %s: %d fixed parameters, want 3", path, len(center))
	}

	var p [12]float64
	copy(p[:], params)
	var c [3]float64
	copy(c[:], center)
	return transform.NewAffineFromITK(p, c), nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

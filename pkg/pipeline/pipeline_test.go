package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"lesionflow/internal/models"
	"lesionflow/pkg/collab"
	"lesionflow/pkg/imaging"
	"lesionflow/pkg/logging"
	"lesionflow/pkg/nifti"
	"lesionflow/pkg/registration"
	"lesionflow/pkg/results"
	"lesionflow/pkg/transform"
)

const testN = 10

// newVolume builds a testN-cubed image on the unit identity grid
func newVolume(t *testing.T, fill func(x, y, z int) float64, kind imaging.Kind) *imaging.Image {
	t.Helper()
	data := make([]float64, testN*testN*testN)
	i := 0
	for z := 0; z < testN; z++ {
		for y := 0; y < testN; y++ {
			for x := 0; x < testN; x++ {
				data[i] = fill(x, y, z)
				i++
			}
		}
	}
	img, err := imaging.New(data, [3]int{testN, testN, testN}, [3]float64{1, 1, 1},
		[3]float64{0, 0, 0}, imaging.IdentityDirection(), kind, "")
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	return img
}

// sphereFill marks voxels within radius 3 of the volume center
func sphereFill(x, y, z int) float64 {
	dx, dy, dz := x-5, y-5, z-5
	if dx*dx+dy*dy+dz*dz <= 9 {
		return 1
	}
	return 0
}

// identitySolver returns an identity handle spanning the given frames
type identitySolver struct {
	calls []registration.Type
	err   error
}

func (s *identitySolver) Solve(fixed, moving *imaging.Image, t registration.Type) (*transform.Handle, error) {
	s.calls = append(s.calls, t)
	if s.err != nil {
		return nil, s.err
	}
	return transform.NewHandle(moving.Frame(), fixed.Frame(), transform.IdentityAffine()), nil
}

// onesExtractor writes an all-ones brain mask on the input's grid
type onesExtractor struct{}

func (onesExtractor) ExtractBrain(ctx context.Context, inputPath, outputDir string) (string, string, error) {
	img, err := nifti.Read(inputPath)
	if err != nil {
		return "", "", err
	}
	mask := img.Clone()
	for i := range mask.Data() {
		mask.Data()[i] = 1
	}
	maskPath := filepath.Join(outputDir, filepath.Base(inputPath)+"_mask.nii.gz")
	if err := nifti.Write(maskPath, mask); err != nil {
		return "", "", err
	}
	return inputPath, maskPath, nil
}

// sphereSegmenter checks the fixed input layout and writes a spherical
// lesion mask into the nested results directory, as the container does
type sphereSegmenter struct {
	t *testing.T
}

func (s sphereSegmenter) Segment(ctx context.Context, subjectDir string) (string, error) {
	for _, name := range []string{collab.SegInputDWI, collab.SegInputADC, collab.SegInputFLAIR} {
		if _, err := os.Stat(filepath.Join(subjectDir, name)); err != nil {
			return "", fmt.Errorf("missing segmentation input %s: %w", name, err)
		}
	}
	lesion := newVolume(s.t, sphereFill, imaging.Intensity)
	path := filepath.Join(subjectDir, collab.SegResultDir, collab.SegLesionFile)
	if err := nifti.Write(path, lesion); err != nil {
		return "", err
	}
	return path, nil
}

// memStore captures appended rows
type memStore struct {
	rows []results.Row
}

func (m *memStore) Append(row results.Row) error {
	m.rows = append(m.rows, row)
	return nil
}

func (m *memStore) Close() error { return nil }

// writeTestSubject writes the four modality volumes under dir and
// returns the SubjectInputs describing them
func writeTestSubject(t *testing.T, dir string) models.SubjectInputs {
	t.Helper()
	files := make(map[models.Modality]string, len(models.Modalities))
	for _, m := range models.Modalities {
		name := string(m) + ".nii.gz"
		img := newVolume(t, func(x, y, z int) float64 { return float64(x + y + z) }, imaging.Intensity)
		if err := nifti.Write(filepath.Join(dir, name), img); err != nil {
			t.Fatalf("Failed to write %s: %v", m, err)
		}
		files[m] = name
	}
	return models.SubjectInputs{ID: "sub-01", Dir: dir, Files: files}
}

// writeTemplates writes the standard template and a left-half symptom
// mask, returning their paths
func writeTemplates(t *testing.T, dir string) (string, string) {
	t.Helper()
	templatePath := filepath.Join(dir, "template.nii.gz")
	template := newVolume(t, func(x, y, z int) float64 { return 100 }, imaging.Intensity)
	if err := nifti.Write(templatePath, template); err != nil {
		t.Fatalf("Failed to write template: %v", err)
	}

	maskPath := filepath.Join(dir, "symptom_mask.nii.gz")
	mask := newVolume(t, func(x, y, z int) float64 {
		if x < testN/2 {
			return 1
		}
		return 0
	}, imaging.Intensity)
	if err := nifti.Write(maskPath, mask); err != nil {
		t.Fatalf("Failed to write symptom mask: %v", err)
	}
	return templatePath, maskPath
}

func testParams(t *testing.T) *Params {
	t.Helper()
	inputDir := t.TempDir()
	templateDir := t.TempDir()
	templatePath, maskPath := writeTemplates(t, templateDir)
	return &Params{
		Inputs:            writeTestSubject(t, inputDir),
		OutputDir:         t.TempDir(),
		TemplatePath:      templatePath,
		SymptomMaskPath:   maskPath,
		StandardTransform: registration.Affine,
		OverlapThreshold:  0.51,
	}
}

func testCollaborators(t *testing.T, solver registration.Solver, store results.Store) Collaborators {
	t.Helper()
	return Collaborators{
		Converter: collab.NewDCM2NIIXConverter(),
		Extractor: onesExtractor{},
		Solver:    solver,
		Segmenter: sphereSegmenter{t: t},
		Store:     store,
	}
}

// TestRunEndToEnd drives the whole pipeline with aligned synthetic
// volumes and deterministic collaborators: a spherical lesion of
// radius 3 at the volume center against a left-half symptom mask.
func TestRunEndToEnd(t *testing.T) {
	params := testParams(t)
	solver := &identitySolver{}
	store := &memStore{}

	o := NewOrchestrator(params, testCollaborators(t, solver, store), logging.Discard())
	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Three within-subject rigid solves plus one standard-space solve
	if len(solver.calls) != 4 {
		t.Fatalf("Expected 4 registrations, got %d", len(solver.calls))
	}
	for i := 0; i < 3; i++ {
		if solver.calls[i] != registration.Rigid {
			t.Errorf("Within-subject registration %d: expected Rigid, got %s", i, solver.calls[i])
		}
	}
	if solver.calls[3] != registration.Affine {
		t.Errorf("Standard registration: expected Affine, got %s", solver.calls[3])
	}

	// The sphere holds 123 unit voxels; 47 sit in the left half
	// (x < 5) and 76 in the right, so only the right side crosses the
	// 0.51 threshold
	res := summary.Result
	if res.LesionVolumeMM3 != 123 {
		t.Errorf("Expected lesion volume 123, got %d", res.LesionVolumeMM3)
	}
	if math.Abs(res.LeftFraction-47.0/123.0) > 1e-9 {
		t.Errorf("Expected left fraction %f, got %f", 47.0/123.0, res.LeftFraction)
	}
	if math.Abs(res.RightFraction-76.0/123.0) > 1e-9 {
		t.Errorf("Expected right fraction %f, got %f", 76.0/123.0, res.RightFraction)
	}
	if res.LeftOverlap {
		t.Error("Expected no left overlap at threshold 0.51")
	}
	if !res.RightOverlap {
		t.Error("Expected right overlap at threshold 0.51")
	}

	// Exactly one row persisted, matching the summary
	if len(store.rows) != 1 {
		t.Fatalf("Expected 1 persisted row, got %d", len(store.rows))
	}
	row := store.rows[0]
	if row.SubjectID != "sub-01" || row.RunID != summary.RunID || row.Result != res {
		t.Errorf("Persisted row does not match the summary: %+v", row)
	}

	// Housekeeping moved the lesion up and removed scratch directories
	wantLesion := filepath.Join(params.OutputDir, subjectSpaceDir, collab.SegLesionFile)
	if summary.LesionPath != wantLesion {
		t.Errorf("Expected lesion at %s, got %s", wantLesion, summary.LesionPath)
	}
	if _, err := os.Stat(wantLesion); err != nil {
		t.Errorf("Expected lesion file after housekeeping: %v", err)
	}
	if _, err := os.Stat(filepath.Join(params.OutputDir, subjectSpaceDir, collab.SegResultDir)); !os.IsNotExist(err) {
		t.Error("Expected the nested results directory to be removed")
	}
	for _, d := range []string{convertedDir, brainExtractDir, withinRegDir} {
		if _, err := os.Stat(filepath.Join(params.OutputDir, d)); !os.IsNotExist(err) {
			t.Errorf("Expected scratch directory %s to be removed", d)
		}
	}

	// Standard-space outputs for the four masked images and the lesion
	stdDir := filepath.Join(params.OutputDir, standardDir)
	for _, name := range []string{
		"dwi_b0_brain_standard.nii.gz",
		"dwi_b1000_brain_standard.nii.gz",
		"adc_brain_standard.nii.gz",
		"flair_brain_standard.nii.gz",
		"lesion_standard.nii.gz",
	} {
		if _, err := os.Stat(filepath.Join(stdDir, name)); err != nil {
			t.Errorf("Expected standard-space output %s: %v", name, err)
		}
	}

	// With identity transforms the standard-space lesion is the sphere
	lesionStd, err := nifti.Read(filepath.Join(stdDir, "lesion_standard.nii.gz"))
	if err != nil {
		t.Fatalf("Failed to read standard-space lesion: %v", err)
	}
	var count int
	for _, v := range lesionStd.Data() {
		if v > 0 {
			count++
		}
	}
	if count != 123 {
		t.Errorf("Expected 123 lesion voxels in standard space, got %d", count)
	}
}

// TestRunKeepIntermediates verifies scratch directories survive when
// requested
func TestRunKeepIntermediates(t *testing.T) {
	params := testParams(t)
	params.KeepIntermediates = true

	o := NewOrchestrator(params, testCollaborators(t, &identitySolver{}, &memStore{}), logging.Discard())
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, name := range []string{"dwi_b0", "adc", "flair"} {
		path := filepath.Join(params.OutputDir, withinRegDir, name+"_registered.nii.gz")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected kept intermediate %s: %v", path, err)
		}
	}
}

// TestRunMissingModality verifies the convert stage fails with a
// StageError carrying ErrInputNotFound
func TestRunMissingModality(t *testing.T) {
	params := testParams(t)
	delete(params.Inputs.Files, models.FLAIR)

	o := NewOrchestrator(params, testCollaborators(t, &identitySolver{}, &memStore{}), logging.Discard())
	_, err := o.Run(context.Background())

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected a *StageError, got %v", err)
	}
	if stageErr.Stage != models.StageConvert {
		t.Errorf("Expected stage %s, got %s", models.StageConvert, stageErr.Stage)
	}
	if !errors.Is(err, collab.ErrInputNotFound) {
		t.Errorf("Expected ErrInputNotFound in the chain, got %v", err)
	}
}

// TestRunSolverFailure verifies a registration failure stops the run
// at the within-subject stage with the pair identified
func TestRunSolverFailure(t *testing.T) {
	params := testParams(t)
	solver := &identitySolver{err: errors.New("convergence failure")}

	o := NewOrchestrator(params, testCollaborators(t, solver, &memStore{}), logging.Discard())
	_, err := o.Run(context.Background())

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected a *StageError, got %v", err)
	}
	if stageErr.Stage != models.StageWithinSubjectReg {
		t.Errorf("Expected stage %s, got %s", models.StageWithinSubjectReg, stageErr.Stage)
	}
	var regErr *registration.Error
	if !errors.As(err, &regErr) {
		t.Fatalf("Expected a *registration.Error in the chain, got %v", err)
	}
	if regErr.Fixed != nativeFrame(models.DWIB1000) {
		t.Errorf("Expected fixed frame %s, got %s", nativeFrame(models.DWIB1000), regErr.Fixed)
	}
}

// TestRunQCSnapshots verifies snapshot files appear when enabled
func TestRunQCSnapshots(t *testing.T) {
	params := testParams(t)
	params.QCSnapshots = true

	o := NewOrchestrator(params, testCollaborators(t, &identitySolver{}, &memStore{}), logging.Discard())
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(params.OutputDir, qcDir))
	if err != nil {
		t.Fatalf("Expected a qc directory: %v", err)
	}
	if len(entries) == 0 {
		t.Error("Expected snapshot files in the qc directory")
	}
}

// Package pipeline orchestrates the lesion analysis run for a single
// subject: conversion, brain extraction, within-subject registration,
// masking, lesion segmentation, standard-space registration, overlap
// analysis, result persistence and housekeeping. Each stage hands its
// outputs to the next through a SubjectContext that keeps the frame
// and transform-chain bookkeeping honest.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"lesionflow/internal/models"
	"lesionflow/pkg/analysis"
	"lesionflow/pkg/collab"
	"lesionflow/pkg/imaging"
	"lesionflow/pkg/logging"
	"lesionflow/pkg/nifti"
	"lesionflow/pkg/registration"
	"lesionflow/pkg/results"
	"lesionflow/pkg/transform"
	"lesionflow/pkg/visualization"
)

// FrameStandard is the frame occupied by the standard template and
// everything registered onto it.
const FrameStandard imaging.FrameID = "standard"

// Directory names created under the subject output directory
const (
	convertedDir    = "converted"
	brainExtractDir = "brain_extraction"
	withinRegDir    = "within_subject_reg"
	subjectSpaceDir = "subject_space_results"
	standardDir     = "standard_space_results"
	qcDir           = "qc"
)

// Params holds the parameters for a single subject run
type Params struct {
	// Inputs describes the subject's raw scan files
	Inputs models.SubjectInputs

	// OutputDir is the directory all stage outputs are written under
	OutputDir string

	// TemplatePath is the standard-space template image
	TemplatePath string

	// SymptomMaskPath is the unilateral standard-space symptom mask
	// the symmetric reference is built from
	SymptomMaskPath string

	// StandardTransform selects the subject-to-standard registration
	// type (Rigid, Affine or SyN)
	StandardTransform registration.Type

	// OverlapThreshold is the lesion fraction above which a side is
	// flagged as overlapping
	OverlapThreshold float64

	// KeepIntermediates preserves scratch directories after the run
	KeepIntermediates bool

	// QCSnapshots writes mid-slice JPEGs after each registration stage
	QCSnapshots bool
}

// Collaborators are the external tools the pipeline drives. All of
// them are interfaces so runs can be assembled against real tools or
// test doubles.
type Collaborators struct {
	Converter collab.Converter
	Extractor collab.BrainExtractor
	Solver    registration.Solver
	Segmenter collab.Segmenter
	Store     results.Store
}

// Summary reports where a finished run left its outputs
type Summary struct {
	RunID            string
	Result           analysis.Result
	SubjectSpaceDir  string
	StandardSpaceDir string
	LesionPath       string
}

// Orchestrator runs the lesion analysis pipeline for one subject
type Orchestrator struct {
	params  *Params
	collabs Collaborators
	log     *slog.Logger
	runID   string
}

// NewOrchestrator creates an orchestrator with the given parameters
// and collaborators. A nil logger discards all records. Every run gets
// a fresh run ID.
func NewOrchestrator(params *Params, collabs Collaborators, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{
		params:  params,
		collabs: collabs,
		log:     log,
		runID:   uuid.NewString(),
	}
}

// RunID returns the identifier persisted with this run's result row
func (o *Orchestrator) RunID() string { return o.runID }

func nativeFrame(m models.Modality) imaging.FrameID {
	return imaging.FrameID(string(m) + "_native")
}

func fail(stage models.Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Run executes the full pipeline. It stops at the first failing stage
// and wraps the failure in a StageError naming that stage.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	log := o.log.With("subject", o.params.Inputs.ID, "run_id", o.runID)
	log.Info("starting lesion analysis pipeline")

	// Step 1: Convert raw inputs to NIfTI
	log.Info("step 1: converting inputs")
	converted, err := o.convertInputs(ctx)
	if err != nil {
		return nil, fail(models.StageConvert, err)
	}

	// Step 2: Load images and templates, assign native frames
	log.Info("step 2: loading images")
	sctx := NewSubjectContext()
	template, symptomMask, err := o.loadImages(sctx, converted)
	if err != nil {
		return nil, fail(models.StageLoad, err)
	}

	// Step 3: Brain extraction on dwi_b0 and flair
	log.Info("step 3: extracting brain masks")
	b0Mask, flairMask, err := o.extractBrains(ctx, converted)
	if err != nil {
		return nil, fail(models.StageBrainExtract, err)
	}

	// Step 4: Rigid registration of dwi_b0, adc and flair onto dwi_b1000
	log.Info("step 4: within-subject registration", "fixed", models.DWIB1000)
	if err := o.registerWithinSubject(sctx); err != nil {
		return nil, fail(models.StageWithinSubjectReg, err)
	}

	// Step 5: Carry brain masks into the dwi_b1000 frame and mask the
	// intensity images
	log.Info("step 5: applying transforms and masks")
	masked, err := o.applyMasks(sctx, b0Mask, flairMask)
	if err != nil {
		return nil, fail(models.StageApplyMasks, err)
	}

	// Step 6: Lesion segmentation on the masked subject-space images
	log.Info("step 6: segmenting lesion")
	lesion, lesionPath, err := o.segment(ctx, masked)
	if err != nil {
		return nil, fail(models.StageSegment, err)
	}

	// Step 7: Register the subject onto the standard template and
	// project the masked images and the lesion into standard space
	log.Info("step 7: standard-space registration", "transform", o.params.StandardTransform)
	lesionStd, err := o.registerToStandard(template, masked, lesion)
	if err != nil {
		return nil, fail(models.StageStandardReg, err)
	}

	// Step 8: Build the symmetric reference and measure overlap
	log.Info("step 8: overlap analysis", "threshold", o.params.OverlapThreshold)
	result, err := o.analyze(lesionStd, template, symptomMask)
	if err != nil {
		return nil, fail(models.StageAnalysis, err)
	}
	log.Info("overlap result",
		"lesion_volume_mm3", result.LesionVolumeMM3,
		"left_overlap", result.LeftOverlap,
		"left_fraction", result.LeftFraction,
		"right_overlap", result.RightOverlap,
		"right_fraction", result.RightFraction)

	// Step 9: Persist the result row
	log.Info("step 9: persisting result")
	row := results.Row{SubjectID: o.params.Inputs.ID, RunID: o.runID, Result: result}
	if err := o.collabs.Store.Append(row); err != nil {
		return nil, fail(models.StagePersist, err)
	}

	// Step 10: Housekeeping. Failures here are logged, never fatal:
	// the result is already persisted.
	log.Info("step 10: housekeeping")
	finalLesion := o.housekeeping(log, lesionPath)

	log.Info("pipeline finished")
	return &Summary{
		RunID:            o.runID,
		Result:           result,
		SubjectSpaceDir:  filepath.Join(o.params.OutputDir, subjectSpaceDir),
		StandardSpaceDir: filepath.Join(o.params.OutputDir, standardDir),
		LesionPath:       finalLesion,
	}, nil
}

// convertInputs runs the converter over every modality and returns the
// NIfTI path per modality.
func (o *Orchestrator) convertInputs(ctx context.Context) (map[models.Modality]string, error) {
	outDir := filepath.Join(o.params.OutputDir, convertedDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	converted := make(map[models.Modality]string, len(models.Modalities))
	for _, m := range models.Modalities {
		name, ok := o.params.Inputs.Files[m]
		if !ok {
			return nil, fmt.Errorf("%w: no %s file for subject %s",
				collab.ErrInputNotFound, m, o.params.Inputs.ID)
		}
		src := filepath.Join(o.params.Inputs.Dir, name)
		path, err := o.collabs.Converter.Convert(ctx, src, outDir)
		if err != nil {
			return nil, fmt.Errorf("converting %s: %w", m, err)
		}
		converted[m] = path
	}
	return converted, nil
}

// loadImages reads the converted modalities into the subject context
// and loads the standard template and symptom mask.
func (o *Orchestrator) loadImages(sctx *SubjectContext, converted map[models.Modality]string) (template, symptomMask *imaging.Image, err error) {
	for _, m := range models.Modalities {
		img, err := nifti.Read(converted[m])
		if err != nil {
			return nil, nil, fmt.Errorf("loading %s: %w", m, err)
		}
		sctx.Track(string(m), img.WithFrame(nativeFrame(m)))
	}

	template, err = nifti.Read(o.params.TemplatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading template: %w", err)
	}
	template = template.WithFrame(FrameStandard)

	symptomMask, err = nifti.Read(o.params.SymptomMaskPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading symptom mask: %w", err)
	}
	symptomMask = symptomMask.WithKind(imaging.LabelMask).WithFrame(FrameStandard)
	return template, symptomMask, nil
}

// extractBrains runs the brain extractor on dwi_b0 and flair and loads
// the resulting masks in the modalities' native frames.
func (o *Orchestrator) extractBrains(ctx context.Context, converted map[models.Modality]string) (b0Mask, flairMask *imaging.Image, err error) {
	outDir := filepath.Join(o.params.OutputDir, brainExtractDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, nil, err
	}
	load := func(m models.Modality) (*imaging.Image, error) {
		_, maskPath, err := o.collabs.Extractor.ExtractBrain(ctx, converted[m], outDir)
		if err != nil {
			return nil, fmt.Errorf("extracting %s brain: %w", m, err)
		}
		mask, err := nifti.Read(maskPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s brain mask: %w", m, err)
		}
		return mask.WithKind(imaging.LabelMask).WithFrame(nativeFrame(m)), nil
	}
	if b0Mask, err = load(models.DWIB0); err != nil {
		return nil, nil, err
	}
	if flairMask, err = load(models.FLAIR); err != nil {
		return nil, nil, err
	}
	return b0Mask, flairMask, nil
}

// registerWithinSubject rigidly registers dwi_b0, adc and flair onto
// the subject's dwi_b1000 and advances each image's chain in the
// context.
func (o *Orchestrator) registerWithinSubject(sctx *SubjectContext) error {
	fixed, err := sctx.Image(string(models.DWIB1000))
	if err != nil {
		return err
	}
	for _, m := range []models.Modality{models.DWIB0, models.ADC, models.FLAIR} {
		moving, err := sctx.Image(string(m))
		if err != nil {
			return err
		}
		warped, h, err := registration.Register(o.collabs.Solver, fixed, moving, registration.Rigid)
		if err != nil {
			return fmt.Errorf("registering %s onto %s: %w", m, models.DWIB1000, err)
		}
		if err := sctx.Advance(string(m), warped, h); err != nil {
			return err
		}
		if o.params.KeepIntermediates {
			path := filepath.Join(o.params.OutputDir, withinRegDir, string(m)+"_registered.nii.gz")
			if err := nifti.Write(path, warped); err != nil {
				return err
			}
		}
		if o.params.QCSnapshots {
			if err := o.snapshot(warped, string(m)+"_registered"); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyMasks carries the native-frame brain masks into the dwi_b1000
// frame along each source modality's accumulated chain, masks the four
// intensity images and writes the segmentation inputs.
func (o *Orchestrator) applyMasks(sctx *SubjectContext, b0Mask, flairMask *imaging.Image) (map[string]*imaging.Image, error) {
	b1000, err := sctx.Image(string(models.DWIB1000))
	if err != nil {
		return nil, err
	}
	b0MaskReg, err := transform.Apply(b1000, b0Mask, sctx.Chain(string(models.DWIB0))...)
	if err != nil {
		return nil, fmt.Errorf("transforming %s brain mask: %w", models.DWIB0, err)
	}
	flairMaskReg, err := transform.Apply(b1000, flairMask, sctx.Chain(string(models.FLAIR))...)
	if err != nil {
		return nil, fmt.Errorf("transforming %s brain mask: %w", models.FLAIR, err)
	}

	masked := make(map[string]*imaging.Image, 4)
	pairs := []struct {
		modality models.Modality
		mask     *imaging.Image
	}{
		{models.DWIB0, b0MaskReg},
		{models.DWIB1000, b0MaskReg},
		{models.ADC, b0MaskReg},
		{models.FLAIR, flairMaskReg},
	}
	for _, p := range pairs {
		img, err := sctx.Image(string(p.modality))
		if err != nil {
			return nil, err
		}
		brain, err := imaging.Mask(img, p.mask)
		if err != nil {
			return nil, fmt.Errorf("masking %s: %w", p.modality, err)
		}
		masked[string(p.modality)+"_brain"] = brain
	}
	return masked, nil
}

// segInputName maps a masked logical image to the file name the
// segmenter expects in its subject directory.
func segInputName(name string) string {
	switch name {
	case string(models.DWIB1000) + "_brain":
		return collab.SegInputDWI
	case string(models.ADC) + "_brain":
		return collab.SegInputADC
	case string(models.FLAIR) + "_brain":
		return collab.SegInputFLAIR
	}
	return name + ".nii.gz"
}

// segment writes the masked images to the subject-space results
// directory, runs the segmenter over it and loads the lesion mask.
func (o *Orchestrator) segment(ctx context.Context, masked map[string]*imaging.Image) (*imaging.Image, string, error) {
	dir := filepath.Join(o.params.OutputDir, subjectSpaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	for name, img := range masked {
		if err := nifti.Write(filepath.Join(dir, segInputName(name)), img); err != nil {
			return nil, "", err
		}
	}

	lesionPath, err := o.collabs.Segmenter.Segment(ctx, dir)
	if err != nil {
		return nil, "", err
	}
	lesion, err := nifti.Read(lesionPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading lesion mask: %w", err)
	}
	b1000 := masked[string(models.DWIB1000)+"_brain"]
	if !lesion.SameGrid(b1000) {
		return nil, "", fmt.Errorf("%w: lesion mask grid differs from %s",
			imaging.ErrGridMismatch, models.DWIB1000)
	}
	lesion = lesion.WithKind(imaging.LabelMask).WithFrame(b1000.Frame())
	return lesion, lesionPath, nil
}

// registerToStandard registers the subject's masked dwi_b0 onto the
// template, projects every masked image and the lesion into standard
// space and writes them out. It returns the standard-space lesion.
func (o *Orchestrator) registerToStandard(template *imaging.Image, masked map[string]*imaging.Image, lesion *imaging.Image) (*imaging.Image, error) {
	moving := masked[string(models.DWIB0)+"_brain"]
	_, h, err := registration.Register(o.collabs.Solver, template, moving, o.params.StandardTransform)
	if err != nil {
		return nil, fmt.Errorf("registering subject onto template: %w", err)
	}

	dir := filepath.Join(o.params.OutputDir, standardDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	for name, img := range masked {
		std, err := transform.Apply(template, img, h)
		if err != nil {
			return nil, fmt.Errorf("projecting %s into standard space: %w", name, err)
		}
		if err := nifti.Write(filepath.Join(dir, name+"_standard.nii.gz"), std); err != nil {
			return nil, err
		}
		if o.params.QCSnapshots {
			if err := o.snapshot(std, name+"_standard"); err != nil {
				return nil, err
			}
		}
	}

	lesionStd, err := transform.Apply(template, lesion, h)
	if err != nil {
		return nil, fmt.Errorf("projecting lesion into standard space: %w", err)
	}
	if err := nifti.Write(filepath.Join(dir, "lesion_standard.nii.gz"), lesionStd); err != nil {
		return nil, err
	}
	return lesionStd, nil
}

// analyze builds the symmetric reference from the symptom mask and
// measures lesion overlap against it.
func (o *Orchestrator) analyze(lesionStd, template, symptomMask *imaging.Image) (analysis.Result, error) {
	if !symptomMask.SameGrid(template) {
		return analysis.Result{}, fmt.Errorf("%w: symptom mask grid differs from template",
			imaging.ErrGridMismatch)
	}
	reference, err := analysis.BuildSymmetric(symptomMask)
	if err != nil {
		return analysis.Result{}, err
	}
	return analysis.Overlap(lesionStd, reference, o.params.OverlapThreshold)
}

// housekeeping moves the lesion mask out of the segmenter's nested
// results directory and removes scratch directories. Everything here
// is best effort.
func (o *Orchestrator) housekeeping(log *slog.Logger, lesionPath string) string {
	finalLesion := lesionPath
	subjectDir := filepath.Join(o.params.OutputDir, subjectSpaceDir)
	resultsDir := filepath.Join(subjectDir, collab.SegResultDir)
	if filepath.Dir(lesionPath) == resultsDir {
		dst := filepath.Join(subjectDir, filepath.Base(lesionPath))
		if err := os.Rename(lesionPath, dst); err != nil {
			log.Warn("could not move lesion mask", "error", err)
		} else {
			finalLesion = dst
		}
		if err := os.RemoveAll(resultsDir); err != nil {
			log.Warn("could not remove segmenter results directory", "error", err)
		}
	}
	if !o.params.KeepIntermediates {
		for _, d := range []string{convertedDir, brainExtractDir, withinRegDir} {
			if err := os.RemoveAll(filepath.Join(o.params.OutputDir, d)); err != nil {
				log.Warn("could not remove scratch directory", "dir", d, "error", err)
			}
		}
	}
	return finalLesion
}

func (o *Orchestrator) snapshot(img *imaging.Image, name string) error {
	dir := filepath.Join(o.params.OutputDir, qcDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return visualization.NewSnapshotter(img).SaveMidSlices(dir, name)
}

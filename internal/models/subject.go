package models

// Modality identifies one of the MRI sequences the pipeline consumes
type Modality string

const (
	// DWIB0 is the diffusion-weighted image acquired at b=0
	DWIB0 Modality = "dwi_b0"

	// DWIB1000 is the diffusion-weighted image acquired at b=1000.
	// It serves as the fixed reference for within-subject registration.
	DWIB1000 Modality = "dwi_b1000"

	// ADC is the apparent diffusion coefficient map
	ADC Modality = "adc"

	// FLAIR is the fluid-attenuated inversion recovery image
	FLAIR Modality = "flair"
)

// Modalities lists all input sequences in pipeline processing order
var Modalities = []Modality{DWIB0, DWIB1000, ADC, FLAIR}

// SubjectInputs describes one subject's raw scan files.
// Paths are relative to the subject input directory and may point at
// NIfTI files or DICOM series directories.
type SubjectInputs struct {
	// ID identifies the subject; it keys the persisted result row
	ID string

	// Dir is the directory containing the subject's scan files
	Dir string

	// Files maps each required modality to its file or directory name
	Files map[Modality]string
}

// Stage names the orchestrator's pipeline stages. Stage errors carry
// one of these so failures report where the pipeline stopped.
type Stage string

const (
	StageConvert          Stage = "convert"
	StageLoad             Stage = "load"
	StageBrainExtract     Stage = "brain_extract"
	StageWithinSubjectReg Stage = "within_subject_registration"
	StageApplyMasks       Stage = "apply_transforms_and_masks"
	StageSegment          Stage = "segmentation"
	StageStandardReg      Stage = "standard_space_registration"
	StageAnalysis         Stage = "overlap_analysis"
	StagePersist          Stage = "persist_result"
	StageHousekeeping     Stage = "housekeeping"
)

package analysis

import (
	"fmt"

	"lesionflow/pkg/imaging"
)

// Result is the per-subject overlap record. Volume is reported in mm³;
// standard space is resampled to 1 mm³ isotropic voxels, so the volume
// equals the foreground voxel count.
type Result struct {
	LesionVolumeMM3 int     `json:"lesion_volume_mm3"`
	LeftOverlap     bool    `json:"left_overlap"`
	LeftFraction    float64 `json:"overlap_fraction_left"`
	RightOverlap    bool    `json:"right_overlap"`
	RightFraction   float64 `json:"overlap_fraction_right"`
}

// Overlap computes the fractional voxel overlap between a lesion mask
// and the symmetric reference mask, both in standard space on one
// grid. A side overlaps when its fraction strictly exceeds threshold;
// a fraction exactly at the threshold does not count.
//
// An empty lesion is a valid degenerate outcome ("no lesion found"),
// not an error: the zero Result is returned with both flags false.
func Overlap(lesion, reference *imaging.Image, threshold float64) (Result, error) {
	if lesion.Kind() != imaging.LabelMask {
		return Result{}, fmt.Errorf("%w: lesion is %s, want label-mask", imaging.ErrFormatMismatch, lesion.Kind())
	}
	if reference.Kind() != imaging.LabelMask {
		return Result{}, fmt.Errorf("%w: reference is %s, want label-mask", imaging.ErrFormatMismatch, reference.Kind())
	}
	if threshold < 0 || threshold > 1 {
		return Result{}, fmt.Errorf("analysis: threshold %g outside [0,1]", threshold)
	}
	if !lesion.SameGrid(reference) {
		return Result{}, fmt.Errorf("%w: lesion grid %v vs reference grid %v",
			imaging.ErrGridMismatch, lesion.Dims(), reference.Dims())
	}

	var lesionVoxels, left, right int
	ref := reference.Data()
	for i, v := range lesion.Data() {
		if v <= 0 {
			continue
		}
		lesionVoxels++
		switch ref[i] {
		case LeftLabel:
			left++
		case RightLabel:
			right++
		}
	}

	if lesionVoxels == 0 {
		return Result{}, nil
	}

	res := Result{
		LesionVolumeMM3: lesionVoxels,
		LeftFraction:    float64(left) / float64(lesionVoxels),
		RightFraction:   float64(right) / float64(lesionVoxels),
	}
	res.LeftOverlap = res.LeftFraction > threshold
	res.RightOverlap = res.RightFraction > threshold
	return res, nil
}

// Package registration wraps the external registration solver behind a
// small collaborator interface and enforces the stage contract around
// it: only intensity images drive alignment, failures carry the
// identity of the pair that failed, and the warped output is produced
// by the same resampler that later propagates the transform to other
// images.
package registration

import (
	"fmt"

	"lesionflow/pkg/imaging"
	"lesionflow/pkg/transform"
)

// Type selects the transform model the solver fits.
type Type string

const (
	// Rigid allows rotation and translation only. It is the hard-wired
	// choice for within-subject alignment: all modalities image the
	// same physical head in one session, so a non-linear "correction"
	// would deform true anatomy.
	Rigid Type = "Rigid"

	// Affine adds scaling and shearing; the default for subject to
	// standard-space registration.
	Affine Type = "Affine"

	// SyN is a non-linear (diffeomorphic) registration, trading speed
	// and robustness for anatomical detail in standard-space mapping.
	SyN Type = "SyN"
)

// Valid reports whether t is a supported transform type
func (t Type) Valid() bool {
	switch t {
	case Rigid, Affine, SyN:
		return true
	}
	return false
}

// Solver computes a transform aligning moving onto fixed. The returned
// handle must declare moving.Frame() as its moving frame and
// fixed.Frame() as its fixed frame. Implementations are external
// numerical black boxes (or deterministic test doubles); the solver's
// optimization internals are outside this package's contract.
type Solver interface {
	Solve(fixed, moving *imaging.Image, t Type) (*transform.Handle, error)
}

// Error reports a failed registration together with the identity of
// the (fixed, moving) pair. Registration failures are never retried
// inside the pipeline: the solver is deterministic on identical
// inputs, and no downstream stage can run without a trusted transform.
type Error struct {
	Fixed  imaging.FrameID
	Moving imaging.FrameID
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("registration of %q onto %q failed: %v", e.Moving, e.Fixed, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Register computes the transform aligning moving onto fixed and
// returns the moving image resampled into fixed's coordinate frame
// along with the replayable transform handle.
//
// Both inputs must be intensity images: label masks never drive
// alignment in this pipeline, they are only ever targets of transform
// application.
func Register(solver Solver, fixed, moving *imaging.Image, t Type) (*imaging.Image, *transform.Handle, error) {
	if !t.Valid() {
		return nil, nil, fmt.Errorf("registration: unsupported transform type %q", t)
	}
	if fixed.Kind() != imaging.Intensity {
		return nil, nil, fmt.Errorf("%w: fixed image is %s, registration inputs must be intensity",
			imaging.ErrFormatMismatch, fixed.Kind())
	}
	if moving.Kind() != imaging.Intensity {
		return nil, nil, fmt.Errorf("%w: moving image is %s, registration inputs must be intensity",
			imaging.ErrFormatMismatch, moving.Kind())
	}

	handle, err := solver.Solve(fixed, moving, t)
	if err != nil {
		return nil, nil, &Error{Fixed: fixed.Frame(), Moving: moving.Frame(), Err: err}
	}

	warped, err := transform.Apply(fixed, moving, handle)
	if err != nil {
		return nil, nil, err
	}
	return warped, handle, nil
}

package transform

import (
	"errors"
	"fmt"

	"lesionflow/pkg/imaging"
)

// ErrFrameMismatch reports a transform chained or applied across
// coordinate frames it was not computed for. This is a programming
// error in the caller's frame bookkeeping and is always fatal: a
// mismatched transform would produce a plausible but anatomically
// wrong image.
var ErrFrameMismatch = errors.New("transform: coordinate frame mismatch")

// Handle is an opaque transform produced by one registration call.
// It records the moving frame it originates from, the fixed frame it
// targets, and the ordered steps that realize the mapping. Handles are
// never mutated after creation; chaining registrations concatenates
// handles into a new one.
//
// A handle with no steps is the identity mapping, still carrying its
// frame endpoints (a rigid registration of already-aligned images).
type Handle struct {
	steps  []Step
	moving imaging.FrameID
	fixed  imaging.FrameID
}

// NewHandle creates a transform handle mapping the moving frame onto
// the fixed frame through the given steps, replayed in the given order.
func NewHandle(moving, fixed imaging.FrameID, steps ...Step) *Handle {
	owned := make([]Step, len(steps))
	copy(owned, steps)
	return &Handle{steps: owned, moving: moving, fixed: fixed}
}

// Moving returns the frame the handle's moving image occupied
func (h *Handle) Moving() imaging.FrameID { return h.moving }

// Fixed returns the frame the handle targets
func (h *Handle) Fixed() imaging.FrameID { return h.fixed }

// Steps returns a copy of the step sequence in authored order
func (h *Handle) Steps() []Step {
	out := make([]Step, len(h.steps))
	copy(out, h.steps)
	return out
}

// MapPoint maps a physical point in the fixed frame to the
// corresponding point in the moving frame, replaying the steps in
// authored order.
func (h *Handle) MapPoint(p [3]float64) [3]float64 {
	for _, s := range h.steps {
		p = s.MapPoint(p)
	}
	return p
}

// Inverse returns the reverse mapping (fixed and moving swapped).
// It fails if any step has no closed-form inverse, as dense
// displacement fields do not.
func (h *Handle) Inverse() (*Handle, error) {
	steps := make([]Step, 0, len(h.steps))
	for i := len(h.steps) - 1; i >= 0; i-- {
		inv, ok := h.steps[i].(invertible)
		if !ok {
			return nil, fmt.Errorf("transform: step %d (%T) is not invertible", i, h.steps[i])
		}
		s, err := inv.Inverse()
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return NewHandle(h.fixed, h.moving, steps...), nil
}

// Concat joins handles from independently computed registrations into
// a single handle. Handles are given in the order an image crosses
// frames: first the handle out of the image's native frame, then each
// subsequent hop. Every hop's moving frame must equal the previous
// hop's fixed frame or Concat fails with ErrFrameMismatch.
//
// The resulting handle maps the final fixed frame back to the first
// moving frame, so the last hop's steps run first on a target-space
// point while each individual handle keeps its authored step order.
func Concat(handles ...*Handle) (*Handle, error) {
	if len(handles) == 0 {
		return nil, fmt.Errorf("transform: no handles to concatenate")
	}
	for i := 1; i < len(handles); i++ {
		if handles[i].moving != handles[i-1].fixed {
			return nil, fmt.Errorf("%w: hop %d starts in frame %q but previous hop ends in frame %q",
				ErrFrameMismatch, i, handles[i].moving, handles[i-1].fixed)
		}
	}
	var steps []Step
	for i := len(handles) - 1; i >= 0; i-- {
		steps = append(steps, handles[i].steps...)
	}
	return NewHandle(handles[0].moving, handles[len(handles)-1].fixed, steps...), nil
}

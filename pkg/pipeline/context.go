package pipeline

import (
	"fmt"

	"lesionflow/pkg/imaging"
	"lesionflow/pkg/transform"
)

// SubjectContext owns the per-subject frame bookkeeping: for every
// logical image ("dwi_b0", "adc", ...) it tracks the current Image
// Handle, the frame that handle occupies, and the chain of transform
// handles accumulated since tracking began. Stages read chains from
// here instead of re-deriving them, so an image that must cross two
// frames gets the correctly concatenated chain.
//
// The context is mutated only by the orchestrator that owns it, never
// concurrently.
type SubjectContext struct {
	entries map[string]*entry
}

type entry struct {
	img   *imaging.Image
	chain []*transform.Handle
}

// NewSubjectContext returns an empty context
func NewSubjectContext() *SubjectContext {
	return &SubjectContext{entries: make(map[string]*entry)}
}

// Track begins tracking a logical image at its current frame with an
// empty transform chain.
func (c *SubjectContext) Track(name string, img *imaging.Image) {
	c.entries[name] = &entry{img: img}
}

// Advance records that the logical image has been carried into a new
// frame by hop: the stored handle becomes warped and hop is appended
// to the chain. It fails with ErrFrameMismatch when hop does not
// depart from the image's current frame or warped does not land in
// hop's fixed frame; the bookkeeping must never drift from the actual
// images.
func (c *SubjectContext) Advance(name string, warped *imaging.Image, hop *transform.Handle) error {
	e, ok := c.entries[name]
	if !ok {
		return fmt.Errorf("pipeline: unknown logical image %q", name)
	}
	if hop.Moving() != e.img.Frame() {
		return fmt.Errorf("%w: %q is in frame %q but the transform departs from %q",
			transform.ErrFrameMismatch, name, e.img.Frame(), hop.Moving())
	}
	if warped.Frame() != hop.Fixed() {
		return fmt.Errorf("%w: warped %q is in frame %q but the transform targets %q",
			transform.ErrFrameMismatch, name, warped.Frame(), hop.Fixed())
	}
	e.img = warped
	e.chain = append(e.chain, hop)
	return nil
}

// Image returns the current handle for a logical image
func (c *SubjectContext) Image(name string) (*imaging.Image, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown logical image %q", name)
	}
	return e.img, nil
}

// Chain returns the transform hops accumulated for a logical image
// since tracking began, in application order.
func (c *SubjectContext) Chain(name string) []*transform.Handle {
	e, ok := c.entries[name]
	if !ok {
		return nil
	}
	out := make([]*transform.Handle, len(e.chain))
	copy(out, e.chain)
	return out
}

// Frame returns the frame a logical image currently occupies
func (c *SubjectContext) Frame(name string) (imaging.FrameID, error) {
	img, err := c.Image(name)
	if err != nil {
		return "", err
	}
	return img.Frame(), nil
}

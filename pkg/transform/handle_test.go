package transform

import (
	"errors"
	"testing"

	"lesionflow/pkg/imaging"
)

// TestHandleMapPointOrder verifies steps replay in authored order
func TestHandleMapPointOrder(t *testing.T) {
	shift := Translation(1, 0, 0)
	rot := rotZ90(t)

	// shift first, then rotate: (1,0,0) -> (2,0,0) -> (0,2,0)
	h := NewHandle("a", "b", shift, rot)
	if got := h.MapPoint([3]float64{1, 0, 0}); !pointsClose(got, [3]float64{0, 2, 0}) {
		t.Errorf("Expected (0, 2, 0), got %v", got)
	}
	if h.Moving() != "a" || h.Fixed() != "b" {
		t.Errorf("Expected frames a -> b, got %s -> %s", h.Moving(), h.Fixed())
	}
}

// TestEmptyHandleIsIdentity verifies a zero-step handle maps points
// unchanged while keeping its frame endpoints
func TestEmptyHandleIsIdentity(t *testing.T) {
	h := NewHandle("a", "b")
	p := [3]float64{3, -2, 7}
	if got := h.MapPoint(p); !pointsClose(got, p) {
		t.Errorf("Expected identity mapping, got %v", got)
	}
	if h.Moving() != "a" || h.Fixed() != "b" {
		t.Errorf("Expected frames a -> b, got %s -> %s", h.Moving(), h.Fixed())
	}
}

// TestHandleInverse verifies the inverse handle reverses both the
// mapping and the frame endpoints
func TestHandleInverse(t *testing.T) {
	h := NewHandle("a", "b", Translation(1, 2, 3), rotZ90(t))
	inv, err := h.Inverse()
	if err != nil {
		t.Fatalf("Inverse failed: %v", err)
	}
	if inv.Moving() != "b" || inv.Fixed() != "a" {
		t.Errorf("Expected frames b -> a, got %s -> %s", inv.Moving(), inv.Fixed())
	}

	p := [3]float64{5, 6, 7}
	if got := inv.MapPoint(h.MapPoint(p)); !pointsClose(got, p) {
		t.Errorf("Expected round trip back to %v, got %v", p, got)
	}
}

// TestHandleInverseNonInvertible verifies that a handle containing a
// displacement step refuses to invert
func TestHandleInverseNonInvertible(t *testing.T) {
	var comp [3]*imaging.Image
	for axis := 0; axis < 3; axis++ {
		img, err := imaging.New(make([]float64, 8), [3]int{2, 2, 2}, [3]float64{1, 1, 1},
			[3]float64{0, 0, 0}, imaging.IdentityDirection(), imaging.Intensity, "a")
		if err != nil {
			t.Fatalf("Failed to create component: %v", err)
		}
		comp[axis] = img
	}
	warp, err := NewDisplacement(comp)
	if err != nil {
		t.Fatalf("NewDisplacement failed: %v", err)
	}

	h := NewHandle("a", "b", warp)
	if _, err := h.Inverse(); err == nil {
		t.Error("Expected error inverting a displacement step")
	}
}

// TestConcatContinuity verifies frame continuity checking across hops
func TestConcatContinuity(t *testing.T) {
	h1 := NewHandle("a", "b", Translation(1, 0, 0))
	h2 := NewHandle("b", "c", Translation(0, 1, 0))
	h3 := NewHandle("x", "c")

	if _, err := Concat(h1, h2); err != nil {
		t.Errorf("Contiguous chain failed: %v", err)
	}
	if _, err := Concat(h1, h3); !errors.Is(err, ErrFrameMismatch) {
		t.Errorf("Expected ErrFrameMismatch for broken chain, got %v", err)
	}
	if _, err := Concat(); err == nil {
		t.Error("Expected error for an empty chain")
	}
}

// TestConcatMapping verifies that the concatenated handle applies the
// last hop's steps first and spans the full frame range
func TestConcatMapping(t *testing.T) {
	// a -> b shifts x, b -> c rotates about z
	h1 := NewHandle("a", "b", Translation(1, 0, 0))
	h2 := NewHandle("b", "c", rotZ90(t))

	chain, err := Concat(h1, h2)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if chain.Moving() != "a" || chain.Fixed() != "c" {
		t.Errorf("Expected frames a -> c, got %s -> %s", chain.Moving(), chain.Fixed())
	}

	// A c-frame point passes through h2's steps first, then h1's:
	// (1,0,0) -> (0,1,0) -> (1,1,0)
	if got := chain.MapPoint([3]float64{1, 0, 0}); !pointsClose(got, [3]float64{1, 1, 0}) {
		t.Errorf("Expected (1, 1, 0), got %v", got)
	}
}

// TestStepsCopy verifies that mutating the returned step slice does
// not corrupt the handle
func TestStepsCopy(t *testing.T) {
	h := NewHandle("a", "b", Translation(1, 0, 0))
	steps := h.Steps()
	steps[0] = Translation(99, 0, 0)
	if got := h.MapPoint([3]float64{0, 0, 0}); !pointsClose(got, [3]float64{1, 0, 0}) {
		t.Errorf("Handle steps were mutated through the copy: got %v", got)
	}
}

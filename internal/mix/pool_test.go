package mix

import "testing"

func TestScratchPoolBorrowAndRewind(t *testing.T) {
	p := NewScratchPool(32, 3)

	a := p.Borrow()
	b := p.Borrow()
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("buffer lengths = %d/%d, want 64", len(a), len(b))
	}
	if &a[0] == &b[0] {
		t.Error("consecutive borrows returned the same buffer")
	}

	p.Rewind()
	c := p.Borrow()
	if &c[0] != &a[0] {
		t.Error("rewind should recycle buffers from the start")
	}
}

func TestScratchPoolExhaustionReusesLast(t *testing.T) {
	p := NewScratchPool(8, 2)
	p.Borrow()
	last := p.Borrow()
	over := p.Borrow()
	if &over[0] != &last[0] {
		t.Error("overdrawn pool should hand back the last buffer")
	}
}

func TestStagingRoundTrip(t *testing.T) {
	p := NewScratchPool(16, 1)

	s := p.GetStaging()
	if len(s) != 32 {
		t.Fatalf("staging length = %d, want 32", len(s))
	}
	p.PutStaging(s)

	// Undersized buffers are dropped, not recycled.
	p.PutStaging(make([]float32, 4))
	if got := p.GetStaging(); len(got) != 32 {
		t.Errorf("staging length after put = %d, want 32", len(got))
	}
}

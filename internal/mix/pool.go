package mix

import "sync"

// ScratchPool hands out working buffers during rendering. The render loop
// borrows from a fixed set of preallocated slices that are recycled every
// block, so the hot path never touches the heap. Non-RT callers (decode
// staging) use a separate sync.Pool side door.
type ScratchPool struct {
	samples int // floats per buffer (frames * 2, interleaved stereo)

	// RT-owned buffers, reset each block via Rewind.
	bufs [][]float32
	next int

	staging sync.Pool
}

// NewScratchPool preallocates n render buffers of blockFrames stereo frames.
func NewScratchPool(blockFrames, n int) *ScratchPool {
	samples := blockFrames * 2
	p := &ScratchPool{samples: samples}
	p.bufs = make([][]float32, n)
	for i := range p.bufs {
		p.bufs[i] = make([]float32, samples)
	}
	p.staging.New = func() interface{} {
		b := make([]float32, samples)
		return &b
	}
	return p
}

// Rewind makes all render buffers available again. Called once per block
// before any Borrow.
func (p *ScratchPool) Rewind() { p.next = 0 }

// Borrow returns the next free render buffer. RT only. If the fixed set is
// exhausted the last buffer is reused; the mixer sizes the pool so this
// cannot happen in a correct configuration.
func (p *ScratchPool) Borrow() []float32 {
	if p.next >= len(p.bufs) {
		return p.bufs[len(p.bufs)-1]
	}
	b := p.bufs[p.next]
	p.next++
	return b
}

// GetStaging returns a buffer for non-RT use. Pair with PutStaging.
func (p *ScratchPool) GetStaging() []float32 {
	return *p.staging.Get().(*[]float32)
}

// PutStaging returns a staging buffer to the pool.
func (p *ScratchPool) PutStaging(b []float32) {
	if cap(b) < p.samples {
		return
	}
	b = b[:p.samples]
	p.staging.Put(&b)
}

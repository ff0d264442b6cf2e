package stream

import (
	"fmt"
	"sync/atomic"
)

// Ring is a single-producer single-consumer ring buffer of interleaved
// stereo frames. The decode goroutine writes, the render goroutine reads.
// Cursors are absolute frame counts so the read cursor can never pass the
// write cursor; unread frames are never overwritten. Neither side takes a
// lock: the consumer runs on the render thread.
type Ring struct {
	buf  []float32
	mask uint64

	readPos  atomic.Uint64
	writePos atomic.Uint64

	// notFull wakes a parked producer after the consumer frees space.
	notFull chan struct{}
}

// NewRing allocates a ring of the given frame capacity, which must be a
// power of two.
func NewRing(frames int) (*Ring, error) {
	if frames <= 0 || frames&(frames-1) != 0 {
		return nil, fmt.Errorf("ring capacity must be a power of two, got %d", frames)
	}
	return &Ring{
		buf:     make([]float32, frames*2),
		mask:    uint64(frames) - 1,
		notFull: make(chan struct{}, 1),
	}, nil
}

// Capacity returns the ring capacity in frames.
func (r *Ring) Capacity() int { return int(r.mask) + 1 }

// Buffered returns the number of unread frames.
func (r *Ring) Buffered() int {
	return int(r.writePos.Load() - r.readPos.Load())
}

// Free returns the number of frames the producer may write without
// touching unread data.
func (r *Ring) Free() int {
	return r.Capacity() - r.Buffered()
}

// WriteFrames copies up to len(src)/2 frames into the ring and returns the
// number of frames written. Producer side only. Returns 0 when the ring is
// full; the producer then parks on NotFull rather than growing or
// overwriting.
func (r *Ring) WriteFrames(src []float32) int {
	frames := len(src) / 2
	if free := r.Free(); frames > free {
		frames = free
	}
	if frames == 0 {
		return 0
	}
	w := r.writePos.Load()
	for f := 0; f < frames; f++ {
		idx := ((w + uint64(f)) & r.mask) * 2
		r.buf[idx] = src[2*f]
		r.buf[idx+1] = src[2*f+1]
	}
	r.writePos.Store(w + uint64(frames))
	return frames
}

// ReadFrames copies up to frames frames into dst and returns how many were
// read. Consumer side only; never blocks. Freed space wakes the producer
// through a non-blocking signal.
func (r *Ring) ReadFrames(dst []float32, frames int) int {
	if buffered := r.Buffered(); frames > buffered {
		frames = buffered
	}
	if frames == 0 {
		return 0
	}
	pos := r.readPos.Load()
	for f := 0; f < frames; f++ {
		idx := ((pos + uint64(f)) & r.mask) * 2
		dst[2*f] = r.buf[idx]
		dst[2*f+1] = r.buf[idx+1]
	}
	r.readPos.Store(pos + uint64(frames))

	select {
	case r.notFull <- struct{}{}:
	default:
	}
	return frames
}

// NotFull is the producer's parking channel. A receive means space may be
// available again.
func (r *Ring) NotFull() <-chan struct{} { return r.notFull }

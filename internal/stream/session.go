package stream

import (
	"errors"
	"io"
	"sync/atomic"
	"time"
)

// State is a stream session's lifecycle state.
type State int32

const (
	// StateIdle is the zero value; a session never returns to it.
	StateIdle State = iota
	// StateOpening lasts until the first ring fill completes or fails.
	StateOpening
	// StateStreaming means the decode task is feeding the ring.
	StateStreaming
	// StateDraining means the source is exhausted; the render thread keeps
	// reading until the ring empties.
	StateDraining
	// StateClosed means the session delivers nothing but silence.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// legal session transitions; everything else is rejected.
var sessionTransitions = map[State][]State{
	StateIdle:      {StateOpening},
	StateOpening:   {StateStreaming, StateClosed},
	StateStreaming: {StateDraining, StateClosed},
	StateDraining:  {StateClosed},
}

// Source delivers interleaved stereo float32 samples. decode.Source
// satisfies it.
type Source interface {
	ReadSamples(dst []float32) (int, error)
	SampleRate() int
	Channels() int
	Close() error
}

// ID identifies a stream session to client code.
type ID uint64

// Session couples a ring buffer with a background decode task. The render
// thread only ever calls ReadFrames and Closed; everything else runs on
// control or worker goroutines.
type Session struct {
	id   ID
	key  string
	ring *Ring

	state     atomic.Int32
	underruns atomic.Uint64

	// rtDetached is true while no voice on the render thread references
	// this session. The manager only reclaims a session once it is both
	// Closed and detached.
	rtDetached atomic.Bool

	closeReq atomic.Bool

	firstFill chan struct{}
	fillErr   error
	done      chan struct{}
}

func newSession(id ID, key string, ring *Ring) *Session {
	s := &Session{
		id:        id,
		key:       key,
		ring:      ring,
		firstFill: make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.rtDetached.Store(true)
	s.state.Store(int32(StateIdle))
	return s
}

// ID returns the session id.
func (s *Session) ID() ID { return s.id }

// Key returns the asset key the session streams.
func (s *Session) Key() string { return s.key }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Closed reports whether the session has fully drained or failed.
func (s *Session) Closed() bool { return s.State() == StateClosed }

// Underruns returns how many blocks read fewer frames than requested while
// the decode task was still live.
func (s *Session) Underruns() uint64 { return s.underruns.Load() }

// Attach marks the session as referenced by a render-thread voice.
func (s *Session) Attach() { s.rtDetached.Store(false) }

// Detach marks the session as no longer referenced by the render thread.
func (s *Session) Detach() { s.rtDetached.Store(true) }

// RequestClose asks the decode task to stop. The session drains whatever
// the ring still holds and then closes itself; resources are reclaimed by
// the manager's sweep once the render thread has let go.
func (s *Session) RequestClose() {
	s.closeReq.Store(true)
	// Unpark a producer waiting for ring space.
	select {
	case s.ring.notFull <- struct{}{}:
	default:
	}
}

// transition moves between states if the edge is legal.
func (s *Session) transition(from, to State) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return s.state.CompareAndSwap(int32(from), int32(to))
		}
	}
	return false
}

// ReadFrames fills dst with up to frames frames, padding any shortfall
// with silence. Render thread only; never blocks. A shortfall counts as an
// underrun only while the decode task is still producing; a draining
// session running dry is a normal end of stream.
func (s *Session) ReadFrames(dst []float32, frames int) int {
	state := s.State()
	if state == StateClosed || state == StateOpening || state == StateIdle {
		zeroFrames(dst, frames)
		return 0
	}

	n := s.ring.ReadFrames(dst, frames)
	if n < frames {
		zeroFrames(dst[n*2:], frames-n)
		switch state {
		case StateStreaming:
			s.underruns.Add(1)
		case StateDraining:
			if s.ring.Buffered() == 0 {
				s.transition(StateDraining, StateClosed)
			}
		}
	}
	return n
}

// fill is the background decode task. It keeps the ring ahead of the read
// cursor and parks when the ring is full (backpressure) instead of growing
// it. On source EOF the session moves to Draining and the task exits.
func (s *Session) fill(src Source) {
	defer close(s.done)
	defer src.Close()

	staging := make([]float32, s.ring.Capacity()) // half the ring per pass
	first := true

	finish := func(err error) {
		if !first {
			return
		}
		s.fillErr = err
		if err != nil {
			s.state.Store(int32(StateClosed))
		} else {
			s.transition(StateOpening, StateStreaming)
		}
		close(s.firstFill)
		first = false
	}

	for {
		if s.closeReq.Load() {
			finish(nil)
			s.drainEdge()
			return
		}

		n, err := src.ReadSamples(staging)
		if n > 0 {
			rem := staging[:n-n%2]
			for len(rem) > 0 {
				if s.closeReq.Load() {
					finish(nil)
					s.drainEdge()
					return
				}
				w := s.ring.WriteFrames(rem)
				if w == 0 {
					// Ring full: first fill is as complete as it gets.
					finish(nil)
					select {
					case <-s.ring.NotFull():
					case <-time.After(50 * time.Millisecond):
					}
					continue
				}
				rem = rem[w*2:]
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				finish(nil)
			} else {
				finish(err)
			}
			s.drainEdge()
			return
		}
		if n == 0 {
			finish(nil)
			s.drainEdge()
			return
		}
		finish(nil)
	}
}

// drainEdge moves the session out of the producing states when the decode
// task stops. An empty ring goes straight to Closed.
func (s *Session) drainEdge() {
	s.transition(StateOpening, StateStreaming)
	s.transition(StateStreaming, StateDraining)
	if s.ring.Buffered() == 0 {
		s.transition(StateDraining, StateClosed)
	}
}

func zeroFrames(dst []float32, frames int) {
	n := frames * 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = 0
	}
}

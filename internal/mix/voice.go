package mix

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/soundcore/internal/cache"
	"github.com/dgnsrekt/soundcore/internal/stream"
)

// ErrVoiceLimit is returned when every voice slot is in use.
var ErrVoiceLimit = errors.New("voice limit reached")

// SourceKind tags what a voice reads from. A closed set keeps the render
// path free of interface dispatch.
type SourceKind uint8

const (
	// SourceNone marks an empty slot.
	SourceNone SourceKind = iota
	// SourceAsset reads directly from a cached asset.
	SourceAsset
	// SourceStream reads from a stream session's ring buffer.
	SourceStream
)

// Voice slot lifecycle. Control allocates (staged), the render loop
// activates on the play command, finishes at a block boundary, and the
// control-side sweep reclaims the slot afterwards; the render thread
// never frees anything.
const (
	voiceEmpty uint32 = iota
	voiceStaged
	voiceActive
	voiceFinished
)

// Voice is one playing instance of an asset or stream, bound to a bus.
// Fields other than state and gen are written by the control thread
// before activation (the command channel publishes them) and read only by
// the render thread afterwards.
type Voice struct {
	state atomic.Uint32
	gen   atomic.Uint32

	kind    SourceKind
	handle  *cache.Handle
	cursor  int
	session *stream.Session

	bus    int
	gainL  float32
	gainR  float32
	looped bool

	silentBlocks atomic.Uint64 // blocks substituted with silence (pending asset)
}

// Handle returns the cache handle for asset voices, nil otherwise.
func (v *Voice) Handle() *cache.Handle { return v.handle }

// Session returns the stream session for stream voices, nil otherwise.
func (v *Voice) Session() *stream.Session { return v.session }

// ID packs a slot index and its generation. The zero ID is invalid.
type ID uint64

func makeID(slot int, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(slot+1))
}

func (id ID) slot() int    { return int(uint32(id)) - 1 }
func (id ID) gen() uint32  { return uint32(uint64(id) >> 32) }
func (id ID) valid() bool  { return uint32(id) != 0 }

// Slab is the fixed voice pool. Slots are identified by integer ids with
// generation counters; no per-voice heap allocation happens after
// construction.
type Slab struct {
	voices []Voice

	mu   sync.Mutex // guards free; control side only
	free []int
}

// NewSlab creates a slab with n voice slots.
func NewSlab(n int) *Slab {
	s := &Slab{
		voices: make([]Voice, n),
		free:   make([]int, 0, n),
	}
	for i := n - 1; i >= 0; i-- {
		s.free = append(s.free, i)
	}
	return s
}

// Len returns the slot count.
func (s *Slab) Len() int { return len(s.voices) }

// Voice returns slot i. Render loop iteration helper.
func (s *Slab) Voice(i int) *Voice { return &s.voices[i] }

// AllocAsset stages a voice playing a cached asset. Control side.
func (s *Slab) AllocAsset(h *cache.Handle, bus int, gainL, gainR float32, loop bool) (ID, error) {
	return s.alloc(func(v *Voice) {
		v.kind = SourceAsset
		v.handle = h
		v.cursor = 0
		v.looped = loop
		v.bus = bus
		v.gainL = gainL
		v.gainR = gainR
	})
}

// AllocStream stages a voice playing a stream session. Control side.
func (s *Slab) AllocStream(sess *stream.Session, bus int, gainL, gainR float32) (ID, error) {
	return s.alloc(func(v *Voice) {
		v.kind = SourceStream
		v.session = sess
		v.bus = bus
		v.gainL = gainL
		v.gainR = gainR
	})
}

func (s *Slab) alloc(fill func(*Voice)) (ID, error) {
	s.mu.Lock()
	if len(s.free) == 0 {
		s.mu.Unlock()
		return 0, ErrVoiceLimit
	}
	slot := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.mu.Unlock()

	v := &s.voices[slot]
	fill(v)
	v.silentBlocks.Store(0)
	v.state.Store(voiceStaged)
	return makeID(slot, v.gen.Load()), nil
}

// Activate flips a staged slot live. Called by the render loop when it
// applies the play command.
func (s *Slab) Activate(id ID) bool {
	if !id.valid() || id.slot() >= len(s.voices) {
		return false
	}
	v := &s.voices[id.slot()]
	if v.gen.Load() != id.gen() {
		return false
	}
	return v.state.CompareAndSwap(voiceStaged, voiceActive)
}

// StopRT marks a voice finished. Called by the render loop when it applies
// a stop command; the slot stops rendering from this block on. The stream
// session, if any, is detached so the manager can reclaim it.
func (s *Slab) StopRT(id ID) bool {
	if !id.valid() || id.slot() >= len(s.voices) {
		return false
	}
	v := &s.voices[id.slot()]
	if v.gen.Load() != id.gen() {
		return false
	}
	if v.state.CompareAndSwap(voiceActive, voiceFinished) ||
		v.state.CompareAndSwap(voiceStaged, voiceFinished) {
		if v.session != nil {
			v.session.Detach()
		}
		return true
	}
	return false
}

// Cancel retires a voice that was staged but never activated, e.g. when
// its activation command could not be posted. Control side; the slot is
// reclaimed by the next sweep.
func (s *Slab) Cancel(id ID) bool {
	if !id.valid() || id.slot() >= len(s.voices) {
		return false
	}
	v := &s.voices[id.slot()]
	if v.gen.Load() != id.gen() {
		return false
	}
	if !v.state.CompareAndSwap(voiceStaged, voiceFinished) {
		return false
	}
	if v.session != nil {
		v.session.Detach()
	}
	return true
}

// StopAll finishes every staged and active voice. Only safe once the
// render loop is no longer running.
func (s *Slab) StopAll() {
	for i := range s.voices {
		v := &s.voices[i]
		if v.state.CompareAndSwap(voiceStaged, voiceFinished) ||
			v.state.CompareAndSwap(voiceActive, voiceFinished) {
			if v.session != nil {
				v.session.Detach()
			}
		}
	}
}

// Alive reports whether id still names a staged or active voice.
func (s *Slab) Alive(id ID) bool {
	if !id.valid() || id.slot() >= len(s.voices) {
		return false
	}
	v := &s.voices[id.slot()]
	if v.gen.Load() != id.gen() {
		return false
	}
	st := v.state.Load()
	return st == voiceStaged || st == voiceActive
}

// Reclaim sweeps finished slots back onto the free list, invoking release
// for each so the engine can drop cache pins and stream references.
// Control side only; this is the deferred-reclamation half of voice
// teardown.
func (s *Slab) Reclaim(release func(*Voice)) int {
	n := 0
	for i := range s.voices {
		v := &s.voices[i]
		if v.state.Load() != voiceFinished {
			continue
		}
		if release != nil {
			release(v)
		}
		v.kind = SourceNone
		v.handle = nil
		v.session = nil
		v.cursor = 0
		v.gen.Add(1)
		v.state.Store(voiceEmpty)

		s.mu.Lock()
		s.free = append(s.free, i)
		s.mu.Unlock()
		n++
	}
	return n
}

// Active counts staged plus active voices.
func (s *Slab) Active() int {
	n := 0
	for i := range s.voices {
		st := s.voices[i].state.Load()
		if st == voiceStaged || st == voiceActive {
			n++
		}
	}
	return n
}

// PanLaw selects how pan positions map to channel gains.
type PanLaw uint8

const (
	// PanBalance attenuates the far channel only; center is unity gain.
	PanBalance PanLaw = iota
	// PanConstantPower keeps perceived loudness even across the field
	// (center sits at -3 dB).
	PanConstantPower
	// PanLinear is a straight crossfade (center at -6 dB).
	PanLinear
)

// PanGains returns left/right gains for pan in [-1, 1] scaled by gain.
// Gain and pan live in the linear amplitude domain; the gains are fixed
// at voice start, never drifting per block.
func PanGains(law PanLaw, pan, gain float32) (float32, float32) {
	if pan < -1 {
		pan = -1
	} else if pan > 1 {
		pan = 1
	}
	switch law {
	case PanLinear:
		return gain * (1 - pan) / 2, gain * (1 + pan) / 2
	case PanConstantPower:
		angle := float64(pan+1) * math.Pi / 4
		return gain * float32(math.Cos(angle)), gain * float32(math.Sin(angle))
	default:
		gl, gr := float32(1), float32(1)
		if pan > 0 {
			gl = 1 - pan
		} else if pan < 0 {
			gr = 1 + pan
		}
		return gain * gl, gain * gr
	}
}

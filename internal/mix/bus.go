package mix

import (
	"fmt"
	"math"
)

// SendConfig routes a scaled copy of a bus into another bus.
type SendConfig struct {
	To    string  `yaml:"to"`
	Level float32 `yaml:"level"`
}

// BusConfig describes one accumulation bus in the fixed topology.
type BusConfig struct {
	Name  string       `yaml:"name"`
	Gain  float32      `yaml:"gain"`
	Sends []SendConfig `yaml:"sends"`
}

type send struct {
	target int
	level  float32
}

// Bus is a named accumulation target. All fields are owned by the render
// goroutine once the engine is running; control threads change gain, mute
// and solo through the command mailbox only.
type Bus struct {
	name  string
	gain  float32
	mute  bool
	solo  bool
	sends []send

	l, r []float32
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// Graph is the fixed bus topology plus the master accumulation buffers.
// Bus order is set once at construction and never changes, so summation
// is deterministic block after block.
type Graph struct {
	buses  []*Bus
	index  map[string]int
	frames int

	masterL []float32
	masterR []float32
}

// NewGraph builds the bus graph for blockFrames-sized blocks. The config
// order becomes the permanent evaluation order.
func NewGraph(blockFrames int, cfgs []BusConfig) (*Graph, error) {
	if blockFrames <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockFrames)
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("at least one bus is required")
	}

	g := &Graph{
		index:   make(map[string]int, len(cfgs)),
		frames:  blockFrames,
		masterL: make([]float32, blockFrames),
		masterR: make([]float32, blockFrames),
	}

	for i, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("bus %d has no name", i)
		}
		if _, dup := g.index[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate bus name %q", cfg.Name)
		}
		gain := cfg.Gain
		if gain == 0 {
			gain = 1.0
		}
		g.index[cfg.Name] = i
		g.buses = append(g.buses, &Bus{
			name: cfg.Name,
			gain: gain,
			l:    make([]float32, blockFrames),
			r:    make([]float32, blockFrames),
		})
	}

	// Sends resolve after all buses exist so forward references work.
	for i, cfg := range cfgs {
		for _, sc := range cfg.Sends {
			target, ok := g.index[sc.To]
			if !ok {
				return nil, fmt.Errorf("bus %q sends to unknown bus %q", cfg.Name, sc.To)
			}
			if target == i {
				return nil, fmt.Errorf("bus %q sends to itself", cfg.Name)
			}
			g.buses[i].sends = append(g.buses[i].sends, send{target: target, level: sc.Level})
		}
	}

	return g, nil
}

// NumBuses returns the number of buses (master excluded).
func (g *Graph) NumBuses() int { return len(g.buses) }

// BusIndex resolves a bus name to its fixed index.
func (g *Graph) BusIndex(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// BusName returns the name of bus i.
func (g *Graph) BusName(i int) string { return g.buses[i].name }

// SetGain, SetMute and SetSolo are applied by the render loop at block
// boundaries when it drains the command mailbox.
func (g *Graph) SetGain(i int, gain float32) { g.buses[i].gain = gain }
func (g *Graph) SetMute(i int, mute bool)    { g.buses[i].mute = mute }
func (g *Graph) SetSolo(i int, solo bool)    { g.buses[i].solo = solo }

// Clear zeroes every accumulation buffer ahead of a new block.
func (g *Graph) Clear() {
	for _, b := range g.buses {
		zero(b.l)
		zero(b.r)
	}
	zero(g.masterL)
	zero(g.masterR)
}

// accumulate mixes gained stereo samples into bus i's buffers.
func (g *Graph) accumulate(i int, scratch []float32, frames int, gl, gr float32) {
	b := g.buses[i]
	for f := 0; f < frames; f++ {
		b.l[f] += scratch[2*f] * gl
		b.r[f] += scratch[2*f+1] * gr
	}
}

// audible reports whether bus i contributes to sends and master this block,
// honoring mute and the solo set.
func (g *Graph) audible(i int) bool {
	b := g.buses[i]
	if b.mute {
		return false
	}
	anySolo := false
	for _, other := range g.buses {
		if other.solo {
			anySolo = true
			break
		}
	}
	return !anySolo || b.solo
}

// ApplySends routes post-fader copies between buses in fixed bus order.
// The tap point is after the bus fader and after mute/solo gating, before
// master summation.
func (g *Graph) ApplySends() {
	for i, b := range g.buses {
		if len(b.sends) == 0 || !g.audible(i) {
			continue
		}
		for _, s := range b.sends {
			t := g.buses[s.target]
			k := b.gain * s.level
			for f := 0; f < g.frames; f++ {
				t.l[f] += b.l[f] * k
				t.r[f] += b.r[f] * k
			}
		}
	}
}

// SumToMaster adds every audible bus into the master buffers. The inner
// loop is unrolled four wide; per-element order is identical to the scalar
// loop so the result never depends on which path ran. Denormals are
// flushed to zero on the way out.
func (g *Graph) SumToMaster() {
	for i, b := range g.buses {
		if !g.audible(i) {
			continue
		}
		sumInto(g.masterL, b.l, b.gain)
		sumInto(g.masterR, b.r, b.gain)
	}
	flushDenormals(g.masterL)
	flushDenormals(g.masterR)
}

// WriteMasterInterleaved copies the master block into dst as interleaved
// stereo and returns the number of frames written.
func (g *Graph) WriteMasterInterleaved(dst []float32) int {
	frames := g.frames
	if len(dst)/2 < frames {
		frames = len(dst) / 2
	}
	for f := 0; f < frames; f++ {
		dst[2*f] = g.masterL[f]
		dst[2*f+1] = g.masterR[f]
	}
	return frames
}

const denormalThreshold = 1e-20

func sumInto(dst, src []float32, gain float32) {
	n := len(dst)
	i := 0
	for ; i+4 <= n; i += 4 {
		dst[i] += src[i] * gain
		dst[i+1] += src[i+1] * gain
		dst[i+2] += src[i+2] * gain
		dst[i+3] += src[i+3] * gain
	}
	for ; i < n; i++ {
		dst[i] += src[i] * gain
	}
}

func flushDenormals(buf []float32) {
	for i, v := range buf {
		if v != 0 && math.Abs(float64(v)) < denormalThreshold {
			buf[i] = 0
		}
	}
}

func zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

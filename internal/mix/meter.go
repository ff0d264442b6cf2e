package mix

import (
	"math"
	"sync/atomic"
)

// Snapshot is one complete meter reading for a bus or the master.
// Snapshots are immutable once published.
type Snapshot struct {
	PeakL float32
	PeakR float32
	RMSL  float32
	RMSR  float32
}

// meterCell publishes snapshots for one bus through a seqlock. The render
// goroutine is the only writer: it bumps the version to odd, stores the
// four levels as two packed atomic words and bumps the version back to
// even. Readers retry when the version is odd or moved mid-copy, so every
// returned Snapshot is complete, and the writer never blocks or
// allocates.
type meterCell struct {
	version atomic.Uint32
	peaks   atomic.Uint64 // PeakL<<32 | PeakR, float32 bit patterns
	rms     atomic.Uint64 // RMSL<<32  | RMSR
}

func pack(a, b float32) uint64 {
	return uint64(math.Float32bits(a))<<32 | uint64(math.Float32bits(b))
}

func (c *meterCell) publish(s Snapshot) {
	c.version.Add(1)
	c.peaks.Store(pack(s.PeakL, s.PeakR))
	c.rms.Store(pack(s.RMSL, s.RMSR))
	c.version.Add(1)
}

func (c *meterCell) read() Snapshot {
	for {
		v := c.version.Load()
		if v&1 != 0 {
			continue
		}
		p := c.peaks.Load()
		r := c.rms.Load()
		if c.version.Load() != v {
			continue
		}
		return Snapshot{
			PeakL: math.Float32frombits(uint32(p >> 32)),
			PeakR: math.Float32frombits(uint32(p)),
			RMSL:  math.Float32frombits(uint32(r >> 32)),
			RMSR:  math.Float32frombits(uint32(r)),
		}
	}
}

// Meter computes and publishes peak/RMS levels per bus and for the master.
type Meter struct {
	cells  []meterCell // one per bus, master last
	frames int
}

// NewMeter sizes the meter for the given graph. All cells start at zero.
func NewMeter(g *Graph) *Meter {
	return &Meter{
		cells:  make([]meterCell, g.NumBuses()+1),
		frames: g.frames,
	}
}

// Capture measures the post-fader signal each bus contributes to the master,
// plus the master itself, and publishes new snapshots. RT only.
func (m *Meter) Capture(g *Graph) {
	for i, b := range g.buses {
		if !g.audible(i) {
			m.cells[i].publish(Snapshot{})
			continue
		}
		m.cells[i].publish(measure(b.l, b.r, b.gain))
	}
	m.cells[len(g.buses)].publish(measure(g.masterL, g.masterR, 1.0))
}

// Read returns the latest snapshot for bus i. Pass NumBuses() for the
// master. Safe from any goroutine; never blocks the render loop.
func (m *Meter) Read(i int) Snapshot {
	if i < 0 || i >= len(m.cells) {
		return Snapshot{}
	}
	return m.cells[i].read()
}

// MasterIndex returns the cell index of the master meter.
func (m *Meter) MasterIndex() int { return len(m.cells) - 1 }

func measure(l, r []float32, gain float32) Snapshot {
	var s Snapshot
	var sumL, sumR float64
	for i := range l {
		vl := l[i] * gain
		vr := r[i] * gain
		if a := float32(math.Abs(float64(vl))); a > s.PeakL {
			s.PeakL = a
		}
		if a := float32(math.Abs(float64(vr))); a > s.PeakR {
			s.PeakR = a
		}
		sumL += float64(vl) * float64(vl)
		sumR += float64(vr) * float64(vr)
	}
	if n := float64(len(l)); n > 0 {
		s.RMSL = float32(math.Sqrt(sumL / n))
		s.RMSR = float32(math.Sqrt(sumR / n))
	}
	return s
}

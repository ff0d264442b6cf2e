package mix

import "github.com/dgnsrekt/soundcore/internal/cache"

// Mixer pulls samples from every active voice into its bus, applies
// sends, sums buses into the master and captures meters, once per render
// block. The whole pass is allocation-free.
type Mixer struct {
	graph *Graph
	meter *Meter
	pool  *ScratchPool
	slab  *Slab

	frames int

	// Touch lets the render loop bump cache recency through the cache's
	// try-lock path. Optional.
	Touch func(*cache.Handle)
}

// NewMixer wires the render-side components together.
func NewMixer(graph *Graph, meter *Meter, pool *ScratchPool, slab *Slab) *Mixer {
	return &Mixer{
		graph:  graph,
		meter:  meter,
		pool:   pool,
		slab:   slab,
		frames: graph.frames,
	}
}

// Render produces one block. Voices are visited in fixed slot order and
// buses are summed in fixed configuration order, so identical input state
// yields bit-identical output.
func (m *Mixer) Render() {
	m.pool.Rewind()
	m.graph.Clear()
	scratch := m.pool.Borrow()

	for i := 0; i < m.slab.Len(); i++ {
		v := m.slab.Voice(i)
		if v.state.Load() != voiceActive {
			continue
		}
		n := m.renderVoice(v, scratch)
		if n > 0 {
			m.graph.accumulate(v.bus, scratch, n, v.gainL, v.gainR)
		}
	}

	m.graph.ApplySends()
	m.graph.SumToMaster()
	m.meter.Capture(m.graph)
}

// renderVoice fills scratch with up to one block of frames and returns
// how many are valid. Anything missing is silence; nothing here blocks or
// allocates.
func (m *Mixer) renderVoice(v *Voice, scratch []float32) int {
	switch v.kind {
	case SourceAsset:
		return m.renderAsset(v, scratch)
	case SourceStream:
		return m.renderStream(v, scratch)
	default:
		return 0
	}
}

func (m *Mixer) renderAsset(v *Voice, scratch []float32) int {
	a := v.handle.Asset()
	if a == nil {
		if v.handle.Err() != nil {
			m.finish(v)
			return 0
		}
		// Load still pending: substitute silence, start on a later block.
		v.silentBlocks.Add(1)
		return 0
	}

	if v.cursor == 0 && m.Touch != nil {
		m.Touch(v.handle)
	}

	n := a.Frames - v.cursor
	if n > m.frames {
		n = m.frames
	}
	copy(scratch[:n*2], a.Samples[v.cursor*2:(v.cursor+n)*2])
	v.cursor += n

	if v.cursor >= a.Frames {
		if v.looped {
			v.cursor = 0
		} else {
			m.finish(v)
		}
	}
	return n
}

func (m *Mixer) renderStream(v *Voice, scratch []float32) int {
	n := v.session.ReadFrames(scratch, m.frames)
	if v.session.Closed() {
		m.finish(v)
	}
	return n
}

// finish retires a voice at a block boundary. The slot stops rendering
// immediately; the control-side sweep reclaims it later.
func (m *Mixer) finish(v *Voice) {
	if v.session != nil {
		v.session.Detach()
	}
	v.state.Store(voiceFinished)
}

// Graph returns the bus graph.
func (m *Mixer) Graph() *Graph { return m.graph }

// Meter returns the level meter.
func (m *Mixer) Meter() *Meter { return m.meter }

// Package engine is the public surface of the soundcore audio engine.
// The control-plane API (loading, playback, bus control) is safe for
// concurrent use; the render path runs on the audio device's own
// goroutine and communicates with the control plane through a command
// mailbox and atomics only.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/soundcore/internal/cache"
	"github.com/dgnsrekt/soundcore/internal/decode"
	"github.com/dgnsrekt/soundcore/internal/mix"
	"github.com/dgnsrekt/soundcore/internal/output"
	"github.com/dgnsrekt/soundcore/internal/stream"
	"github.com/dgnsrekt/soundcore/internal/watch"
)

// VoiceID names one playing voice. Ids are never reused; a stale id is
// simply reported as not found.
type VoiceID uint64

// StreamID names one open stream session.
type StreamID uint64

// PlayOptions controls how a voice is started.
type PlayOptions struct {
	Bus string // target bus; empty means the first configured bus

	// Gain is the voice's linear amplitude. The zero value selects unity
	// gain, so PlayOptions{} plays at full level; pass a negative value
	// to start the voice silent.
	Gain float32

	Pan  float32 // -1 (left) .. +1 (right)
	Loop bool    // restart from frame zero at the end (asset voices only)
}

// voiceGain resolves the PlayOptions gain convention.
func voiceGain(g float32) float32 {
	switch {
	case g == 0:
		return 1
	case g < 0:
		return 0
	default:
		return g
	}
}

// Levels is a point-in-time meter reading for one bus.
type Levels struct {
	PeakL, PeakR float32
	RMSL, RMSR   float32
}

// CachedFile describes one resident cache entry.
type CachedFile struct {
	Key    string
	Bytes  int64
	Pinned bool
}

// CacheStats aggregates cache counters.
type CacheStats struct {
	BytesUsed        int64
	Budget           int64
	Entries          int
	Evictions        uint64
	Hits             uint64
	Misses           uint64
	ContendedTouches uint64
}

// Counters aggregates runtime counters across the engine.
type Counters struct {
	BlocksRendered  uint64
	Underruns       uint64
	DroppedCommands uint64
	ActiveVoices    int
	ActiveStreams   int
}

type commandOp uint8

const (
	cmdActivate commandOp = iota
	cmdStopVoice
	cmdBusGain
	cmdBusMute
	cmdBusSolo
)

// command crosses from the control plane to the render loop. Fixed-size
// value, no pointers into control-side state beyond what the render loop
// already owns.
type command struct {
	op    commandOp
	voice mix.ID
	bus   int
	f     float32
	b     bool
}

const mailboxDepth = 256

// Engine owns the cache, the stream manager, the mixer and the output
// sink, and exposes the control-plane API over them.
type Engine struct {
	cfg    Config
	logger *log.Logger

	mu sync.Mutex
	sm *StateMachine

	registry *decode.Registry
	cache    *cache.Cache
	streams  *stream.Manager

	graph *mix.Graph
	meter *mix.Meter
	slab  *mix.Slab
	mixer *mix.Mixer

	panLaw mix.PanLaw
	sink   output.Sink

	watcher *watch.Watcher

	cmds chan command

	blocks  atomic.Uint64
	dropped atomic.Uint64

	maintStop chan struct{}
	maintDone chan struct{}
}

// New builds an engine from the configuration. Nothing touches the audio
// device until Start.
func New(cfg Config, logger *log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	if len(cfg.Buses) == 0 {
		cfg.Buses = DefaultConfig().Buses
	}

	busCfgs := make([]mix.BusConfig, len(cfg.Buses))
	for i, b := range cfg.Buses {
		sends := make([]mix.SendConfig, len(b.Sends))
		for j, s := range b.Sends {
			sends[j] = mix.SendConfig{To: s.Target, Level: float32(s.Level)}
		}
		busCfgs[i] = mix.BusConfig{Name: b.Name, Gain: float32(b.Gain), Sends: sends}
	}

	graph, err := mix.NewGraph(cfg.BlockSize, busCfgs)
	if err != nil {
		return nil, fmt.Errorf("bus graph: %w", err)
	}

	lawInt, _ := parsePanLaw(cfg.PanLaw)

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		sm:       NewStateMachine(),
		registry: decode.NewRegistry(),
		graph:    graph,
		meter:    mix.NewMeter(graph),
		slab:     mix.NewSlab(cfg.MaxVoices),
		panLaw:   mix.PanLaw(lawInt),
		cmds:     make(chan command, mailboxDepth),
	}

	e.cache = cache.New(cfg.MemoryBudgetBytes, cfg.LoadWorkers, e.loadAsset, logger)
	e.streams = stream.NewManager(cfg.MaxConcurrentStreams, cfg.RingBufferFrames, e.openStreamSource, logger)

	pool := mix.NewScratchPool(cfg.BlockSize, 4)
	e.mixer = mix.NewMixer(graph, e.meter, pool, e.slab)
	e.mixer.Touch = func(h *cache.Handle) { e.cache.TryTouch(h) }

	if cfg.WatchFiles {
		w, err := watch.New(e.onFileChanged, logger)
		if err != nil {
			return nil, fmt.Errorf("file watcher: %w", err)
		}
		e.watcher = w
	}

	return e, nil
}

// loadAsset decodes a file into an interleaved stereo asset. Runs on the
// cache's loader pool.
func (e *Engine) loadAsset(key string) (*cache.Asset, error) {
	pcm, err := e.registry.File(key)
	if err != nil {
		return nil, err
	}
	return &cache.Asset{
		Key:        key,
		SampleRate: pcm.SampleRate,
		Frames:     pcm.Frames,
		Samples:    pcm.Samples,
	}, nil
}

// openStreamSource opens a decoder for a streaming session, normalized
// to stereo.
func (e *Engine) openStreamSource(key string) (stream.Source, error) {
	src, err := e.registry.Open(key)
	if err != nil {
		return nil, err
	}
	st, err := decode.Stereo(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	return st, nil
}

func (e *Engine) onFileChanged(path string) {
	if err := e.Unload(path); err != nil && !errors.Is(err, ErrAssetNotFound) {
		e.logger.Warn("failed to invalidate changed asset", "path", path, "error", err)
	}
}

// Start opens the output sink and begins rendering.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.sm.Current() {
	case StateRunning, StateStarting:
		return ErrEngineRunning
	case StateClosed, StateStopping:
		return ErrEngineClosed
	}
	e.sm.Transition(StateStarting)

	if e.sink == nil {
		var err error
		if e.cfg.Headless {
			e.sink, err = output.NewHeadlessSink(output.Config{SampleRate: e.cfg.SampleRate, Frames: e.cfg.BlockSize})
		} else {
			e.sink, err = output.NewOtoSink(output.Config{SampleRate: e.cfg.SampleRate, Frames: e.cfg.BlockSize})
		}
		if err != nil {
			e.sm.Transition(StateError)
			return NewEngineError(ErrorCodeAudioDevice, "failed to open audio sink", err)
		}
	}

	if err := e.sink.Start(e.renderBlock); err != nil {
		e.sm.Transition(StateError)
		return NewEngineError(ErrorCodeAudioDevice, "failed to start audio sink", err)
	}

	e.maintStop = make(chan struct{})
	e.maintDone = make(chan struct{})
	go e.maintain()

	e.sm.Transition(StateRunning)
	e.logger.Info("engine started",
		"sample_rate", e.cfg.SampleRate,
		"block_size", e.cfg.BlockSize,
		"buses", e.graph.NumBuses(),
		"budget", e.cfg.MemoryBudgetBytes)
	return nil
}

// Stop halts rendering, closes every stream and releases all resources.
// The engine cannot be restarted afterwards.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.sm.Current() {
	case StateClosed:
		return nil
	case StateIdle, StateError:
		e.sm.Transition(StateClosed)
		return nil
	}
	e.sm.Transition(StateStopping)

	var firstErr error
	if err := e.sink.Stop(); err != nil {
		firstErr = err
	}

	close(e.maintStop)
	<-e.maintDone

	e.streams.CloseAll()
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Render loop is quiet now; finish and reclaim everything directly.
	e.drainCommands()
	e.slab.StopAll()
	e.reclaimVoices()

	e.sm.Transition(StateClosed)
	e.logger.Info("engine stopped", "blocks_rendered", e.blocks.Load())
	return firstErr
}

// State returns the lifecycle state.
func (e *Engine) State() StateType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sm.Current()
}

// renderBlock produces one interleaved stereo block. This is the render
// thread entry point: no locks, no allocation.
func (e *Engine) renderBlock(dst []float32) {
	e.drainCommands()
	e.mixer.Render()
	e.graph.WriteMasterInterleaved(dst)
	e.blocks.Add(1)
}

// post hands a command to the render loop without ever blocking the
// caller. A full mailbox drops the command and counts the drop.
func (e *Engine) post(cmd command) bool {
	select {
	case e.cmds <- cmd:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.cmds:
			e.apply(cmd)
		default:
			return
		}
	}
}

func (e *Engine) apply(cmd command) {
	switch cmd.op {
	case cmdActivate:
		e.slab.Activate(cmd.voice)
	case cmdStopVoice:
		e.slab.StopRT(cmd.voice)
	case cmdBusGain:
		e.graph.SetGain(cmd.bus, cmd.f)
	case cmdBusMute:
		e.graph.SetMute(cmd.bus, cmd.b)
	case cmdBusSolo:
		e.graph.SetSolo(cmd.bus, cmd.b)
	}
}

// maintain is the control-side housekeeping loop: reclaims finished
// voices, sweeps closed stream sessions and reports underruns.
func (e *Engine) maintain() {
	defer close(e.maintDone)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.maintStop:
			return
		case <-ticker.C:
			e.reclaimVoices()
			e.streams.Sweep()
			e.streams.LogUnderruns()
		}
	}
}

func (e *Engine) reclaimVoices() {
	e.slab.Reclaim(func(v *mix.Voice) {
		if h := v.Handle(); h != nil {
			e.cache.Release(h)
		}
	})
}

// Load synchronously decodes an asset into the cache and blocks until it
// is resident or the load fails. The asset is left unpinned; it stays
// resident until evicted.
func (e *Engine) Load(key string) error {
	h := e.cache.GetOrLoad(key)
	<-h.Done()
	if err := h.Err(); err != nil {
		return mapCacheError(err, key)
	}
	e.cache.Release(h)
	if e.watcher != nil {
		if err := e.watcher.Track(key); err != nil {
			e.logger.Warn("failed to watch asset file", "path", key, "error", err)
		}
	}
	return nil
}

// PendingLoad tracks an asynchronous load.
type PendingLoad struct {
	h *cache.Handle
}

// Done is closed when the load completes, successfully or not.
func (p *PendingLoad) Done() <-chan struct{} { return p.h.Done() }

// Err returns the load result. Only valid after Done is closed.
func (p *PendingLoad) Err() error {
	if err := p.h.Err(); err != nil {
		return mapCacheError(err, p.h.Key())
	}
	return nil
}

// LoadAsync starts a load and returns immediately. The returned handle
// reports completion; the engine drops its pin itself.
func (e *Engine) LoadAsync(key string) *PendingLoad {
	h := e.cache.GetOrLoad(key)
	go func() {
		<-h.Done()
		if err := h.Err(); err != nil {
			e.logger.Warn("async load failed", "key", key, "error", err)
			return
		}
		e.cache.Release(h)
	}()
	return &PendingLoad{h: h}
}

// Unload evicts an asset. If voices are playing it, the entry is doomed
// and the bytes are reclaimed when the last voice finishes.
func (e *Engine) Unload(key string) error {
	if e.watcher != nil {
		e.watcher.Untrack(key)
	}
	if err := e.cache.Unload(key); err != nil {
		return mapCacheError(err, key)
	}
	return nil
}

// Play starts an asset voice. The load is kicked off if the asset is not
// resident; the voice renders silence until the samples arrive.
func (e *Engine) Play(key string, opts PlayOptions) (VoiceID, error) {
	busIdx, err := e.resolveBus(opts.Bus)
	if err != nil {
		return 0, err
	}
	gain := voiceGain(opts.Gain)
	gl, gr := mix.PanGains(e.panLaw, opts.Pan, gain)

	h := e.cache.GetOrLoad(key)
	id, err := e.slab.AllocAsset(h, busIdx, gl, gr, opts.Loop)
	if err != nil {
		e.cache.Release(h)
		return 0, ErrVoiceLimitExceeded
	}
	if !e.post(command{op: cmdActivate, voice: id}) {
		// The staged voice is cancelled; its pin is dropped by the
		// reclamation sweep.
		e.slab.Cancel(id)
		return 0, ErrMailboxFull
	}
	return VoiceID(id), nil
}

// OpenStream opens a streaming session for a large asset. The call
// blocks until the first ring fill completes, so a returned session is
// immediately playable.
func (e *Engine) OpenStream(key string) (StreamID, error) {
	s, err := e.streams.Open(key)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrLimitExceeded):
			return 0, ErrStreamLimitExceeded
		case errors.Is(err, stream.ErrDecodeFailed):
			return 0, NewEngineError(ErrorCodeDecodeFailure, "stream open failed", errors.Join(ErrDecodeFailed, err)).WithContext("key", key)
		default:
			return 0, err
		}
	}
	return StreamID(s.ID()), nil
}

// PlayStream starts a voice over an open stream session.
func (e *Engine) PlayStream(id StreamID, opts PlayOptions) (VoiceID, error) {
	s, ok := e.streams.Get(stream.ID(id))
	if !ok {
		return 0, ErrStreamNotFound
	}
	busIdx, err := e.resolveBus(opts.Bus)
	if err != nil {
		return 0, err
	}
	gain := voiceGain(opts.Gain)
	gl, gr := mix.PanGains(e.panLaw, opts.Pan, gain)

	s.Attach()
	vid, err := e.slab.AllocStream(s, busIdx, gl, gr)
	if err != nil {
		s.Detach()
		return 0, ErrVoiceLimitExceeded
	}
	if !e.post(command{op: cmdActivate, voice: vid}) {
		e.slab.Cancel(vid)
		return 0, ErrMailboxFull
	}
	return VoiceID(vid), nil
}

// CloseStream asks a session to drain: buffered audio plays out, then
// the voice finishes and the session is swept.
func (e *Engine) CloseStream(id StreamID) error {
	if err := e.streams.Close(stream.ID(id)); err != nil {
		if errors.Is(err, stream.ErrSessionNotFound) {
			return ErrStreamNotFound
		}
		return err
	}
	return nil
}

// StopVoice retires a voice at the next block boundary.
func (e *Engine) StopVoice(id VoiceID) error {
	if !e.slab.Alive(mix.ID(id)) {
		return ErrVoiceNotFound
	}
	if !e.post(command{op: cmdStopVoice, voice: mix.ID(id)}) {
		return ErrMailboxFull
	}
	return nil
}

// VoiceAlive reports whether a voice is still staged or playing.
func (e *Engine) VoiceAlive(id VoiceID) bool {
	return e.slab.Alive(mix.ID(id))
}

// SetBusGain changes a bus fader. Takes effect at the next block.
func (e *Engine) SetBusGain(name string, gain float32) error {
	idx, err := e.resolveBus(name)
	if err != nil {
		return err
	}
	if gain < 0 {
		gain = 0
	}
	if !e.post(command{op: cmdBusGain, bus: idx, f: gain}) {
		return ErrMailboxFull
	}
	return nil
}

// SetBusMute mutes or unmutes a bus.
func (e *Engine) SetBusMute(name string, mute bool) error {
	idx, err := e.resolveBus(name)
	if err != nil {
		return err
	}
	if !e.post(command{op: cmdBusMute, bus: idx, b: mute}) {
		return ErrMailboxFull
	}
	return nil
}

// SetBusSolo solos or unsolos a bus. With any bus soloed, only soloed
// buses are audible.
func (e *Engine) SetBusSolo(name string, solo bool) error {
	idx, err := e.resolveBus(name)
	if err != nil {
		return err
	}
	if !e.post(command{op: cmdBusSolo, bus: idx, b: solo}) {
		return ErrMailboxFull
	}
	return nil
}

func (e *Engine) resolveBus(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	idx, ok := e.graph.BusIndex(name)
	if !ok {
		return 0, NewEngineError(ErrorCodeBusMissing, "unknown bus", ErrBusNotFound).WithContext("bus", name)
	}
	return idx, nil
}

// BusLevels returns the most recent meter snapshot for a bus.
func (e *Engine) BusLevels(name string) (Levels, error) {
	idx, err := e.resolveBus(name)
	if err != nil {
		return Levels{}, err
	}
	return levelsFrom(e.meter.Read(idx)), nil
}

// MasterLevels returns the most recent master meter snapshot.
func (e *Engine) MasterLevels() Levels {
	return levelsFrom(e.meter.Read(e.meter.MasterIndex()))
}

func levelsFrom(s mix.Snapshot) Levels {
	return Levels{PeakL: s.PeakL, PeakR: s.PeakR, RMSL: s.RMSL, RMSR: s.RMSR}
}

// Contains reports whether an asset is resident in the cache.
func (e *Engine) Contains(key string) bool {
	return e.cache.Contains(key)
}

// CachedFiles lists resident assets in most-recently-used order.
func (e *Engine) CachedFiles() []CachedFile {
	infos := e.cache.Files()
	out := make([]CachedFile, len(infos))
	for i, fi := range infos {
		out[i] = CachedFile{Key: fi.Key, Bytes: fi.Bytes, Pinned: fi.Pinned}
	}
	return out
}

// Stats returns cache counters.
func (e *Engine) Stats() CacheStats {
	s := e.cache.Stats()
	return CacheStats{
		BytesUsed:        s.BytesUsed,
		Budget:           s.Budget,
		Entries:          s.Entries,
		Evictions:        s.Evictions,
		Hits:             s.Hits,
		Misses:           s.Misses,
		ContendedTouches: s.ContendedTouches,
	}
}

// RuntimeCounters returns engine-wide runtime counters.
func (e *Engine) RuntimeCounters() Counters {
	return Counters{
		BlocksRendered:  e.blocks.Load(),
		Underruns:       e.streams.Underruns(),
		DroppedCommands: e.dropped.Load(),
		ActiveVoices:    e.slab.Active(),
		ActiveStreams:   e.streams.Active(),
	}
}

func mapCacheError(err error, key string) error {
	switch {
	case errors.Is(err, cache.ErrExhausted):
		return NewEngineError(ErrorCodeCacheExhausted, "asset does not fit in budget", errors.Join(ErrCacheExhausted, err)).WithContext("key", key)
	case errors.Is(err, cache.ErrNotFound):
		return ErrAssetNotFound
	default:
		return NewEngineError(ErrorCodeDecodeFailure, "asset load failed", errors.Join(ErrDecodeFailed, err)).WithContext("key", key)
	}
}

package engine

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Headless = true
	cfg.BlockSize = 64
	cfg.RingBufferFrames = 1024
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

// writeWAV writes a minimal stereo PCM16 RIFF/WAVE file carrying the
// given per-frame left-channel values; the right channel mirrors left.
func writeWAV(t *testing.T, path string, frames int) {
	t.Helper()

	dataLen := frames * 2 * 2
	buf := make([]byte, 0, 44+dataLen)
	le := binary.LittleEndian
	u32 := func(v uint32) []byte { b := make([]byte, 4); le.PutUint32(b, v); return b }
	u16 := func(v uint16) []byte { b := make([]byte, 2); le.PutUint16(b, v); return b }

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+dataLen))...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...)
	buf = append(buf, u16(2)...)
	buf = append(buf, u32(48000)...)
	buf = append(buf, u32(48000*4)...)
	buf = append(buf, u16(4)...)
	buf = append(buf, u16(16)...)
	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(dataLen))...)
	for i := 0; i < frames; i++ {
		v := uint16(int16((i % 100) * 100))
		buf = append(buf, u16(v)...)
		buf = append(buf, u16(v)...)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func wavSample(i int) float32 {
	return float32((i%100)*100) / 32768.0
}

func TestEnginePlaysAssetToCompletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 128) // exactly two blocks

	e := newTestEngine(t, testConfig())
	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}
	vid, err := e.Play(path, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 64*2)
	e.renderBlock(dst)
	for i := 0; i < 64; i++ {
		want := wavSample(i)
		if math.Abs(float64(dst[2*i]-want)) > 1e-4 {
			t.Fatalf("frame %d: got %g, want %g", i, dst[2*i], want)
		}
	}

	e.renderBlock(dst)
	if e.VoiceAlive(vid) {
		t.Error("voice should finish at the end of the asset")
	}

	e.reclaimVoices()
	if got := e.RuntimeCounters().ActiveVoices; got != 0 {
		t.Errorf("active voices = %d after reclaim, want 0", got)
	}
	if got := e.RuntimeCounters().BlocksRendered; got != 2 {
		t.Errorf("blocks rendered = %d, want 2", got)
	}
}

func TestEngineAppliesVoiceGain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 64)

	e := newTestEngine(t, testConfig())
	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Play(path, PlayOptions{Gain: 0.5}); err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 64*2)
	e.renderBlock(dst)
	for i := 0; i < 64; i++ {
		want := wavSample(i) * 0.5
		if math.Abs(float64(dst[2*i]-want)) > 1e-4 {
			t.Fatalf("frame %d: got %g, want %g", i, dst[2*i], want)
		}
	}
}

func TestEnginePlayGainConvention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 64)

	e := newTestEngine(t, testConfig())
	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}

	// Zero value means unity.
	if _, err := e.Play(path, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	dst := make([]float32, 64*2)
	e.renderBlock(dst)
	if math.Abs(float64(dst[2]-wavSample(1))) > 1e-4 {
		t.Fatalf("zero-value gain: got %g, want unity level %g", dst[2], wavSample(1))
	}
	e.reclaimVoices()

	// Negative means start silent.
	if _, err := e.Play(path, PlayOptions{Gain: -1}); err != nil {
		t.Fatal(err)
	}
	e.renderBlock(dst)
	for i := range dst {
		if dst[i] != 0 {
			t.Fatalf("sample %d = %g, want silence for negative gain", i, dst[i])
		}
	}
}

func TestEngineMeterAfterRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 64)

	e := newTestEngine(t, testConfig())
	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Play(path, PlayOptions{}); err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 64*2)
	e.renderBlock(dst)

	master := e.MasterLevels()
	if master.PeakL == 0 {
		t.Error("master peak should be nonzero while a voice plays")
	}
	lv, err := e.BusLevels("default")
	if err != nil {
		t.Fatal(err)
	}
	if lv.PeakL != master.PeakL {
		t.Errorf("single-bus peak %g should match master %g", lv.PeakL, master.PeakL)
	}
}

func TestEngineStopVoice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 6400)

	e := newTestEngine(t, testConfig())
	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}
	vid, err := e.Play(path, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 64*2)
	e.renderBlock(dst)
	if !e.VoiceAlive(vid) {
		t.Fatal("voice should be alive mid-asset")
	}

	if err := e.StopVoice(vid); err != nil {
		t.Fatal(err)
	}
	e.renderBlock(dst)
	if e.VoiceAlive(vid) {
		t.Error("voice should be gone after stop")
	}

	if err := e.StopVoice(vid); !errors.Is(err, ErrVoiceNotFound) {
		t.Errorf("second stop err = %v, want ErrVoiceNotFound", err)
	}
}

func TestEnginePlayUnknownBus(t *testing.T) {
	e := newTestEngine(t, testConfig())
	_, err := e.Play("whatever.wav", PlayOptions{Bus: "nope"})
	if !errors.Is(err, ErrBusNotFound) {
		t.Fatalf("err = %v, want ErrBusNotFound", err)
	}
}

func TestEngineBusControls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 6400)

	cfg := testConfig()
	cfg.Buses = []BusConfig{{Name: "music", Gain: 1}, {Name: "sfx", Gain: 1}}
	e := newTestEngine(t, cfg)

	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Play(path, PlayOptions{Bus: "music"}); err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 64*2)
	e.renderBlock(dst)
	if dst[0] == 0 && dst[2] == 0 {
		t.Fatal("expected signal before mute")
	}

	if err := e.SetBusMute("music", true); err != nil {
		t.Fatal(err)
	}
	e.renderBlock(dst)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %g, muted bus should be silent", i, v)
		}
	}

	if err := e.SetBusMute("music", false); err != nil {
		t.Fatal(err)
	}
	if err := e.SetBusSolo("sfx", true); err != nil {
		t.Fatal(err)
	}
	e.renderBlock(dst)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %g, non-soloed bus should be silent", i, v)
		}
	}

	if err := e.SetBusGain("nope", 1); !errors.Is(err, ErrBusNotFound) {
		t.Errorf("err = %v, want ErrBusNotFound", err)
	}
}

func TestEngineLoadFailures(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(garbage, []byte("definitely not riff"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, testConfig())
	if err := e.Load(garbage); !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("err = %v, want ErrDecodeFailed", err)
	}
	if err := e.Load(filepath.Join(dir, "missing.wav")); !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("err = %v, want ErrDecodeFailed", err)
	}
	if err := e.Unload("never-loaded"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("err = %v, want ErrAssetNotFound", err)
	}
}

func TestEngineCacheBudgetExhaustion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.wav")
	writeWAV(t, path, 4096) // 32 KiB decoded

	cfg := testConfig()
	cfg.MemoryBudgetBytes = 1024
	e := newTestEngine(t, cfg)

	err := e.Load(path)
	if !errors.Is(err, ErrCacheExhausted) {
		t.Fatalf("err = %v, want ErrCacheExhausted", err)
	}
	if !IsRecoverable(err) {
		t.Error("budget exhaustion should be recoverable")
	}
}

func TestEngineLoadAsync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 64)

	e := newTestEngine(t, testConfig())
	p := e.LoadAsync(path)
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("async load never completed")
	}
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}
	if !e.Contains(path) {
		t.Error("asset should be resident after async load")
	}
}

func TestEngineCacheListing(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeWAV(t, a, 64)
	writeWAV(t, b, 64)

	e := newTestEngine(t, testConfig())
	if err := e.Load(a); err != nil {
		t.Fatal(err)
	}
	if err := e.Load(b); err != nil {
		t.Fatal(err)
	}

	s := e.Stats()
	if s.Entries != 2 {
		t.Errorf("entries = %d, want 2", s.Entries)
	}
	if s.BytesUsed != 2*64*2*4 {
		t.Errorf("bytes used = %d, want %d", s.BytesUsed, 2*64*2*4)
	}

	files := e.CachedFiles()
	if len(files) != 2 || files[0].Key != b || files[1].Key != a {
		t.Errorf("files = %+v, want b then a", files)
	}

	if err := e.Unload(a); err != nil {
		t.Fatal(err)
	}
	if e.Contains(a) {
		t.Error("asset resident after unload")
	}
}

func TestEngineStreamPlayback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.wav")
	writeWAV(t, path, 1000)

	e := newTestEngine(t, testConfig())
	sid, err := e.OpenStream(path)
	if err != nil {
		t.Fatal(err)
	}
	vid, err := e.PlayStream(sid, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 64*2)
	e.renderBlock(dst)
	for i := 0; i < 64; i++ {
		want := wavSample(i)
		if math.Abs(float64(dst[2*i]-want)) > 1e-4 {
			t.Fatalf("frame %d: got %g, want %g", i, dst[2*i], want)
		}
	}

	// Render to completion; the session closes and the voice finishes.
	deadline := time.Now().Add(2 * time.Second)
	for e.VoiceAlive(vid) {
		if time.Now().After(deadline) {
			t.Fatal("stream voice never finished")
		}
		e.renderBlock(dst)
	}

	e.streams.Sweep()
	if got := e.RuntimeCounters().ActiveStreams; got != 0 {
		t.Errorf("active streams = %d after sweep, want 0", got)
	}
}

func TestEngineStreamLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.wav")
	writeWAV(t, path, 100000)

	cfg := testConfig()
	cfg.MaxConcurrentStreams = 1
	e := newTestEngine(t, cfg)

	if _, err := e.OpenStream(path); err != nil {
		t.Fatal(err)
	}
	_, err := e.OpenStream(path)
	if !errors.Is(err, ErrStreamLimitExceeded) {
		t.Fatalf("err = %v, want ErrStreamLimitExceeded", err)
	}
}

func TestEngineCloseStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.wav")
	writeWAV(t, path, 100000)

	e := newTestEngine(t, testConfig())
	sid, err := e.OpenStream(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.CloseStream(sid); err != nil {
		t.Fatal(err)
	}
	if err := e.CloseStream(StreamID(999)); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("err = %v, want ErrStreamNotFound", err)
	}
}

func TestEngineVoiceLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 64)

	cfg := testConfig()
	cfg.MaxVoices = 2
	e := newTestEngine(t, cfg)
	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := e.Play(path, PlayOptions{Loop: true}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Play(path, PlayOptions{}); !errors.Is(err, ErrVoiceLimitExceeded) {
		t.Fatalf("err = %v, want ErrVoiceLimitExceeded", err)
	}
}

func TestEngineMailboxOverflowDropsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 64)

	e := newTestEngine(t, testConfig())
	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}
	vid, err := e.Play(path, PlayOptions{Loop: true})
	if err != nil {
		t.Fatal(err)
	}

	// Saturate the mailbox; no render loop is draining it.
	for len(e.cmds) < mailboxDepth {
		e.cmds <- command{op: cmdBusGain, bus: 0, f: 1}
	}

	if err := e.StopVoice(vid); !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("stop err = %v, want ErrMailboxFull", err)
	}
	if !IsRecoverable(ErrMailboxFull) {
		t.Error("a full mailbox should be recoverable")
	}
	if _, err := e.Play(path, PlayOptions{}); !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("play err = %v, want ErrMailboxFull", err)
	}
	if got := e.RuntimeCounters().DroppedCommands; got != 2 {
		t.Errorf("dropped commands = %d, want 2", got)
	}

	// The cancelled play's slot comes back after a sweep.
	e.reclaimVoices()
	if got := e.RuntimeCounters().ActiveVoices; got != 1 {
		t.Errorf("active voices = %d, want 1 (only the looped voice)", got)
	}

	// Once the render loop drains the backlog the same calls go through.
	dst := make([]float32, 64*2)
	e.renderBlock(dst)
	if err := e.StopVoice(vid); err != nil {
		t.Fatalf("stop after drain: %v", err)
	}
}

func TestEngineStartStopHeadless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 64)

	e := newTestEngine(t, testConfig())
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateRunning {
		t.Fatalf("state = %v, want running", got)
	}
	if err := e.Start(); !errors.Is(err, ErrEngineRunning) {
		t.Errorf("second start err = %v, want ErrEngineRunning", err)
	}

	if err := e.Load(path); err != nil {
		t.Fatal(err)
	}
	vid, err := e.Play(path, PlayOptions{})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.VoiceAlive(vid) {
		if time.Now().After(deadline) {
			t.Fatal("voice never finished under the headless sink")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateClosed {
		t.Errorf("state = %v after stop, want closed", got)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
}

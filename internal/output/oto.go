package output

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoSink plays rendered blocks through the system audio device via
// oto. The device pulls 32-bit float little-endian stereo frames; each
// pull renders exactly as many blocks as the read needs.
type OtoSink struct {
	cfg     Config
	context *oto.Context

	mu     sync.Mutex
	player *oto.Player
}

// NewOtoSink opens the audio device. The oto context is created once
// and reused for the lifetime of the process.
func NewOtoSink(cfg Config) (*OtoSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   time.Duration(cfg.Frames) * time.Second / time.Duration(cfg.SampleRate),
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	return &OtoSink{cfg: cfg, context: ctx}, nil
}

// Start attaches the render callback to the device and begins playback.
func (s *OtoSink) Start(render RenderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		return errors.New("sink already started")
	}

	r := &blockReader{
		render: render,
		block:  make([]float32, s.cfg.Frames*2),
		buf:    make([]byte, s.cfg.Frames*2*4),
	}
	r.off = len(r.buf)

	s.player = s.context.NewPlayer(r)
	s.player.Play()
	return nil
}

// Stop closes the device player. The context stays open; Start can be
// called again.
func (s *OtoSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.player = nil
	return err
}

// blockReader adapts the render callback to the io.Reader oto pulls
// from. Reads happen on oto's playback goroutine, which we pin to its
// OS thread so the scheduler never migrates the render path mid-block.
type blockReader struct {
	render RenderFunc
	block  []float32
	buf    []byte
	off    int
	pinned bool
}

func (r *blockReader) Read(p []byte) (int, error) {
	if !r.pinned {
		runtime.LockOSThread()
		r.pinned = true
	}

	n := 0
	for n < len(p) {
		if r.off == len(r.buf) {
			r.render(r.block)
			for i, v := range r.block {
				binary.LittleEndian.PutUint32(r.buf[4*i:], math.Float32bits(v))
			}
			r.off = 0
		}
		c := copy(p[n:], r.buf[r.off:])
		n += c
		r.off += c
	}
	return n, nil
}

package output

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// RenderFunc fills dst with one interleaved stereo block. It is invoked
// from the sink's playback goroutine and must not block.
type RenderFunc func(dst []float32)

// Sink drives the render callback at the device rate.
type Sink interface {
	// Start begins pulling blocks from render. It may be called once.
	Start(render RenderFunc) error
	// Stop halts playback and releases the device.
	Stop() error
}

// Config describes the stream a sink carries.
type Config struct {
	SampleRate int // 44100 or 48000 Hz
	Frames     int // frames per block
}

func (c Config) validate() error {
	if c.SampleRate != 44100 && c.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", c.SampleRate)
	}
	if c.Frames <= 0 {
		return errors.New("block size must be positive")
	}
	return nil
}

// HeadlessSink paces the render callback off a wall-clock ticker and
// discards the output. Used when no audio device is available and in
// tests.
type HeadlessSink struct {
	cfg Config

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

// NewHeadlessSink creates a sink that renders into the void.
func NewHeadlessSink(cfg Config) (*HeadlessSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &HeadlessSink{cfg: cfg}, nil
}

// Start launches the ticker goroutine.
func (s *HeadlessSink) Start(render RenderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("sink already started")
	}
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	interval := time.Duration(s.cfg.Frames) * time.Second / time.Duration(s.cfg.SampleRate)
	block := make([]float32, s.cfg.Frames*2)

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				render(block)
			}
		}
	}()
	return nil
}

// Stop halts the ticker goroutine and waits for it to exit.
func (s *HeadlessSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return nil
	}
	close(s.done)
	<-s.stopped
	s.done = nil
	return nil
}

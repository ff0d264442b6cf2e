package output

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	bad := []Config{
		{SampleRate: 22050, Frames: 512},
		{SampleRate: 48000, Frames: 0},
		{SampleRate: 48000, Frames: -1},
	}
	for _, cfg := range bad {
		if _, err := NewHeadlessSink(cfg); err == nil {
			t.Errorf("config %+v should be rejected", cfg)
		}
	}
	if _, err := NewHeadlessSink(Config{SampleRate: 44100, Frames: 256}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestHeadlessSinkDrivesRenderCallback(t *testing.T) {
	s, err := NewHeadlessSink(Config{SampleRate: 48000, Frames: 64})
	if err != nil {
		t.Fatal(err)
	}

	var blocks atomic.Int64
	var badLen atomic.Int64
	err = s.Start(func(dst []float32) {
		if len(dst) != 64*2 {
			badLen.Add(1)
		}
		blocks.Add(1)
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for blocks.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("render callback never ran")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if badLen.Load() != 0 {
		t.Error("render callback received a wrongly sized block")
	}

	after := blocks.Load()
	time.Sleep(20 * time.Millisecond)
	if blocks.Load() != after {
		t.Error("render callback still running after Stop")
	}
}

func TestHeadlessSinkStartTwice(t *testing.T) {
	s, _ := NewHeadlessSink(Config{SampleRate: 48000, Frames: 64})
	noop := func([]float32) {}
	if err := s.Start(noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(noop); err == nil {
		t.Error("second start should fail")
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("stop on a stopped sink should be a no-op, got %v", err)
	}
}

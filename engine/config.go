package engine

import (
	"fmt"
	"strings"
)

// Config contains all engine configuration options.
type Config struct {
	// Cache settings
	MemoryBudgetBytes int64 `yaml:"memory_budget_bytes" env:"SOUNDCORE_MEMORY_BUDGET_BYTES" envDefault:"536870912"`
	LoadWorkers       int   `yaml:"load_workers" env:"SOUNDCORE_LOAD_WORKERS" envDefault:"4"`
	WatchFiles        bool  `yaml:"watch_files" env:"SOUNDCORE_WATCH_FILES" envDefault:"false"`

	// Stream settings
	MaxConcurrentStreams int `yaml:"max_concurrent_streams" env:"SOUNDCORE_MAX_CONCURRENT_STREAMS" envDefault:"8"`
	RingBufferFrames     int `yaml:"ring_buffer_frames" env:"SOUNDCORE_RING_BUFFER_FRAMES" envDefault:"16384"`

	// Render settings
	SampleRate int    `yaml:"sample_rate" env:"SOUNDCORE_SAMPLE_RATE" envDefault:"48000"`
	BlockSize  int    `yaml:"block_size" env:"SOUNDCORE_BLOCK_SIZE" envDefault:"512"`
	MaxVoices  int    `yaml:"max_voices" env:"SOUNDCORE_MAX_VOICES" envDefault:"64"`
	PanLaw     string `yaml:"pan_law" env:"SOUNDCORE_PAN_LAW" envDefault:"balance"`

	// Output settings
	Headless bool `yaml:"headless" env:"SOUNDCORE_HEADLESS" envDefault:"false"`

	// Bus topology; empty means a single default bus
	Buses []BusConfig `yaml:"buses"`
}

// BusConfig describes one mix bus and its sends.
type BusConfig struct {
	Name  string       `yaml:"name"`
	Gain  float64      `yaml:"gain"`
	Sends []SendConfig `yaml:"sends"`
}

// SendConfig routes a bus's post-fader signal into another bus.
type SendConfig struct {
	Target string  `yaml:"target"`
	Level  float64 `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MemoryBudgetBytes: 512 << 20,
		LoadWorkers:       4,
		WatchFiles:        false,

		MaxConcurrentStreams: 8,
		RingBufferFrames:     16384,

		SampleRate: 48000,
		BlockSize:  512,
		MaxVoices:  64,
		PanLaw:     "balance",

		Headless: false,

		Buses: []BusConfig{
			{Name: "default", Gain: 1.0},
		},
	}
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.MemoryBudgetBytes <= 0 {
		return fmt.Errorf("memory budget must be positive, got %d", c.MemoryBudgetBytes)
	}
	if c.LoadWorkers <= 0 {
		return fmt.Errorf("load workers must be positive, got %d", c.LoadWorkers)
	}
	if c.MaxConcurrentStreams <= 0 {
		return fmt.Errorf("max concurrent streams must be positive, got %d", c.MaxConcurrentStreams)
	}
	if c.RingBufferFrames <= 0 || c.RingBufferFrames&(c.RingBufferFrames-1) != 0 {
		return fmt.Errorf("ring buffer frames must be a power of two, got %d", c.RingBufferFrames)
	}
	if c.SampleRate != 44100 && c.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	if c.BlockSize > c.RingBufferFrames {
		return fmt.Errorf("block size %d exceeds ring buffer frames %d", c.BlockSize, c.RingBufferFrames)
	}
	if c.MaxVoices <= 0 {
		return fmt.Errorf("max voices must be positive, got %d", c.MaxVoices)
	}
	if _, err := parsePanLaw(c.PanLaw); err != nil {
		return err
	}
	return c.validateBuses()
}

func (c *Config) validateBuses() error {
	if len(c.Buses) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(c.Buses))
	for _, b := range c.Buses {
		if b.Name == "" {
			return fmt.Errorf("bus name must not be empty")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bus name %q", b.Name)
		}
		seen[b.Name] = true
		if b.Gain < 0 {
			return fmt.Errorf("bus %q: gain must not be negative, got %g", b.Name, b.Gain)
		}
	}
	for _, b := range c.Buses {
		for _, s := range b.Sends {
			if s.Target == b.Name {
				return fmt.Errorf("bus %q: send targets itself", b.Name)
			}
			if !seen[s.Target] {
				return fmt.Errorf("bus %q: send targets unknown bus %q", b.Name, s.Target)
			}
			if s.Level < 0 {
				return fmt.Errorf("bus %q: send level must not be negative, got %g", b.Name, s.Level)
			}
		}
	}
	return nil
}

func parsePanLaw(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "balance":
		return 0, nil
	case "constantpower", "constant-power", "constant_power":
		return 1, nil
	case "linear":
		return 2, nil
	default:
		return 0, fmt.Errorf("unknown pan law %q (valid: balance, constantpower, linear)", s)
	}
}

package engine

import (
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.MemoryBudgetBytes != 512<<20 {
		t.Errorf("default budget = %d, want 512 MiB", cfg.MemoryBudgetBytes)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero budget", func(c *Config) { c.MemoryBudgetBytes = 0 }, "memory budget"},
		{"negative budget", func(c *Config) { c.MemoryBudgetBytes = -1 }, "memory budget"},
		{"zero workers", func(c *Config) { c.LoadWorkers = 0 }, "load workers"},
		{"zero streams", func(c *Config) { c.MaxConcurrentStreams = 0 }, "concurrent streams"},
		{"ring not power of two", func(c *Config) { c.RingBufferFrames = 1000 }, "power of two"},
		{"odd sample rate", func(c *Config) { c.SampleRate = 22050 }, "sample rate"},
		{"zero block", func(c *Config) { c.BlockSize = 0 }, "block size"},
		{"block exceeds ring", func(c *Config) { c.BlockSize = 1 << 20 }, "exceeds ring"},
		{"zero voices", func(c *Config) { c.MaxVoices = 0 }, "max voices"},
		{"bad pan law", func(c *Config) { c.PanLaw = "sideways" }, "pan law"},
		{"empty bus name", func(c *Config) { c.Buses = []BusConfig{{Name: ""}} }, "bus name"},
		{"duplicate bus", func(c *Config) {
			c.Buses = []BusConfig{{Name: "a"}, {Name: "a"}}
		}, "duplicate"},
		{"negative bus gain", func(c *Config) {
			c.Buses = []BusConfig{{Name: "a", Gain: -1}}
		}, "gain"},
		{"self send", func(c *Config) {
			c.Buses = []BusConfig{{Name: "a", Sends: []SendConfig{{Target: "a", Level: 1}}}}
		}, "itself"},
		{"unknown send target", func(c *Config) {
			c.Buses = []BusConfig{{Name: "a", Sends: []SendConfig{{Target: "x", Level: 1}}}}
		}, "unknown bus"},
		{"negative send level", func(c *Config) {
			c.Buses = []BusConfig{
				{Name: "a", Sends: []SendConfig{{Target: "b", Level: -0.5}}},
				{Name: "b"},
			}
		}, "send level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %q, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestConfigForwardSendsAreAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buses = []BusConfig{
		{Name: "sfx", Sends: []SendConfig{{Target: "reverb", Level: 0.3}}},
		{Name: "reverb"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("forward send rejected: %v", err)
	}
}

func TestParsePanLaw(t *testing.T) {
	cases := map[string]int{
		"":               0,
		"balance":        0,
		"Balance":        0,
		"constantpower":  1,
		"constant-power": 1,
		"constant_power": 1,
		"linear":         2,
		" linear ":       2,
	}
	for in, want := range cases {
		got, err := parsePanLaw(in)
		if err != nil {
			t.Errorf("parsePanLaw(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parsePanLaw(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := parsePanLaw("nope"); err == nil {
		t.Error("unknown pan law should fail")
	}
}

func TestEmptyBusListIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buses = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty bus list should validate (engine substitutes the default): %v", err)
	}
}

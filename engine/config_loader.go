package engine

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// LoadConfigFromViper loads engine configuration from Viper, layering
// config-file values over the defaults and environment variables over
// both.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	// Cache settings
	if viper.IsSet("engine.memory_budget_bytes") {
		cfg.MemoryBudgetBytes = viper.GetInt64("engine.memory_budget_bytes")
	}
	if viper.IsSet("engine.load_workers") {
		cfg.LoadWorkers = viper.GetInt("engine.load_workers")
	}
	if viper.IsSet("engine.watch_files") {
		cfg.WatchFiles = viper.GetBool("engine.watch_files")
	}

	// Stream settings
	if viper.IsSet("engine.max_concurrent_streams") {
		cfg.MaxConcurrentStreams = viper.GetInt("engine.max_concurrent_streams")
	}
	if viper.IsSet("engine.ring_buffer_frames") {
		cfg.RingBufferFrames = viper.GetInt("engine.ring_buffer_frames")
	}

	// Render settings
	if viper.IsSet("engine.sample_rate") {
		cfg.SampleRate = viper.GetInt("engine.sample_rate")
	}
	if viper.IsSet("engine.block_size") {
		cfg.BlockSize = viper.GetInt("engine.block_size")
	}
	if viper.IsSet("engine.max_voices") {
		cfg.MaxVoices = viper.GetInt("engine.max_voices")
	}
	if viper.IsSet("engine.pan_law") {
		cfg.PanLaw = viper.GetString("engine.pan_law")
	}

	// Output settings
	if viper.IsSet("engine.headless") {
		cfg.Headless = viper.GetBool("engine.headless")
	}

	// Bus topology
	if viper.IsSet("engine.buses") {
		var buses []BusConfig
		if err := viper.UnmarshalKey("engine.buses", &buses); err != nil {
			return cfg, fmt.Errorf("invalid bus configuration: %w", err)
		}
		cfg.Buses = buses
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid engine configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromEnv builds a configuration from environment variables
// alone, for deployments without a config file.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.Buses = DefaultConfig().Buses
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid engine configuration: %w", err)
	}
	return cfg, nil
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# render without an audio device
headless: false
# enable debug logging
debug: false

engine:
  # hard budget for decoded audio held in memory, in bytes (512 MiB)
  memory_budget_bytes: 536870912
  # concurrent decode workers for cache loads
  load_workers: 4
  # invalidate cached assets when their files change on disk
  watch_files: false

  # maximum concurrent disk streams
  max_concurrent_streams: 8
  # per-stream ring buffer size in frames; must be a power of two
  ring_buffer_frames: 16384

  # output sample rate: 44100 or 48000
  sample_rate: 48000
  # frames rendered per block
  block_size: 512
  # maximum simultaneous voices
  max_voices: 64
  # pan law: balance, constantpower, or linear
  pan_law: "balance"

  # mix bus topology; the first bus is the default target
  buses:
    - name: "default"
      gain: 1.0
    # - name: "music"
    #   gain: 0.8
    # - name: "reverb"
    #   gain: 1.0
    # - name: "sfx"
    #   gain: 1.0
    #   sends:
    #     - target: "reverb"
    #       level: 0.3
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the soundcore config file",
	Long:    paragraph(fmt.Sprintf("\n%s the soundcore config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("soundcore config\nsoundcore config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Soundcore", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

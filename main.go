// Package main provides the entry point for the soundcore CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	homedir "github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/soundcore/engine"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	busName    string
	gain       float64
	pan        float64
	loop       bool
	streamed   bool
	headless   bool
	watchFiles bool
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "soundcore [FILES...]",
		Short: "Play and mix audio files from the CLI",
		Long: paragraph(
			fmt.Sprintf("\nPlay and mix audio files with a %s render engine.", keyword("real-time")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// expandPath resolves a leading ~ in user-supplied paths.
func expandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

func validateOptions(cmd *cobra.Command) error {
	headless = viper.GetBool("headless")
	debug = viper.GetBool("debug")
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	if gain < 0 {
		return fmt.Errorf("gain must not be negative, got %g", gain)
	}
	if pan < -1 || pan > 1 {
		return fmt.Errorf("pan must be between -1 and 1, got %g", pan)
	}

	// No terminal on stdout usually means no audio device either; fall
	// back to headless rendering unless explicitly overridden.
	if !term.IsTerminal(int(os.Stdout.Fd())) && !cmd.Flags().Changed("headless") {
		headless = true
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	return playFiles(args)
}

func buildEngine() (*engine.Engine, error) {
	cfg, err := engine.LoadConfigFromViper()
	if err != nil {
		return nil, err
	}
	cfg.Headless = headless
	if watchFiles {
		cfg.WatchFiles = true
	}
	return engine.New(cfg, log.Default())
}

func playFiles(paths []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		return err
	}
	defer func() { _ = eng.Stop() }()

	opts := engine.PlayOptions{
		Bus:  busName,
		Gain: float32(gain),
		Pan:  float32(pan),
		Loop: loop,
	}

	voices := make([]engine.VoiceID, 0, len(paths))
	streams := make([]engine.StreamID, 0, len(paths))
	for _, p := range paths {
		p = expandPath(p)
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("unable to open file: %w", err)
		}

		if streamed {
			sid, err := eng.OpenStream(p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			vid, err := eng.PlayStream(sid, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			streams = append(streams, sid)
			voices = append(voices, vid)
			continue
		}

		if err := eng.Load(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		vid, err := eng.Play(p, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		voices = append(voices, vid)
	}

	log.Debug("playback started", "files", len(paths), "streamed", streamed)
	waitForVoices(eng, voices)

	for _, sid := range streams {
		if err := eng.CloseStream(sid); err != nil && !errors.Is(err, engine.ErrStreamNotFound) {
			log.Warn("failed to close stream", "error", err)
		}
	}
	return nil
}

// waitForVoices blocks until every voice has finished. Looping voices
// never finish; playback then runs until interrupted.
func waitForVoices(eng *engine.Engine, voices []engine.VoiceID) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	tick := 0
	for range ticker.C {
		alive := false
		for _, v := range voices {
			if eng.VoiceAlive(v) {
				alive = true
				break
			}
		}
		if !alive {
			return
		}
		if tick++; tick%10 == 0 {
			lv := eng.MasterLevels()
			log.Debug("master levels",
				"peak_l", fmt.Sprintf("%.3f", lv.PeakL),
				"peak_r", fmt.Sprintf("%.3f", lv.PeakR),
				"rms_l", fmt.Sprintf("%.3f", lv.RMSL),
				"rms_r", fmt.Sprintf("%.3f", lv.RMSR))
		}
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats [FILES...]",
	Short: "Load files into the cache and report cache statistics",
	Args:  cobra.ArbitraryArgs,
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := engine.LoadConfigFromViper()
		if err != nil {
			return err
		}
		cfg.Headless = true
		eng, err := engine.New(cfg, log.Default())
		if err != nil {
			return err
		}
		defer func() { _ = eng.Stop() }()

		for _, p := range args {
			p = expandPath(p)
			if err := eng.Load(p); err != nil {
				fmt.Printf("%s %s: %v\n", errBadge(), p, err)
			}
		}

		printStats(eng)
		return nil
	},
}

func printStats(eng *engine.Engine) {
	s := eng.Stats()
	fmt.Println(subtle("cache"))
	fmt.Printf("  used      %s of %s\n", humanize.IBytes(uint64(s.BytesUsed)), humanize.IBytes(uint64(s.Budget)))
	fmt.Printf("  entries   %d\n", s.Entries)
	fmt.Printf("  hits      %d\n", s.Hits)
	fmt.Printf("  misses    %d\n", s.Misses)
	fmt.Printf("  evictions %d\n", s.Evictions)

	files := eng.CachedFiles()
	if len(files) == 0 {
		return
	}
	fmt.Println(subtle("resident files (most recent first)"))
	for _, f := range files {
		marker := " "
		if f.Pinned {
			marker = keyword("*")
		}
		fmt.Printf("  %s %-10s %s\n", marker, humanize.IBytes(uint64(f.Bytes)), f.Key)
	}
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)

	if debug || os.Getenv("SOUNDCORE_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	if path := os.Getenv("SOUNDCORE_LOGFILE"); path != "" {
		f, err := os.OpenFile(expandPath(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		log.SetOutput(f)
		log.SetLevel(log.DebugLevel)
		return f.Close, nil
	}
	return func() error { return nil }, nil
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&busName, "bus", "b", "", "target mix bus")
	rootCmd.Flags().Float64VarP(&gain, "gain", "g", 1.0, "linear gain")
	rootCmd.Flags().Float64VarP(&pan, "pan", "p", 0, "stereo pan, -1 (left) to 1 (right)")
	rootCmd.Flags().BoolVarP(&loop, "loop", "l", false, "loop playback")
	rootCmd.Flags().BoolVarP(&streamed, "stream", "s", false, "stream from disk instead of preloading")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "render without an audio device")
	rootCmd.Flags().BoolVarP(&watchFiles, "watch", "w", false, "invalidate cached assets when files change on disk")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	_ = viper.BindPFlag("headless", rootCmd.Flags().Lookup("headless"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	viper.SetDefault("headless", false)
	viper.SetDefault("debug", false)

	rootCmd.AddCommand(configCmd, statsCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "soundcore")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "soundcore")}, dirs...)
	}

	if c := os.Getenv("SOUNDCORE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("soundcore")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("soundcore")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "soundcore.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}

// Style helpers for CLI output.
var (
	keyword = makeGradientText(lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")))
	subtle  = makeGradientText(lipgloss.NewStyle().Foreground(lipgloss.Color("241")))

	paragraphStyle = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2)
)

func makeGradientText(style lipgloss.Style) func(string) string {
	return func(s string) string {
		return style.Render(s)
	}
}

func paragraph(s string) string {
	return paragraphStyle.Render(s)
}

func errBadge() string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("203")).
		Padding(0, 1).
		Render("ERROR")
}

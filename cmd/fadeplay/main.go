package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-audio/audio"
	"github.com/ik5/audpbx"
	pbxwav "github.com/ik5/audpbx/formats/wav"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Roman77St/fadeplay"
	"github.com/Roman77St/fadeplay/internal/config"
	"github.com/Roman77St/fadeplay/internal/logging"
)

var (
	logger zerolog.Logger
	cfg    *config.Config

	configPath string
	outputPath string
)

var rootCmd = &cobra.Command{
	Use:          "fadeplay",
	Short:        "Audio player with sample-accurate fades",
	Long:         "fadeplay plays audio files with scheduled fade-in/fade-out envelopes, looping and variable rate.",
	SilenceUsage: true,
}

var playCmd = &cobra.Command{
	Use:   "play FILE",
	Short: "Play a file (or URL) until it ends",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

var renderCmd = &cobra.Command{
	Use:   "render FILE",
	Short: "Render the faded selection offline to a mono 16-bit WAV",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var shellCmd = &cobra.Command{
	Use:   "shell FILE",
	Short: "Interactive transport shell",
	Args:  cobra.ExactArgs(1),
	RunE:  runShell,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML preset")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")

	for _, cmd := range []*cobra.Command{playCmd, renderCmd, shellCmd} {
		f := cmd.Flags()
		f.Float64("volume", 1, "maximum gain (0..1]")
		f.Float64("fade-in", 0, "fade-in duration, seconds")
		f.Float64("fade-out", 0, "fade-out duration, seconds")
		f.String("in-ramp", "linear", "fade-in curve: linear|exponential|logarithmic|equal-power")
		f.String("out-ramp", "linear", "fade-out curve")
		f.Float64("rate", 1, "playback rate")
		f.Float64("start", 0, "selection start, seconds")
		f.Float64("end", 0, "selection end, seconds (0 = end of file)")
		f.Bool("buffered", false, "decode the whole file into memory")
		f.Int64("frame-offset", 512, "samples between anchor and ramp start")
	}
	for _, cmd := range []*cobra.Command{playCmd, shellCmd} {
		f := cmd.Flags()
		f.Bool("loop", false, "loop playback")
		f.Float64("loop-start", 0, "loop start, seconds")
		f.Float64("loop-end", 0, "loop end, seconds (0 = end of file)")
	}
	renderCmd.Flags().StringVarP(&outputPath, "output", "o", "out.wav", "output WAV path")
	renderCmd.Flags().Int("sample-rate", 44100, "output sample rate")

	rootCmd.AddCommand(playCmd, renderCmd, shellCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig собирает настройки: пресет, окружение, затем явно заданные флаги.
func loadConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger = logging.Setup(cfg.Environment, cfg.Verbose)
	return nil
}

func applyFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}
	set("verbose", func() (e error) { c.Verbose, e = f.GetBool("verbose"); return })
	set("volume", func() (e error) { c.Volume, e = f.GetFloat64("volume"); return })
	set("fade-in", func() (e error) { c.FadeIn, e = f.GetFloat64("fade-in"); return })
	set("fade-out", func() (e error) { c.FadeOut, e = f.GetFloat64("fade-out"); return })
	set("in-ramp", func() (e error) { c.InRamp, e = f.GetString("in-ramp"); return })
	set("out-ramp", func() (e error) { c.OutRamp, e = f.GetString("out-ramp"); return })
	set("rate", func() (e error) { c.Rate, e = f.GetFloat64("rate"); return })
	set("start", func() (e error) { c.Start, e = f.GetFloat64("start"); return })
	set("end", func() (e error) { c.End, e = f.GetFloat64("end"); return })
	set("buffered", func() (e error) { c.Buffered, e = f.GetBool("buffered"); return })
	set("frame-offset", func() (e error) { c.FrameOffset, e = f.GetInt64("frame-offset"); return })
	set("loop", func() (e error) { c.Loop, e = f.GetBool("loop"); return })
	set("loop-start", func() (e error) { c.LoopStart, e = f.GetFloat64("loop-start"); return })
	set("loop-end", func() (e error) { c.LoopEnd, e = f.GetFloat64("loop-end"); return })
	set("sample-rate", func() (e error) { c.SampleRate, e = f.GetInt("sample-rate"); return })
	return err
}

// buildOptions переводит настройки CLI в параметры плеера.
func buildOptions(c *config.Config) (fadeplay.Options, error) {
	inRamp, ok := fadeplay.ParseRampType(c.InRamp)
	if !ok {
		return fadeplay.Options{}, fmt.Errorf("unknown ramp type %q", c.InRamp)
	}
	outRamp, ok := fadeplay.ParseRampType(c.OutRamp)
	if !ok {
		return fadeplay.Options{}, fmt.Errorf("unknown ramp type %q", c.OutRamp)
	}

	opts := fadeplay.Options{
		Fade: fadeplay.Fade{
			MaximumGain: c.Volume,
			InTime:      c.FadeIn,
			InRampType:  inRamp,
			OutTime:     c.FadeOut,
			OutRampType: outRamp,
		},
		StartTime:   c.Start,
		EndTime:     c.End,
		Looping:     c.Loop,
		Loop:        fadeplay.LoopRegion{Start: c.LoopStart, End: c.LoopEnd},
		Rate:        c.Rate,
		FrameOffset: c.FrameOffset,
	}
	if c.Buffered {
		opts.Buffering = fadeplay.BufferingAlways
	}
	return opts, nil
}

// source — открытый файл или декодированный буфер.
type source struct {
	file fadeplay.File
	buf  *audio.Float32Buffer
}

// openSource открывает файл или целиком декодирует его в зависимости от режима.
func openSource(path string, buffered bool) (source, error) {
	if buffered {
		buf, err := fadeplay.LoadBuffer(path)
		return source{buf: buf}, err
	}
	file, err := fadeplay.OpenFile(path)
	return source{file: file}, err
}

func (s source) sampleRate() int {
	if s.buf != nil {
		return s.buf.Format.SampleRate
	}
	return s.file.Format().SampleRate
}

func (s source) attach(p *fadeplay.Player) error {
	if s.buf != nil {
		return p.LoadBuffer(s.buf)
	}
	return p.Load(s.file)
}

func (s source) close() {
	if s.file != nil {
		s.file.Close()
	}
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	path := args[0]

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}

	finished := make(chan struct{})
	var finishOnce sync.Once
	opts.OnCompletion = func() { finishOnce.Do(func() { close(finished) }) }
	opts.OnLoopCompletion = func() { logger.Info().Msg("loop restarted") }

	src, err := openSource(path, cfg.Buffered)
	if err != nil {
		return err
	}
	eng, err := fadeplay.NewOtoEngine(src.sampleRate(), logger)
	if err != nil {
		src.close()
		return fmt.Errorf("open audio device: %w", err)
	}
	p := fadeplay.New(eng, opts, logger)
	defer p.Close()

	if err := src.attach(p); err != nil {
		return err
	}
	if err := p.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	logger.Info().
		Str("file", path).
		Float64("duration", p.Duration()).
		Float64("rate", cfg.Rate).
		Msg("playing")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-finished:
		logger.Info().Msg("finished")
	case <-quit:
		logger.Info().Msg("interrupted")
	}
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	path := args[0]

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	opts.Looping = false
	opts.RenderingMode = fadeplay.RenderingOffline

	src, err := openSource(path, cfg.Buffered)
	if err != nil {
		return err
	}
	r := fadeplay.NewRenderer(audio.Format{NumChannels: 2, SampleRate: cfg.SampleRate}, logger)
	p := fadeplay.New(r, opts, logger)
	defer p.Close()

	if err := src.attach(p); err != nil {
		return err
	}
	if err := p.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	samples, rate, err := audpbx.ResampleToMono16(r, cfg.SampleRate, r.BufSize())
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("render: %w", err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := pbxwav.WriteWAV16(out, rate, samples); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	logger.Info().
		Str("output", outputPath).
		Int("samples", len(samples)).
		Int("sample_rate", rate).
		Msg("rendered")
	return nil
}

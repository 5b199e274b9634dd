package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/Roman77St/fadeplay"
)

const shellHelp = `commands:
  play [from] [to]   play selection or range (seconds)
  pause | resume | stop
  seek S             move playhead to S seconds
  rate R             playback rate
  fade in|out S      fade duration in seconds
  loop on|off        toggle looping
  loop S E           set loop region
  volume V           maximum gain (0..1]
  status             print transport state
  quit`

func runShell(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	path := args[0]

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	opts.OnCompletion = func() { fmt.Println("\n[done]") }
	opts.OnLoopCompletion = func() { fmt.Println("\n[loop]") }

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

	rl, err := readline.NewEx(&readline.Config{
		Prompt: ">> ",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("play"),
			readline.PcItem("pause"),
			readline.PcItem("resume"),
			readline.PcItem("stop"),
			readline.PcItem("seek"),
			readline.PcItem("rate"),
			readline.PcItem("fade", readline.PcItem("in"), readline.PcItem("out")),
			readline.PcItem("loop", readline.PcItem("on"), readline.PcItem("off")),
			readline.PcItem("volume"),
			readline.PcItem("status"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("%s: %.2fs\n", path, p.Duration())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := execShell(p, fields); err != nil {
			fmt.Println(" [!]", err)
		}
	}
}

// execShell выполняет одну команду оболочки.
func execShell(p *fadeplay.Player, fields []string) error {
	nums, err := parseFloats(fields[1:])
	cmd := fields[0]

	switch cmd {
	case "play":
		if err != nil {
			return err
		}
		switch len(nums) {
		case 0:
			return p.Play()
		case 1:
			return p.PlayRange(nums[0], 0)
		default:
			return p.PlayRange(nums[0], nums[1])
		}
	case "pause":
		return p.Pause()
	case "resume":
		return p.Resume()
	case "stop":
		return p.Stop()
	case "seek", "rate", "volume":
		if err != nil || len(nums) != 1 {
			return fmt.Errorf("usage: %s N", cmd)
		}
		switch cmd {
		case "seek":
			return p.Seek(nums[0])
		case "rate":
			return p.SetRate(nums[0])
		default:
			return p.SetVolume(nums[0])
		}
	case "fade":
		if len(fields) != 3 {
			return errors.New("usage: fade in|out S")
		}
		d, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return err
		}
		f := p.Fade()
		switch fields[1] {
		case "in":
			f.InTime = d
		case "out":
			f.OutTime = d
		default:
			return errors.New("usage: fade in|out S")
		}
		return p.SetFade(f)
	case "loop":
		if len(fields) == 2 {
			switch fields[1] {
			case "on":
				return p.SetLooping(true)
			case "off":
				return p.SetLooping(false)
			}
		}
		if len(fields) == 3 {
			region, err := parseFloats(fields[1:])
			if err != nil {
				return err
			}
			return p.SetLoop(fadeplay.LoopRegion{Start: region[0], End: region[1]})
		}
		return errors.New("usage: loop on|off | loop S E")
	case "status":
		printStatus(p)
		return nil
	case "help":
		fmt.Println(shellHelp)
		return nil
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", a)
		}
		out = append(out, v)
	}
	return out, nil
}

func printStatus(p *fadeplay.Player) {
	f := p.Fade()
	loop := p.Loop()
	fmt.Printf(" state:     %s\n", p.State())
	fmt.Printf(" position:  %.2f / %.2f s\n", p.CurrentTime(), p.Duration())
	fmt.Printf(" selection: %.2f..%.2f s\n", p.StartTime(), p.EndTime())
	fmt.Printf(" rate:      %.2f\n", p.Rate())
	fmt.Printf(" fade:      in %.2fs (%s), out %.2fs (%s), gain %.2f\n",
		f.InTime, f.InRampType, f.OutTime, f.OutRampType, f.MaximumGain)
	fmt.Printf(" loop:      %v [%.2f..%.2f]\n", p.Looping(), loop.Start, loop.End)
}

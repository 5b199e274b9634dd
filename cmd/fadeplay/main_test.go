package main

import (
	"testing"

	"github.com/Roman77St/fadeplay"
	"github.com/Roman77St/fadeplay/internal/config"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	c, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return c
}

func TestBuildOptions(t *testing.T) {
	c := defaultConfig(t)
	c.FadeIn = 1.5
	c.OutRamp = "equal-power"
	c.Buffered = true
	c.Loop = true
	c.LoopStart, c.LoopEnd = 2, 4

	opts, err := buildOptions(c)
	if err != nil {
		t.Fatalf("buildOptions() error = %v", err)
	}
	if opts.Fade.InTime != 1.5 || opts.Fade.OutRampType != fadeplay.RampEqualPower {
		t.Errorf("Fade = %+v", opts.Fade)
	}
	if opts.Buffering != fadeplay.BufferingAlways {
		t.Error("buffered config should select BufferingAlways")
	}
	if !opts.Looping || opts.Loop != (fadeplay.LoopRegion{Start: 2, End: 4}) {
		t.Errorf("loop = %v %+v", opts.Looping, opts.Loop)
	}

	c.InRamp = "cubic"
	if _, err := buildOptions(c); err == nil {
		t.Error("unknown ramp type should fail")
	}
}

func TestApplyFlagsOnlyChanged(t *testing.T) {
	c := defaultConfig(t)
	c.Volume = 0.3

	if err := playCmd.Flags().Set("rate", "1.5"); err != nil {
		t.Fatal(err)
	}
	if err := applyFlags(playCmd, c); err != nil {
		t.Fatalf("applyFlags() error = %v", err)
	}

	if c.Rate != 1.5 {
		t.Errorf("Rate = %v, want 1.5", c.Rate)
	}
	// Флаг не задан: значение из пресета остается
	if c.Volume != 0.3 {
		t.Errorf("Volume = %v, want 0.3", c.Volume)
	}
}

func TestParseFloats(t *testing.T) {
	got, err := parseFloats([]string{"1", "2.5"})
	if err != nil || len(got) != 2 || got[1] != 2.5 {
		t.Errorf("parseFloats() = %v, %v", got, err)
	}
	if _, err := parseFloats([]string{"x"}); err == nil {
		t.Error("parseFloats(x) should fail")
	}
}

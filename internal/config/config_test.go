package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Volume != 1 || cfg.Rate != 1 {
		t.Fatalf("unexpected defaults: volume %v rate %v", cfg.Volume, cfg.Rate)
	}
	if cfg.FrameOffset != 512 {
		t.Fatalf("frame offset = %d, want 512", cfg.FrameOffset)
	}
}

func TestLoadPresetThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")
	preset := []byte("fade_in: 2\nfade_out: 3\nout_ramp: exponential\nrate: 1.5\nloop: true\nloop_start: 2\nloop_end: 10\n")
	if err := os.WriteFile(path, preset, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FADEPLAY_FADE_OUT", "4.5")
	t.Setenv("FADEPLAY_LOOP", "no")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.FadeIn != 2 {
		t.Errorf("fade in = %v, want 2 from preset", cfg.FadeIn)
	}
	if cfg.FadeOut != 4.5 {
		t.Errorf("fade out = %v, want 4.5 from env", cfg.FadeOut)
	}
	if cfg.OutRamp != "exponential" || cfg.Rate != 1.5 {
		t.Errorf("unexpected preset values: %+v", cfg)
	}
	if cfg.Loop {
		t.Error("env should turn looping off")
	}
	if cfg.LoopStart != 2 || cfg.LoopEnd != 10 {
		t.Errorf("loop = %v..%v, want 2..10", cfg.LoopStart, cfg.LoopEnd)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero rate", "FADEPLAY_RATE", "0"},
		{"loud volume", "FADEPLAY_VOLUME", "3"},
		{"negative fade", "FADEPLAY_FADE_IN", "-1"},
		{"zero sample rate", "FADEPLAY_SAMPLE_RATE", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadMissingPreset(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing preset")
	}
}

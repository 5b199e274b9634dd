package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config — настройки CLI: пресет из YAML, поверх него переменные окружения.
type Config struct {
	Environment string `yaml:"environment"`
	Verbose     bool   `yaml:"verbose"`

	Volume  float64 `yaml:"volume"`
	FadeIn  float64 `yaml:"fade_in"`
	FadeOut float64 `yaml:"fade_out"`
	InRamp  string  `yaml:"in_ramp"`
	OutRamp string  `yaml:"out_ramp"`

	Rate      float64 `yaml:"rate"`
	Start     float64 `yaml:"start"`
	End       float64 `yaml:"end"`
	Loop      bool    `yaml:"loop"`
	LoopStart float64 `yaml:"loop_start"`
	LoopEnd   float64 `yaml:"loop_end"`
	Buffered  bool    `yaml:"buffered"`

	FrameOffset int64 `yaml:"frame_offset"` // Сэмплов от якоря до начала рампы
	SampleRate  int   `yaml:"sample_rate"`  // Частота оффлайн-рендера
}

func defaults() *Config {
	return &Config{
		Environment: "production",
		Volume:      1,
		InRamp:      "linear",
		OutRamp:     "linear",
		Rate:        1,
		FrameOffset: 512,
		SampleRate:  44100,
	}
}

// Load читает пресет (если path не пустой), накладывает FADEPLAY_* из
// окружения и проверяет результат.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read preset: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse preset %s: %w", path, err)
		}
	}

	cfg.Environment = getEnvAny([]string{"FADEPLAY_ENV", "FADEPLAY_ENVIRONMENT"}, cfg.Environment)
	cfg.Verbose = getEnvBoolAny([]string{"FADEPLAY_VERBOSE", "FADEPLAY_DEBUG"}, cfg.Verbose)
	cfg.Volume = getEnvFloatAny([]string{"FADEPLAY_VOLUME"}, cfg.Volume)
	cfg.FadeIn = getEnvFloatAny([]string{"FADEPLAY_FADE_IN"}, cfg.FadeIn)
	cfg.FadeOut = getEnvFloatAny([]string{"FADEPLAY_FADE_OUT"}, cfg.FadeOut)
	cfg.InRamp = getEnvAny([]string{"FADEPLAY_IN_RAMP"}, cfg.InRamp)
	cfg.OutRamp = getEnvAny([]string{"FADEPLAY_OUT_RAMP"}, cfg.OutRamp)
	cfg.Rate = getEnvFloatAny([]string{"FADEPLAY_RATE"}, cfg.Rate)
	cfg.Loop = getEnvBoolAny([]string{"FADEPLAY_LOOP"}, cfg.Loop)
	cfg.Buffered = getEnvBoolAny([]string{"FADEPLAY_BUFFERED"}, cfg.Buffered)
	cfg.FrameOffset = int64(getEnvIntAny([]string{"FADEPLAY_FRAME_OFFSET"}, int(cfg.FrameOffset)))
	cfg.SampleRate = getEnvIntAny([]string{"FADEPLAY_SAMPLE_RATE"}, cfg.SampleRate)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения после всех наложений.
func (c *Config) Validate() error {
	var errs []error
	if c.Volume <= 0 || c.Volume > 1 {
		errs = append(errs, fmt.Errorf("volume %v out of range (0, 1]", c.Volume))
	}
	if c.FadeIn < 0 || c.FadeOut < 0 {
		errs = append(errs, fmt.Errorf("fade times must not be negative"))
	}
	if c.Rate <= 0 {
		errs = append(errs, fmt.Errorf("rate %v must be positive", c.Rate))
	}
	if c.Start < 0 || c.End < 0 {
		errs = append(errs, fmt.Errorf("selection bounds must not be negative"))
	}
	if c.End != 0 && c.End <= c.Start {
		errs = append(errs, fmt.Errorf("end %v must be after start %v", c.End, c.Start))
	}
	if c.LoopEnd != 0 && c.LoopEnd <= c.LoopStart {
		errs = append(errs, fmt.Errorf("loop end %v must be after loop start %v", c.LoopEnd, c.LoopStart))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	return errors.Join(errs...)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

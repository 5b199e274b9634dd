package fadeplay

import (
	"math"
	"testing"
)

// Тест перевода секунд в кадры и обратно
func TestConversion(t *testing.T) {
	sampleRate := 44100
	seconds := 5.0

	// Ожидаем: 5 * 44100 = 220500 кадров
	frames := secondsToFrames(seconds, sampleRate)
	expectedFrames := int64(220500)

	if frames != expectedFrames {
		t.Errorf("secondsToFrames() = %d; want %d", frames, expectedFrames)
	}

	resSeconds := framesToSeconds(frames, sampleRate)
	if resSeconds != seconds {
		t.Errorf("framesToSeconds() = %f; want %f", resSeconds, seconds)
	}

	if framesToSeconds(100, 0) != 0 {
		t.Error("framesToSeconds() with zero rate should be 0")
	}
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name     string
		input    PlayParams
		expected float64
	}{
		{"Default volume", PlayParams{Volume: 0}, 1.0},
		{"Keep volume", PlayParams{Volume: 0.5}, 0.5},
		{"Cap volume", PlayParams{Volume: 5.0}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validateParams(tt.input)
			if p.Volume != tt.expected {
				t.Errorf("validateParams() volume = %v, want %v", p.Volume, tt.expected)
			}
		})
	}

	p := validateParams(PlayParams{Position: -3, FadeIn: -1, FadeOut: -2, Rate: -1})
	if p.Position != 0 || p.FadeIn != 0 || p.FadeOut != 0 || p.Rate != 1 {
		t.Errorf("validateParams() = %+v", p)
	}
}

func TestValidateOptions(t *testing.T) {
	o := validateOptions(Options{Rate: math.NaN(), StartTime: -1, EndTime: -5})
	if o.Rate != 1 {
		t.Errorf("Rate = %v; want 1", o.Rate)
	}
	if o.FrameOffset != defaultFrameOffset {
		t.Errorf("FrameOffset = %d; want %d", o.FrameOffset, defaultFrameOffset)
	}
	if o.StartTime != 0 || o.EndTime != 0 {
		t.Errorf("selection = %v..%v; want 0..0", o.StartTime, o.EndTime)
	}
	if o.Fade.MaximumGain != 1 {
		t.Errorf("MaximumGain = %v; want 1", o.Fade.MaximumGain)
	}
	if o.UseCompletionHandler {
		t.Error("completion handler enabled without callbacks")
	}

	o = validateOptions(Options{OnLoopCompletion: func() {}, FrameOffset: 128})
	if !o.UseCompletionHandler {
		t.Error("callback should enable completion handler")
	}
	if o.FrameOffset != 128 {
		t.Errorf("FrameOffset = %d; want 128", o.FrameOffset)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Stopped: "Stopped", Playing: "Playing", Paused: "Paused", State(9): "Unknown"} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q; want %q", int(s), s.String(), want)
		}
	}
}

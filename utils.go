package fadeplay

import "math"

// secondsToFrames переводит секунды в кадры при частоте sampleRate.
func secondsToFrames(seconds float64, sampleRate int) int64 {
	return int64(seconds * float64(sampleRate))
}

// framesToSeconds переводит кадры в секунды.
func framesToSeconds(frames int64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(frames) / float64(sampleRate)
}

// validateParams проверяет и корректирует параметры перед запуском.
func validateParams(p PlayParams) PlayParams {
	// Если громкость не указана, ставим 1.0 (100%)
	if p.Volume <= 0 || p.Volume > 1 {
		p.Volume = 1.0
	}

	// Позиция не может быть отрицательной
	if p.Position < 0 {
		p.Position = 0
	}

	if p.FadeIn < 0 {
		p.FadeIn = 0
	}
	if p.FadeOut < 0 {
		p.FadeOut = 0
	}

	if p.Rate <= 0 {
		p.Rate = 1
	}

	return p
}

// validateOptions подставляет значения по умолчанию.
func validateOptions(o Options) Options {
	o.Fade = validateFade(o.Fade)

	if o.Rate <= 0 || math.IsNaN(o.Rate) || math.IsInf(o.Rate, 0) {
		o.Rate = 1
	}
	if o.FrameOffset <= 0 {
		o.FrameOffset = defaultFrameOffset
	}
	if o.StartTime < 0 {
		o.StartTime = 0
	}
	if o.EndTime < 0 {
		o.EndTime = 0
	}

	if o.OnCompletion != nil || o.OnLoopCompletion != nil {
		o.UseCompletionHandler = true
	}
	return o
}

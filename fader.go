package fadeplay

import (
	"math"
)

// MinimumGain — нижняя граница громкости фейдера. Не ноль, чтобы
// экспоненциальные рампы и перевод в dB оставались определены.
const MinimumGain = 0.0002

// SampleTimeImmediate помечает точку автоматизации, которую движок должен
// применить сразу, без привязки ко времени.
const SampleTimeImmediate int64 = math.MinInt64

// defaultFrameOffset — на сколько сэмплов вперед от якоря ставится начало
// рампы (несколько циклов рендера, чтобы попасть после immediate-точек).
const defaultFrameOffset int64 = 512

// RampType — форма кривой перехода громкости.
type RampType int

const (
	RampLinear RampType = iota
	RampExponential
	RampLogarithmic
	RampEqualPower
)

// String возвращает имя формы рампы.
func (r RampType) String() string {
	switch r {
	case RampLinear:
		return "linear"
	case RampExponential:
		return "exponential"
	case RampLogarithmic:
		return "logarithmic"
	case RampEqualPower:
		return "equal-power"
	default:
		return "unknown"
	}
}

// ParseRampType разбирает имя формы рампы (как его печатает String).
func ParseRampType(s string) (RampType, bool) {
	for _, r := range []RampType{RampLinear, RampExponential, RampLogarithmic, RampEqualPower} {
		if r.String() == s {
			return r, true
		}
	}
	return RampLinear, false
}

// Value возвращает громкость в точке x ∈ [0, 1] рампы от from к to.
// Результат всегда лежит между from и to.
func (r RampType) Value(from, to, x float64) float64 {
	if x <= 0 {
		return from
	}
	if x >= 1 {
		return to
	}

	switch r {
	case RampExponential:
		if from > 0 && to > 0 {
			return from * math.Pow(to/from, x)
		}
	case RampLogarithmic:
		return from + (to-from)*math.Log10(1+9*x)
	case RampEqualPower:
		if to >= from {
			return from + (to-from)*math.Sin(x*math.Pi/2)
		}
		return from + (to-from)*(1-math.Cos(x*math.Pi/2))
	}
	return from + (to-from)*x
}

// Fade описывает огибающую плеера: появление и затухание звука.
// Значение неизменяемое: чтобы поменять фейд, передайте новое значение в SetFade.
type Fade struct {
	MaximumGain float64 // До какой громкости поднимается фейд (по умолчанию 1)

	InTime       float64 // Длительность появления в секундах, 0 — без фейда
	InTimeOffset float64 // Сколько секунд появления уже прошло (продолжение с середины)
	InRampType   RampType

	OutTime       float64 // Длительность затухания в секундах, 0 — без фейда
	OutTimeOffset float64 // Позиция внутри затухания при продолжении с середины
	OutRampType   RampType
}

// DefaultFade возвращает фейд без появления и затухания на полной громкости.
func DefaultFade() Fade {
	return Fade{MaximumGain: 1}
}

// IsFaded сообщает, нужна ли автоматизация громкости вообще.
func (f Fade) IsFaded() bool {
	return f.InTime > 0 || f.OutTime > 0
}

// NeedsUpdate сравнивает фейд с ранее применённым снимком. Слой буферизации
// использует это, чтобы понять, нужно ли перестраивать буфер.
func (f Fade) NeedsUpdate(prev Fade) bool {
	return f.InTime != prev.InTime ||
		f.OutTime != prev.OutTime ||
		f.InRampType != prev.InRampType ||
		f.OutRampType != prev.OutRampType
}

// validateFade приводит параметры фейда к допустимым значениям.
func validateFade(f Fade) Fade {
	if f.MaximumGain <= MinimumGain || math.IsNaN(f.MaximumGain) {
		f.MaximumGain = 1
	}
	if f.InTime < 0 || math.IsNaN(f.InTime) {
		f.InTime = 0
	}
	if f.OutTime < 0 || math.IsNaN(f.OutTime) {
		f.OutTime = 0
	}
	if f.InTimeOffset < 0 || math.IsNaN(f.InTimeOffset) {
		f.InTimeOffset = 0
	}
	if f.OutTimeOffset < 0 || math.IsNaN(f.OutTimeOffset) {
		f.OutTimeOffset = 0
	}
	return f
}

// AutomationPoint — одна команда фейдеру движка: дойти до Gain к моменту
// AnchorTime+EventTime, плавно за RampDuration сэмплов.
type AutomationPoint struct {
	Gain         float64
	EventTime    int64 // Смещение от якоря в сэмплах или SampleTimeImmediate
	AnchorTime   int64 // Абсолютное время якоря (часы движка)
	RampDuration int64 // Длина рампы в сэмплах, никогда не меньше нуля
	RampType     RampType
}

// Immediate сообщает, что точку нужно применить сразу.
func (p AutomationPoint) Immediate() bool {
	return p.EventTime == SampleTimeImmediate
}

// Segment — проигрываемый участок медиа.
type Segment struct {
	StartTime float64 // Секунды
	EndTime   float64 // Секунды, 0 — до конца медиа
	Duration  float64 // Полная длина медиа
	Rate      float64 // Скорость воспроизведения, 1 — обычная
}

// automation строит последовательность точек автоматизации для фейда на
// участке seg. Возвращает точки в порядке выдачи движку и число значений,
// которые пришлось прижать к нулю.
func (f Fade) automation(seg Segment, anchor, frameOffset int64, sampleRate float64) ([]AutomationPoint, int) {
	var (
		points  []AutomationPoint
		clamped int
	)

	rate := seg.Rate
	if rate <= 0 {
		rate = 1
	}
	endTime := seg.EndTime
	if endTime == 0 {
		endTime = seg.Duration
	}

	gain := func(v float64) float64 {
		return math.Max(MinimumGain, math.Min(f.MaximumGain, v))
	}
	samples := func(v float64) int64 {
		n := int64(v)
		if n < 0 || math.IsNaN(v) {
			clamped++
			return 0
		}
		return n
	}
	add := func(value float64, at int64, ramp int64, shape RampType) {
		points = append(points, AutomationPoint{
			Gain:         gain(value),
			EventTime:    at,
			AnchorTime:   anchor,
			RampDuration: ramp,
			RampType:     shape,
		})
	}

	inTimeInSamples := frameOffset

	inTime := f.InTime
	if inTime > 0 {
		fadeFrom := MinimumGain

		// Продолжаем с середины появления
		if f.InTimeOffset > 0 && f.InTimeOffset < inTime {
			ratio := f.InTimeOffset / inTime
			fadeFrom = f.MaximumGain * ratio
			inTime -= f.InTimeOffset
		}

		add(fadeFrom, SampleTimeImmediate, 0, f.InRampType)
		add(f.MaximumGain, inTimeInSamples, samples(inTime*sampleRate), f.InRampType)
	}

	outTime := f.OutTime
	if outTime > 0 {
		// Когда должно начаться затухание
		timeTillFadeOut := (seg.Duration - seg.StartTime) - (seg.Duration - endTime) - outTime
		if rate != 1 {
			timeTillFadeOut /= rate
		}
		outTimeInSamples := samples(float64(inTimeInSamples) + timeTillFadeOut*sampleRate)
		var outOffset int64

		if f.OutTimeOffset > 0 && f.OutTimeOffset > seg.Duration-outTime {
			// Уже внутри затухания: гасим остаток участка прямо сейчас
			newOutTime := seg.Duration - seg.StartTime
			if endTime < seg.Duration {
				newOutTime -= seg.Duration - endTime
			}

			outTimeInSamples = 0
			add(f.MaximumGain*(newOutTime/outTime), outTimeInSamples, 0, f.OutRampType)

			outTime = newOutTime
			outOffset = frameOffset
		} else if inTime == 0 {
			// Сбрасываем громкость, оставшуюся от прошлого затухания
			add(f.MaximumGain, SampleTimeImmediate, 0, f.InRampType)
		}

		add(MinimumGain, outTimeInSamples+outOffset, samples(outTime/rate*sampleRate), f.OutRampType)
	}

	return points, clamped
}

// scheduleFader отменяет текущую автоматизацию и передает движку новую
// огибающую для участка, который начинается в момент at.
func (p *Player) scheduleFader(seg Segment, at AudioTime) {
	p.scheduleFade(p.fade, seg, at)
}

func (p *Player) scheduleFade(f Fade, seg Segment, at AudioTime) {
	p.engine.StopAutomation()

	if !f.IsFaded() {
		return
	}

	sampleRate := float64(p.engine.OutputFormat().SampleRate)
	anchor := at.sampleTimeOn(p.engine.RenderTime(), sampleRate)

	points, clamped := f.automation(seg, anchor, p.opts.FrameOffset, sampleRate)
	if clamped > 0 {
		p.logger.Warn().
			Int("clamped", clamped).
			Float64("start", seg.StartTime).
			Float64("end", seg.EndTime).
			Float64("rate", seg.Rate).
			Msg("negative ramp duration clamped to zero")
	}

	for _, pt := range points {
		p.engine.AddAutomationPoint(pt)
	}

	p.logger.Debug().
		Int("points", len(points)).
		Int64("anchor", anchor).
		Float64("in", f.InTime).
		Float64("out", f.OutTime).
		Msg("fade scheduled")
}

// remainingFade — огибающая для остатка текущего запуска: появление
// продолжается с пройденной доли, затухание отсчитывается от текущей позиции.
func (p *Player) remainingFade() (Fade, Segment) {
	f := p.fade
	now := p.currentTime()

	elapsed := framesToSeconds(p.currentFrame(), p.engine.OutputFormat().SampleRate)
	if elapsed >= f.InTime {
		f.InTime = 0
	} else {
		f.InTimeOffset = elapsed
	}
	f.OutTimeOffset = now

	return f, Segment{
		StartTime: now,
		EndTime:   p.endTime,
		Duration:  p.duration(),
		Rate:      p.opts.Rate,
	}
}

package fadeplay

import (
	"fmt"
	"math"
	"time"
)

// Play проигрывает выделение [StartTime, EndTime] прямо сейчас.
func (p *Player) Play() error {
	return p.do(func() error {
		return p.play(p.startTime, p.endTime, AudioTime{}, time.Time{})
	})
}

// PlayRange проигрывает участок from..to секунд. to == 0 — до текущего конца выделения.
func (p *Player) PlayRange(from, to float64) error {
	return p.do(func() error {
		if to == 0 {
			to = p.endTime
		}
		return p.play(from, to, AudioTime{}, time.Time{})
	})
}

// PlayAt проигрывает выделение в заданный момент по часам движка.
// host — опорное время хоста, нулевое значение означает «сейчас».
func (p *Player) PlayAt(at AudioTime, host time.Time) error {
	return p.do(func() error {
		return p.play(p.startTime, p.endTime, at, host)
	})
}

// PlayWhen проигрывает участок from..to через when секунд после host.
// В оффлайн-режиме when отсчитывается по часам движка, а не хоста.
func (p *Player) PlayWhen(from, to, when float64, host time.Time) error {
	return p.do(func() error {
		if host.IsZero() {
			host = time.Now()
		}

		var at AudioTime
		if p.opts.RenderingMode == RenderingOffline {
			sampleRate := float64(p.engine.OutputFormat().SampleRate)
			at = NewAudioTime(int64(when*sampleRate), host)
		} else {
			at = AtHost(host).Offset(when)
		}

		if to == 0 {
			to = p.endTime
		}
		return p.play(from, to, at, host)
	})
}

// Pause приостанавливает воспроизведение и запоминает позицию.
func (p *Player) Pause() error {
	return p.do(p.pause)
}

// Resume продолжает воспроизведение с места паузы.
func (p *Player) Resume() error {
	return p.do(p.resume)
}

// Stop останавливает воспроизведение. Если плеер не играет, ничего не делает.
func (p *Player) Stop() error {
	return p.do(func() error {
		p.stop()
		return nil
	})
}

// Seek переносит позицию воспроизведения на seconds секунд.
func (p *Player) Seek(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) {
		return fmt.Errorf("%w: seek to %v", ErrInvalidRange, seconds)
	}
	return p.do(func() error {
		switch p.state {
		case Playing:
			p.stop()
			return p.play(seconds, p.endTime, AudioTime{}, time.Time{})
		case Paused:
			p.pauseTime = &seconds
		default:
			p.startTime = seconds
		}
		return nil
	})
}

// CurrentTime возвращает позицию воспроизведения в секундах.
func (p *Player) CurrentTime() float64 {
	v, _ := query(p, p.currentTime)
	return v
}

// SetFade заменяет огибающую. Новое значение действует со следующего запуска.
func (p *Player) SetFade(f Fade) error {
	f = validateFade(f)
	return p.do(func() error {
		p.fade = f
		return nil
	})
}

// Fade возвращает текущую огибающую.
func (p *Player) Fade() Fade {
	v, _ := query(p, func() Fade { return p.fade })
	return v
}

// NeedsBufferUpdate сообщает, изменился ли фейд с последнего BufferUpdated.
func (p *Player) NeedsBufferUpdate() bool {
	v, _ := query(p, func() bool { return p.fade.NeedsUpdate(p.appliedFade) })
	return v
}

// BufferUpdated запоминает текущий фейд как примененный к буферу.
func (p *Player) BufferUpdated() error {
	return p.do(func() error {
		p.appliedFade = p.fade
		return nil
	})
}

// SetVolume меняет максимальную громкость и сразу применяет ее.
// Во время фейда огибающая перестраивается под новый максимум.
func (p *Player) SetVolume(volume float64) error {
	if volume <= 0 || volume > 1 || math.IsNaN(volume) {
		return fmt.Errorf("volume %v out of range (0, 1]", volume)
	}
	return p.do(func() error {
		p.fade.MaximumGain = volume
		if p.state == Playing {
			if f, seg := p.remainingFade(); f.IsFaded() {
				p.scheduleFade(f, seg, AudioTime{})
				return nil
			}
		}
		p.engine.AddAutomationPoint(AutomationPoint{
			Gain:      math.Max(MinimumGain, volume),
			EventTime: SampleTimeImmediate,
		})
		return nil
	})
}

// SetRate меняет скорость воспроизведения. Играющий звук перезапускается
// с текущей позиции, чтобы фейд пересчитался под новую скорость.
func (p *Player) SetRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("rate %v must be positive", rate)
	}
	return p.do(func() error {
		if rate == p.opts.Rate {
			return nil
		}

		playing := p.state == Playing
		var at float64
		if playing {
			at = p.currentTime()
			p.stop()
		}

		p.opts.Rate = rate
		if setter, ok := p.engine.(rateSetter); ok {
			setter.SetRate(rate)
		}

		if playing {
			return p.play(at, p.endTime, AudioTime{}, time.Time{})
		}
		return nil
	})
}

// Rate возвращает текущую скорость воспроизведения.
func (p *Player) Rate() float64 {
	v, _ := query(p, func() float64 { return p.opts.Rate })
	return v
}

// SetLooping включает или выключает петлю.
func (p *Player) SetLooping(looping bool) error {
	return p.do(func() error {
		p.opts.Looping = looping
		return nil
	})
}

// Looping сообщает, включена ли петля.
func (p *Player) Looping() bool {
	v, _ := query(p, func() bool { return p.opts.Looping })
	return v
}

// SetLoop задает границы петли.
func (p *Player) SetLoop(loop LoopRegion) error {
	if loop.Start < 0 || (loop.End != 0 && loop.End <= loop.Start) {
		return fmt.Errorf("%w: loop %v..%v", ErrInvalidRange, loop.Start, loop.End)
	}
	return p.do(func() error {
		p.opts.Loop = loop
		return nil
	})
}

// Loop возвращает границы петли.
func (p *Player) Loop() LoopRegion {
	v, _ := query(p, func() LoopRegion { return p.opts.Loop })
	return v
}

// SetStartTime задает начало выделения.
func (p *Player) SetStartTime(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) {
		return fmt.Errorf("%w: start %v", ErrInvalidRange, seconds)
	}
	return p.do(func() error {
		p.startTime = seconds
		return nil
	})
}

// SetEndTime задает конец выделения. 0 — до конца медиа.
func (p *Player) SetEndTime(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) {
		return fmt.Errorf("%w: end %v", ErrInvalidRange, seconds)
	}
	return p.do(func() error {
		p.endTime = seconds
		return nil
	})
}

func (p *Player) StartTime() float64 {
	v, _ := query(p, func() float64 { return p.startTime })
	return v
}

func (p *Player) EndTime() float64 {
	v, _ := query(p, func() float64 { return p.endTime })
	return v
}

// Duration возвращает длину загруженного медиа в секундах.
func (p *Player) Duration() float64 {
	v, _ := query(p, p.duration)
	return v
}

// FrameCount возвращает длину последней постановки в кадрах источника.
func (p *Player) FrameCount() int64 {
	v, _ := query(p, func() int64 { return p.frameCount })
	return v
}

// State возвращает состояние транспорта. Закрытый плеер считается остановленным.
func (p *Player) State() State {
	v, _ := query(p, func() State { return p.state })
	return v
}

func (p *Player) IsPlaying() bool { return p.State() == Playing }
func (p *Player) IsPaused() bool  { return p.State() == Paused }

// play ставит участок from..to в очередь движка и строит для него фейд.
// При ошибке состояние плеера не меняется.
func (p *Player) play(from, to float64, at AudioTime, host time.Time) error {
	if to == 0 {
		to = p.endTime
	}

	seg := Segment{
		StartTime: from,
		EndTime:   to,
		Duration:  p.duration(),
		Rate:      p.opts.Rate,
	}

	frames, scheduled, err := p.schedulePlayer(seg, at, host)
	if err != nil {
		return err
	}
	if !scheduled {
		return nil
	}
	p.scheduleFader(seg, at)

	p.startTime = from
	p.endTime = to
	p.frameCount = frames
	p.pauseTime = nil
	p.state = Playing

	p.logger.Debug().
		Float64("from", from).
		Float64("to", to).
		Int64("frames", frames).
		Float64("rate", seg.Rate).
		Msg("playback scheduled")
	return nil
}

func (p *Player) pause() error {
	if p.state != Playing {
		return ErrNotPlaying
	}

	t := p.currentTime()
	p.pauseTime = &t
	p.stopSource()
	p.engine.StopAutomation()
	p.state = Paused

	p.logger.Debug().Float64("at", t).Msg("paused")
	return nil
}

func (p *Player) resume() error {
	if p.state != Paused {
		return ErrNotPaused
	}

	// play перезапишет начало выделения, а оно может быть пользовательским
	previousStart := p.startTime

	var t float64
	if p.pauseTime != nil {
		t = *p.pauseTime
	}
	if t >= p.duration() {
		t = 0
	}

	p.stopSource()
	if err := p.play(t, p.endTime, AudioTime{}, time.Time{}); err != nil {
		return err
	}

	p.startTime = previousStart
	p.pauseTime = &t
	return nil
}

func (p *Player) stop() {
	if p.state != Playing {
		return
	}
	p.stopSource()
	p.engine.StopAutomation()
	p.state = Stopped
}

// stopSource снимает постановку с движка. Сигнал об окончании, который
// движок пришлет в ответ, уже относится к прошлому поколению.
func (p *Player) stopSource() {
	p.engine.StopSource()
	p.generation++
}

// currentTime: во время паузы — место паузы, иначе начало последнего
// запуска плюс пройденное движком время с учетом скорости.
func (p *Player) currentTime() float64 {
	if p.state == Paused && p.pauseTime != nil {
		return *p.pauseTime
	}

	base := p.startTime
	if p.pauseTime != nil {
		base = *p.pauseTime
	}

	return base + framesToSeconds(p.currentFrame(), p.engine.OutputFormat().SampleRate)*p.opts.Rate
}

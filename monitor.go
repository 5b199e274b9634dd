package fadeplay

import (
	"fmt"
	"time"
)

// noteKind — вид уведомления для пользовательских обработчиков.
type noteKind int

const (
	noteCompletion noteKind = iota
	noteLoopCompletion
	noteFlush
)

type notification struct {
	kind noteKind
	ack  chan struct{}
}

// run — управляющая горутина плеера. Только она меняет состояние
// транспорта: команды пользователя и сигналы движка выполняются по очереди.
func (p *Player) run() {
	defer close(p.stopped)
	for {
		select {
		case task := <-p.tasks:
			p.exec(task)
		case <-p.done:
			return
		}
	}
}

func (p *Player) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("control task panicked")
		}
	}()
	task()
}

// do выполняет fn в управляющей горутине и ждет результата.
func (p *Player) do(fn func() error) error {
	errc := make(chan error, 1)
	task := func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("control task panicked: %v", r)
			}
			errc <- err
		}()
		err = fn()
	}

	select {
	case p.tasks <- task:
	case <-p.done:
		return ErrClosed
	}
	return <-errc
}

// query читает значение из состояния плеера внутри управляющей горутины.
func query[T any](p *Player, fn func() T) (T, error) {
	var v T
	err := p.do(func() error {
		v = fn()
		return nil
	})
	return v, err
}

// post ставит задачу в очередь, не дожидаясь выполнения.
// После закрытия плеера задача отбрасывается.
func (p *Player) post(task func()) {
	select {
	case p.tasks <- task:
	case <-p.done:
	}
}

// completionCallback возвращает обработчик окончания для постановки номер gen.
// Движок может вызвать его из любого потока, кроме управляющей горутины:
// сам обработчик только передает событие в очередь.
func (p *Player) completionCallback(gen uint64) func() {
	if !p.opts.UseCompletionHandler && !p.opts.Looping {
		return nil
	}
	return func() {
		p.post(func() { p.handleCallbackComplete(gen) })
	}
}

// handleCallbackComplete разбирает сигнал движка об окончании постановки.
func (p *Player) handleCallbackComplete(gen uint64) {
	if gen != p.generation {
		p.logger.Debug().
			Uint64("generation", gen).
			Uint64("current", p.generation).
			Msg("stale completion dropped")
		return
	}

	// Петлю в памяти крутит сам движок, здесь только синхронизируем границы.
	// На паузе pauseTime трогать нельзя: по нему продолжит Resume.
	if p.opts.Looping && p.opts.Buffering == BufferingAlways {
		if p.state != Playing {
			return
		}
		p.startTime = p.opts.Loop.Start
		p.endTime = p.opts.Loop.End
		p.pauseTime = nil
		return
	}

	// Движок сбрасывает позицию в 0 при ручной остановке. Это эвристика:
	// настоящее окончание на нулевом кадре тоже будет проглочено.
	if p.currentFrame() == 0 {
		p.logger.Debug().Msg("completion at frame 0 treated as manual stop")
		return
	}

	// Постановка отработала: повторный сигнал от нее уже ничего не значит
	p.generation++
	p.handleComplete()
}

// currentFrame спрашивает у движка позицию. Паника движка считается нулем.
func (p *Player) currentFrame() (frame int64) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("engine failed to report current frame")
			frame = 0
		}
	}()
	return p.engine.CurrentFrame()
}

// handleComplete обрабатывает естественное окончание воспроизведения.
func (p *Player) handleComplete() {
	p.stop()
	p.engine.StopAutomation()

	if p.opts.Looping {
		p.startTime = p.opts.Loop.Start
		p.endTime = p.opts.Loop.End
		if err := p.play(p.startTime, p.endTime, AudioTime{}, time.Time{}); err != nil {
			p.logger.Error().Err(err).
				Float64("loop_start", p.startTime).
				Float64("loop_end", p.endTime).
				Msg("failed to restart loop")
		}
		p.notify(noteLoopCompletion)
		return
	}

	if p.pauseTime != nil {
		p.startTime = 0
		p.pauseTime = nil
	}
	p.notify(noteCompletion)
}

// notify передает уведомление горутине обработчиков. Обработчики не
// выполняются в управляющей горутине, поэтому могут вызывать методы плеера.
func (p *Player) notify(kind noteKind) {
	p.enqueueNote(notification{kind: kind})
}

// enqueueNote никогда не блокируется: медленный обработчик не должен
// останавливать управляющую горутину.
func (p *Player) enqueueNote(n notification) {
	p.noteMu.Lock()
	p.notes = append(p.notes, n)
	p.noteMu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Player) nextNote() (notification, bool) {
	p.noteMu.Lock()
	defer p.noteMu.Unlock()
	if len(p.notes) == 0 {
		return notification{}, false
	}
	n := p.notes[0]
	p.notes[0] = notification{}
	p.notes = p.notes[1:]
	return n, true
}

// runNotifier вызывает пользовательские обработчики по одному, в порядке событий.
func (p *Player) runNotifier() {
	for range p.wake {
		for {
			n, ok := p.nextNote()
			if !ok {
				break
			}
			switch n.kind {
			case noteCompletion:
				p.callHandler("completion", p.opts.OnCompletion)
			case noteLoopCompletion:
				p.callHandler("loop completion", p.opts.OnLoopCompletion)
			case noteFlush:
			}
			if n.ack != nil {
				close(n.ack)
			}
		}
	}
}

func (p *Player) callHandler(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("handler", name).Msg("completion handler panicked")
		}
	}()
	fn()
}

// flush дожидается, пока управляющая горутина и горутина обработчиков
// разберут все, что было поставлено в очередь до вызова.
func (p *Player) flush() error {
	ack := make(chan struct{})
	err := p.do(func() error {
		p.enqueueNote(notification{kind: noteFlush, ack: ack})
		return nil
	})
	if err != nil {
		return err
	}
	<-ack
	return nil
}

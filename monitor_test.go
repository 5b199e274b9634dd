package fadeplay

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCompletionFiresOnce(t *testing.T) {
	var c counters
	opts := Options{}
	c.install(&opts)
	p, eng := newTestPlayer(t, opts, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	eng.setFrame(10 * testRate)
	eng.complete(t)
	flush(t, p)

	if got := c.completions.Load(); got != 1 {
		t.Errorf("completions = %d; want 1", got)
	}
	if p.State() != Stopped {
		t.Errorf("State() = %v; want Stopped", p.State())
	}

	// Повторный сигнал той же постановки игнорируется
	eng.complete(t)
	flush(t, p)
	if got := c.completions.Load(); got != 1 {
		t.Errorf("completions after duplicate signal = %d; want 1", got)
	}
	if got := c.loopCompletions.Load(); got != 0 {
		t.Errorf("loop completions = %d; want 0", got)
	}
}

// Движок сбрасывает позицию в 0 при ручной остановке, поэтому сигнал на
// нулевом кадре считается остановкой, а не окончанием. Известная неоднозначность:
// участок, реально доигравший на нулевом кадре, тоже не даст уведомления.
func TestCompletionAtFrameZeroSuppressed(t *testing.T) {
	var c counters
	opts := Options{}
	c.install(&opts)
	p, eng := newTestPlayer(t, opts, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	eng.setFrame(0)
	eng.complete(t)
	flush(t, p)

	if got := c.completions.Load(); got != 0 {
		t.Errorf("completions = %d; want 0", got)
	}
	if p.State() != Playing {
		t.Errorf("State() = %v; want Playing", p.State())
	}
}

func TestCompletionWhenEngineFails(t *testing.T) {
	var c counters
	opts := Options{}
	c.install(&opts)
	p, eng := newTestPlayer(t, opts, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	eng.mu.Lock()
	eng.panicOnFrame = true
	eng.mu.Unlock()

	eng.complete(t)
	flush(t, p)

	if got := c.completions.Load(); got != 0 {
		t.Errorf("completions = %d; want 0", got)
	}
}

func TestLoopCompletion(t *testing.T) {
	var c counters
	opts := Options{Looping: true, Loop: LoopRegion{Start: 2, End: 10}}
	c.install(&opts)
	p, eng := newTestPlayer(t, opts, 20)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 2; i++ {
		eng.setFrame(testRate)
		eng.complete(t)
		flush(t, p)

		if got := c.loopCompletions.Load(); got != int32(i) {
			t.Errorf("round %d: loop completions = %d", i, got)
		}
		s := eng.last(t)
		if s.startFrame != 2*testRate || s.frameCount != 8*testRate {
			t.Errorf("round %d: loop scheduled %d+%d; want %d+%d",
				i, s.startFrame, s.frameCount, 2*testRate, 8*testRate)
		}
	}

	if got := c.completions.Load(); got != 0 {
		t.Errorf("completions = %d; want 0 while looping", got)
	}
	if p.StartTime() != 2 || p.EndTime() != 10 {
		t.Errorf("selection = %v..%v; want 2..10", p.StartTime(), p.EndTime())
	}
	if p.State() != Playing {
		t.Errorf("State() = %v; want Playing", p.State())
	}
}

func TestBufferLoopCompletion(t *testing.T) {
	var c counters
	opts := Options{
		Buffering: BufferingAlways,
		Looping:   true,
		Loop:      LoopRegion{Start: 1, End: 3},
	}
	c.install(&opts)
	p, eng := newTestPlayer(t, opts, 0)
	if err := p.LoadBuffer(testBuffer(2, testRate, 4)); err != nil {
		t.Fatal(err)
	}

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	eng.setFrame(testRate)
	eng.complete(t)
	flush(t, p)

	// Петлю крутит движок: плеер только подстраивает границы
	if eng.count() != 1 {
		t.Errorf("scheduled %d items; want 1", eng.count())
	}
	if c.loopCompletions.Load() != 0 || c.completions.Load() != 0 {
		t.Error("buffer loop should not notify")
	}
	if p.StartTime() != 1 || p.EndTime() != 3 {
		t.Errorf("selection = %v..%v; want 1..3", p.StartTime(), p.EndTime())
	}
}

func TestStaleCompletionDropped(t *testing.T) {
	var c counters
	opts := Options{}
	c.install(&opts)
	p, eng := newTestPlayer(t, opts, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	first := eng.last(t).onComplete

	if err := p.PlayRange(3, 0); err != nil {
		t.Fatal(err)
	}
	eng.setFrame(testRate)
	first()
	flush(t, p)

	if got := c.completions.Load(); got != 0 {
		t.Errorf("completions = %d; want 0", got)
	}
	if p.State() != Playing {
		t.Errorf("State() = %v; want Playing", p.State())
	}
}

func TestCompletionClearsPendingPause(t *testing.T) {
	var c counters
	opts := Options{StartTime: 1}
	c.install(&opts)
	p, eng := newTestPlayer(t, opts, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	eng.setFrame(testRate)
	if err := p.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := p.Resume(); err != nil {
		t.Fatal(err)
	}

	eng.setFrame(8 * testRate)
	eng.complete(t)
	flush(t, p)

	if c.completions.Load() != 1 {
		t.Fatalf("completions = %d; want 1", c.completions.Load())
	}
	if p.StartTime() != 0 {
		t.Errorf("StartTime() = %v; want 0", p.StartTime())
	}
	if got := p.CurrentTime(); got != 0 {
		t.Errorf("CurrentTime() = %v; want 0", got)
	}
}

func TestNoCompletionHandlerWithoutCallbacks(t *testing.T) {
	p, eng := newTestPlayer(t, Options{}, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	if eng.last(t).onComplete != nil {
		t.Error("completion handler installed without callbacks")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	opts := Options{OnCompletion: func() { panic("boom") }}
	p, eng := newTestPlayer(t, opts, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	eng.setFrame(testRate)
	eng.complete(t)
	flush(t, p)

	// Плеер продолжает работать
	if err := p.Play(); err != nil {
		t.Fatalf("Play() after handler panic = %v", err)
	}
	if p.State() != Playing {
		t.Errorf("State() = %v; want Playing", p.State())
	}
}

func TestHandlerCanUsePlayer(t *testing.T) {
	states := make(chan State, 1)
	var p *Player
	opts := Options{OnCompletion: func() { states <- p.State() }}
	p, eng := newTestPlayer(t, opts, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	eng.setFrame(testRate)
	eng.complete(t)

	select {
	case s := <-states:
		if s != Stopped {
			t.Errorf("State() in handler = %v; want Stopped", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Таймаут: обработчик окончания не вызван")
	}
}

// Медленный обработчик не задерживает управляющую горутину, сколько бы
// уведомлений ни накопилось
func TestSlowHandlerDoesNotBlockPlayer(t *testing.T) {
	const rounds = 20

	release := make(chan struct{})
	states := make(chan State, 1)
	var calls atomic.Int32
	var p *Player
	opts := Options{
		Looping: true,
		OnLoopCompletion: func() {
			if calls.Add(1) == 1 {
				<-release
				states <- p.State()
			}
		},
	}
	p, eng := newTestPlayer(t, opts, 10)

	if err := p.Play(); err != nil {
		t.Fatal(err)
	}

	looped := make(chan struct{})
	go func() {
		defer close(looped)
		for i := 0; i < rounds; i++ {
			eng.setFrame(testRate)
			eng.finish()()
			p.State()
		}
	}()
	select {
	case <-looped:
	case <-time.After(2 * time.Second):
		t.Fatal("Таймаут: плеер ждет обработчик петли")
	}

	close(release)
	select {
	case s := <-states:
		if s != Playing {
			t.Errorf("State() in handler = %v; want Playing", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Таймаут: обработчик не смог обратиться к плееру")
	}

	flush(t, p)
	if got := calls.Load(); got != rounds {
		t.Errorf("loop completions = %d; want %d", got, rounds)
	}
}

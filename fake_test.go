package fadeplay

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-audio/audio"
	pcm "github.com/ik5/audpbx/audio"
	"github.com/rs/zerolog"
)

const testRate = 44100

// scheduled — одна постановка, которую плеер отдал движку.
type scheduled struct {
	buffer     *audio.Float32Buffer
	opts       BufferOptions
	startFrame int64
	frameCount int64
	at         AudioTime
	onComplete func()
}

// fakeEngine записывает все вызовы плеера. Позицию задает сам тест.
// Как и настоящий движок, при остановке или замене постановки асинхронно
// вызывает ее onComplete.
type fakeEngine struct {
	mu sync.Mutex

	format       audio.Format
	clock        int64
	frame        int64
	panicOnFrame bool
	pending      func() // onComplete постановки, которая еще играет

	schedules      []scheduled
	points         []AutomationPoint
	initialized    []audio.Format
	prepared       []int64
	stopSource     int
	stopAutomation int
	rate           float64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		format: audio.Format{NumChannels: 2, SampleRate: testRate},
		rate:   1,
	}
}

func (e *fakeEngine) ScheduleBuffer(buf *audio.Float32Buffer, at AudioTime, opts BufferOptions, onComplete func()) error {
	e.enqueue(scheduled{buffer: buf, opts: opts, at: at, onComplete: onComplete})
	return nil
}

func (e *fakeEngine) ScheduleSegment(file File, startFrame, frameCount int64, at AudioTime, onComplete func()) error {
	e.enqueue(scheduled{
		startFrame: startFrame,
		frameCount: frameCount,
		at:         at,
		onComplete: onComplete,
	})
	return nil
}

func (e *fakeEngine) enqueue(s scheduled) {
	e.mu.Lock()
	e.schedules = append(e.schedules, s)
	e.frame = 0
	prev := e.pending
	e.pending = s.onComplete
	e.mu.Unlock()

	fire(prev)
}

func (e *fakeEngine) AddAutomationPoint(p AutomationPoint) {
	e.mu.Lock()
	e.points = append(e.points, p)
	e.mu.Unlock()
}

func (e *fakeEngine) StopAutomation() {
	e.mu.Lock()
	e.stopAutomation++
	e.points = nil
	e.mu.Unlock()
}

func (e *fakeEngine) StopSource() {
	e.mu.Lock()
	e.stopSource++
	e.frame = 0
	prev := e.pending
	e.pending = nil
	e.mu.Unlock()

	fire(prev)
}

func (e *fakeEngine) Prepare(frameCount int64) {
	e.mu.Lock()
	e.prepared = append(e.prepared, frameCount)
	e.mu.Unlock()
}

func (e *fakeEngine) Initialize(format audio.Format) {
	e.mu.Lock()
	e.initialized = append(e.initialized, format)
	e.mu.Unlock()
}

func (e *fakeEngine) CurrentFrame() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panicOnFrame {
		panic("engine is not running")
	}
	return e.frame
}

func (e *fakeEngine) RenderTime() AudioTime { return AtSample(e.clockNow()) }

func (e *fakeEngine) OutputFormat() audio.Format {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format
}

func (e *fakeEngine) SetRate(rate float64) {
	e.mu.Lock()
	e.rate = rate
	e.mu.Unlock()
}

func (e *fakeEngine) clockNow() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

// setFrame двигает позицию текущей постановки.
func (e *fakeEngine) setFrame(frame int64) {
	e.mu.Lock()
	e.frame = frame
	e.mu.Unlock()
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.schedules)
}

func (e *fakeEngine) last(t *testing.T) scheduled {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.schedules) == 0 {
		t.Fatal("nothing scheduled")
	}
	return e.schedules[len(e.schedules)-1]
}

func (e *fakeEngine) automation() []AutomationPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]AutomationPoint(nil), e.points...)
}

// complete имитирует сигнал движка об окончании последней постановки.
func (e *fakeEngine) complete(t *testing.T) {
	t.Helper()
	s := e.last(t)
	if s.onComplete == nil {
		t.Fatal("completion handler not installed")
	}
	e.finish()()
}

// finish снимает последнюю постановку как доигравшую и возвращает ее onComplete.
func (e *fakeEngine) finish() func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	if len(e.schedules) == 0 {
		return func() {}
	}
	if fn := e.schedules[len(e.schedules)-1].onComplete; fn != nil {
		return fn
	}
	return func() {}
}

// fakeFile — файл заданной длины из тишины.
type fakeFile struct {
	format audio.Format
	length int64
	closed atomic.Bool
}

func newFakeFile(seconds float64) *fakeFile {
	return &fakeFile{
		format: audio.Format{NumChannels: 2, SampleRate: testRate},
		length: secondsToFrames(seconds, testRate),
	}
}

func (f *fakeFile) Format() audio.Format { return f.format }
func (f *fakeFile) Length() int64        { return f.length }
func (f *fakeFile) Close() error         { f.closed.Store(true); return nil }

func (f *fakeFile) Stream(startFrame int64) (pcm.Source, error) {
	channels := int64(f.format.NumChannels)
	return newBufferSource(&audio.Float32Buffer{
		Format: &f.format,
		Data:   make([]float32, (f.length-startFrame)*channels),
	}), nil
}

// counters считает вызовы пользовательских обработчиков.
type counters struct {
	completions     atomic.Int32
	loopCompletions atomic.Int32
}

func (c *counters) install(opts *Options) {
	opts.OnCompletion = func() { c.completions.Add(1) }
	opts.OnLoopCompletion = func() { c.loopCompletions.Add(1) }
}

// newTestPlayer создает плеер поверх fakeEngine и загружает в него файл.
func newTestPlayer(t *testing.T, opts Options, seconds float64) (*Player, *fakeEngine) {
	t.Helper()
	eng := newFakeEngine()
	p := New(eng, opts, zerolog.Nop())
	t.Cleanup(func() { p.Close() })

	if seconds > 0 {
		if err := p.Load(newFakeFile(seconds)); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
	}
	return p, eng
}

// flush дожидается обработки всех событий плеера.
func flush(t *testing.T, p *Player) {
	t.Helper()
	if err := p.flush(); err != nil {
		t.Fatalf("flush() error = %v", err)
	}
}

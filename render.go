package fadeplay

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/go-audio/audio"
	pcm "github.com/ik5/audpbx/audio"
	"github.com/rs/zerolog"
)

// Renderer — программный движок без устройства вывода. Смешивает одну
// постановку, применяет автоматизацию громкости и считает часы в выходных
// кадрах. Сам является pcm.Source: его можно отдать в oto или прочитать
// целиком для оффлайн-рендера.
type Renderer struct {
	mu     sync.Mutex
	logger zerolog.Logger

	format audio.Format
	rate   float64
	clock  int64 // Выходных кадров отрисовано с момента создания

	item     *renderItem
	position int64 // Кадров текущей постановки отыграно

	gain    float64
	pending []AutomationPoint // Отсортированы по абсолютному времени
	ramp    *activeRamp

	frame []float32
}

type renderItem struct {
	src        pcm.Source
	restart    func() (pcm.Source, error) // Для зацикленных буферов
	startAt    int64
	onComplete func()
}

type activeRamp struct {
	from, to float64
	start    int64
	length   int64
	shape    RampType
}

// NewRenderer создает движок с выходом в формате format.
func NewRenderer(format audio.Format, logger zerolog.Logger) *Renderer {
	if format.NumChannels <= 0 {
		format.NumChannels = 2
	}
	if format.SampleRate <= 0 {
		format.SampleRate = 44100
	}
	return &Renderer{
		logger: logger.With().Str("component", "renderer").Logger(),
		format: format,
		rate:   1,
		gain:   1,
		frame:  make([]float32, format.NumChannels),
	}
}

// SetRate задает скорость для следующих постановок.
func (r *Renderer) SetRate(rate float64) {
	if rate <= 0 {
		rate = 1
	}
	r.mu.Lock()
	r.rate = rate
	r.mu.Unlock()
}

func (r *Renderer) ScheduleBuffer(buf *audio.Float32Buffer, at AudioTime, opts BufferOptions, onComplete func()) error {
	if buf == nil || buf.Format == nil {
		return ErrMissingSource
	}

	// Петля перезапускается под r.mu, поэтому формат фиксируется сейчас
	rate, out := r.target()
	open := func() (pcm.Source, error) {
		return convert(newBufferSource(buf), rate, out)
	}
	src, err := open()
	if err != nil {
		return err
	}

	item := &renderItem{src: src, onComplete: onComplete}
	if opts.Has(BufferLoops) {
		item.restart = open
	}
	r.enqueue(item, at)
	return nil
}

func (r *Renderer) ScheduleSegment(file File, startFrame, frameCount int64, at AudioTime, onComplete func()) error {
	if file == nil {
		return ErrMissingSource
	}
	if frameCount <= 0 {
		return fmt.Errorf("%w: %d frames", ErrInvalidRange, frameCount)
	}

	stream, err := file.Stream(startFrame)
	if err != nil {
		return fmt.Errorf("open stream at frame %d: %w", startFrame, err)
	}
	rate, out := r.target()
	src, err := convert(limitFrames(stream, frameCount), rate, out)
	if err != nil {
		stream.Close()
		return err
	}

	r.enqueue(&renderItem{src: src, onComplete: onComplete}, at)
	return nil
}

// target возвращает скорость и выходной формат для новой постановки.
func (r *Renderer) target() (float64, audio.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate, r.format
}

// convert приводит источник к формату out на скорости rate.
func convert(src pcm.Source, rate float64, out audio.Format) (pcm.Source, error) {
	if src.Channels() <= 0 || src.SampleRate() <= 0 {
		src.Close()
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, src.Channels(), src.SampleRate())
	}

	if rate != 1 {
		src = &varispeed{Source: src, rate: rate}
	}
	if src.SampleRate() != out.SampleRate {
		src = pcm.NewResampler(src, out.SampleRate)
	}
	if src.Channels() != out.NumChannels {
		src = &channelMapper{Source: src, channels: out.NumChannels}
	}
	return src, nil
}

// enqueue заменяет текущую постановку новой. Прерванная постановка
// получает свой onComplete.
func (r *Renderer) enqueue(item *renderItem, at AudioTime) {
	r.mu.Lock()
	item.startAt = -1
	if at.IsValid() {
		start := at.sampleTimeOn(r.renderTimeLocked(), float64(r.format.SampleRate))
		if at.IsSampleTimeValid() && r.rate != 1 {
			// Время постановки задано по шкале источника
			start = int64(float64(start) / r.rate)
		}
		item.startAt = start
	}

	prev := r.item
	r.item = item
	r.position = 0
	r.mu.Unlock()

	if prev != nil {
		prev.src.Close()
		fire(prev.onComplete)
	}
}

func (r *Renderer) AddAutomationPoint(p AutomationPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Immediate() {
		r.gain = p.Gain
		r.ramp = nil
		return
	}

	at := p.AnchorTime + p.EventTime
	i := sort.Search(len(r.pending), func(i int) bool {
		return r.pending[i].AnchorTime+r.pending[i].EventTime > at
	})
	r.pending = append(r.pending, AutomationPoint{})
	copy(r.pending[i+1:], r.pending[i:])
	r.pending[i] = p
}

func (r *Renderer) StopAutomation() {
	r.mu.Lock()
	r.pending = r.pending[:0]
	r.ramp = nil
	r.mu.Unlock()
}

// StopSource останавливает постановку и сбрасывает позицию в 0.
// Если постановка не доиграла, ее onComplete все равно вызывается.
func (r *Renderer) StopSource() {
	r.mu.Lock()
	prev := r.item
	r.item = nil
	r.position = 0
	r.mu.Unlock()

	if prev != nil {
		prev.src.Close()
		fire(prev.onComplete)
	}
}

func (r *Renderer) Prepare(frameCount int64) {
	r.logger.Trace().Int64("frames", frameCount).Msg("prepare")
}

// Initialize меняет выходной формат рендера.
func (r *Renderer) Initialize(format audio.Format) {
	if format.NumChannels <= 0 || format.SampleRate <= 0 {
		return
	}
	r.mu.Lock()
	r.format = format
	r.frame = make([]float32, format.NumChannels)
	r.mu.Unlock()

	r.logger.Debug().
		Int("channels", format.NumChannels).
		Int("sample_rate", format.SampleRate).
		Msg("output reinitialized")
}

func (r *Renderer) CurrentFrame() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *Renderer) RenderTime() AudioTime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderTimeLocked()
}

func (r *Renderer) renderTimeLocked() AudioTime {
	return NewAudioTime(r.clock, time.Now())
}

func (r *Renderer) OutputFormat() audio.Format {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format
}

// Gain возвращает текущую громкость фейдера.
func (r *Renderer) Gain() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gain
}

// Idle сообщает, что в очереди ничего нет.
func (r *Renderer) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.item == nil
}

func (r *Renderer) SampleRate() int { return r.OutputFormat().SampleRate }
func (r *Renderer) Channels() int   { return r.OutputFormat().NumChannels }
func (r *Renderer) BufSize() int    { return 4096 }

func (r *Renderer) Close() error {
	r.StopSource()
	r.StopAutomation()
	return nil
}

// ReadSamples отрисовывает следующие кадры. Когда постановки нет,
// возвращает io.EOF: что дописать вместо тишины, решает вызывающий.
func (r *Renderer) ReadSamples(dst []float32) (int, error) {
	var completions []func()

	r.mu.Lock()
	channels := r.format.NumChannels
	frames := len(dst) / channels

	n := 0
	for f := 0; f < frames; f++ {
		if r.item == nil {
			break
		}

		r.applyAutomation()

		out := dst[f*channels : (f+1)*channels]
		clear(out)
		if r.item.startAt < 0 || r.clock >= r.item.startAt {
			done, err := r.readFrame(out)
			if err != nil {
				r.logger.Error().Err(err).Msg("source read failed")
			}
			if done && err == nil && r.item.restart != nil && r.rewind() {
				copy(out, r.frame)
				done = false
			}
			if done {
				r.item.src.Close()
				completions = append(completions, r.item.onComplete)
				r.item = nil
			} else {
				r.position++
			}
		}

		g := float32(r.gain)
		for c := range out {
			out[c] *= g
		}
		r.clock++
		n += channels
	}
	idle := r.item == nil
	r.mu.Unlock()

	for _, fn := range completions {
		fire(fn)
	}
	if n == 0 && idle {
		return 0, io.EOF
	}
	return n, nil
}

// readFrame читает один кадр источника в out. done — источник иссяк.
func (r *Renderer) readFrame(out []float32) (done bool, err error) {
	n, err := r.item.src.ReadSamples(r.frame)
	if n < len(r.frame) {
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return true, err
		}
		if n == 0 {
			return true, nil
		}
	}
	copy(out, r.frame[:n])
	return false, nil
}

// rewind открывает зацикленный буфер заново и читает первый кадр в r.frame.
// Вызывается под r.mu: restart не должен брать блокировку рендера.
func (r *Renderer) rewind() bool {
	src, err := r.item.restart()
	if err != nil {
		r.logger.Error().Err(err).Msg("loop restart failed")
		return false
	}
	r.item.src.Close()
	r.item.src = src
	n, _ := src.ReadSamples(r.frame)
	return n == len(r.frame)
}

// applyAutomation запускает точки, время которых наступило, и двигает рампу.
func (r *Renderer) applyAutomation() {
	for len(r.pending) > 0 {
		p := r.pending[0]
		if p.AnchorTime+p.EventTime > r.clock {
			break
		}
		r.pending = r.pending[1:]

		if p.RampDuration <= 0 {
			r.gain = p.Gain
			r.ramp = nil
			continue
		}
		r.ramp = &activeRamp{
			from:   r.gain,
			to:     p.Gain,
			start:  r.clock,
			length: p.RampDuration,
			shape:  p.RampType,
		}
	}

	if r.ramp == nil {
		return
	}
	elapsed := r.clock - r.ramp.start
	if elapsed >= r.ramp.length {
		r.gain = r.ramp.to
		r.ramp = nil
		return
	}
	r.gain = r.ramp.shape.Value(r.ramp.from, r.ramp.to, float64(elapsed)/float64(r.ramp.length))
}

func fire(fn func()) {
	if fn != nil {
		go fn()
	}
}

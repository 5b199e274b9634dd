package fadeplay

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/audio"
	pcm "github.com/ik5/audpbx/audio"
	"github.com/rs/zerolog"
)

// Engine — движок, который смешивает звук, крутит рампы громкости и
// сообщает об окончании поставленных в очередь участков.
// Обработчики onComplete вызываются асинхронно, из потока движка, и
// никогда изнутри методов самого Engine.
//
// Момент at в Schedule* с номером сэмпла задан по шкале источника: это
// выходные часы RenderTime, умноженные на скорость воспроизведения. Движок
// со своей скоростью (SetRate) делит его на скорость, поэтому задержка от
// «сейчас» на выходе не зависит от скорости. При скорости 1 шкалы совпадают.
type Engine interface {
	ScheduleBuffer(buf *audio.Float32Buffer, at AudioTime, opts BufferOptions, onComplete func()) error
	ScheduleSegment(file File, startFrame, frameCount int64, at AudioTime, onComplete func()) error

	AddAutomationPoint(p AutomationPoint)
	StopAutomation()
	StopSource()

	// Prepare — подсказка движку заранее подготовить frameCount кадров.
	Prepare(frameCount int64)
	// Initialize перестраивает выходной тракт под формат источника.
	Initialize(format audio.Format)

	// CurrentFrame — позиция текущей постановки в выходных кадрах.
	// После StopSource возвращает 0.
	CurrentFrame() int64
	// RenderTime — текущее время рендера.
	RenderTime() AudioTime
	OutputFormat() audio.Format
}

// File — открытый аудиофайл, из которого можно читать участки.
type File interface {
	Format() audio.Format
	// Length — длина файла в кадрах.
	Length() int64
	// Stream возвращает поток PCM, начиная с кадра startFrame.
	Stream(startFrame int64) (pcm.Source, error)
	Close() error
}

// rateSetter реализуют движки с варьируемой скоростью воспроизведения.
type rateSetter interface {
	SetRate(rate float64)
}

const (
	otoChannels  = 2
	bytesPerSamp = 4 // float32
)

var (
	otoCtx  *oto.Context
	otoRate int
	once    sync.Once
	otoErr  error
)

// initEngine инициализирует аудио-движок Oto один раз за все время работы программы.
func initEngine(sampleRate int) error {
	once.Do(func() {
		CleanUpTempFiles()
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: otoChannels,
			Format:       oto.FormatFloat32LE,
		}
		var readyChan chan struct{}
		otoCtx, readyChan, otoErr = oto.NewContext(op)
		if otoErr == nil {
			<-readyChan
			otoRate = sampleRate
		}
	})
	return otoErr
}

// OtoEngine выводит Renderer на звуковую карту через oto.
// Контекст oto общий на процесс: его частота задается первым движком,
// остальные источники пересчитываются под нее.
type OtoEngine struct {
	*Renderer
	player *oto.Player
	logger zerolog.Logger
}

// NewOtoEngine создает движок и сразу запускает вывод.
// sampleRate используется только при первой инициализации контекста.
func NewOtoEngine(sampleRate int, logger zerolog.Logger) (*OtoEngine, error) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if err := initEngine(sampleRate); err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "oto").Logger()
	r := NewRenderer(audio.Format{NumChannels: otoChannels, SampleRate: otoRate}, logger)

	e := &OtoEngine{
		Renderer: r,
		logger:   logger,
	}
	e.player = otoCtx.NewPlayer(&otoReader{r: r})
	e.player.Play()

	logger.Debug().Int("sample_rate", otoRate).Msg("output started")
	return e, nil
}

// Initialize на устройстве формат не меняет: контекст oto один на процесс,
// а формат источника приводится к выходу при постановке в очередь.
func (e *OtoEngine) Initialize(format audio.Format) {
	e.logger.Debug().
		Int("channels", format.NumChannels).
		Int("sample_rate", format.SampleRate).
		Msg("source converted to device format")
}

// Close останавливает вывод.
func (e *OtoEngine) Close() error {
	e.Renderer.StopSource()
	e.Renderer.StopAutomation()
	e.player.Pause()
	return e.player.Close()
}

// otoReader отдает oto кадры рендера в формате float32 LE.
// Пока играть нечего, пишет тишину: oto останавливает плеер на io.EOF.
type otoReader struct {
	r   *Renderer
	buf []float32
}

func (o *otoReader) Read(b []byte) (int, error) {
	samples := len(b) / bytesPerSamp
	samples -= samples % otoChannels
	if samples == 0 {
		return 0, nil
	}
	if cap(o.buf) < samples {
		o.buf = make([]float32, samples)
	}
	buf := o.buf[:samples]

	n, err := o.r.ReadSamples(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	clear(buf[n:])

	for i, v := range buf {
		binary.LittleEndian.PutUint32(b[i*bytesPerSamp:], math.Float32bits(v))
	}
	return samples * bytesPerSamp, nil
}

package fadeplay

import (
	"errors"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State — состояние транспорта плеера.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Buffering определяет, откуда играет плеер.
type Buffering int

const (
	BufferingDynamic Buffering = iota // Участки файла читаются с диска
	BufferingAlways                   // Весь звук заранее лежит в памяти
)

// RenderingMode — режим работы движка.
type RenderingMode int

const (
	RenderingRealtime RenderingMode = iota
	RenderingOffline
)

// LoopRegion — границы петли в секундах. End == 0 — до конца медиа.
type LoopRegion struct {
	Start float64
	End   float64
}

// Options содержит настройки плеера.
type Options struct {
	Fade Fade

	StartTime float64 // Начало выделения в секундах
	EndTime   float64 // Конец выделения, 0 — до конца

	Looping bool
	Loop    LoopRegion

	Buffering     Buffering
	Rate          float64 // Скорость воспроизведения, по умолчанию 1
	RenderingMode RenderingMode
	FrameOffset   int64 // Задержка начала рампы в сэмплах, по умолчанию 512

	// UseCompletionHandler включает отслеживание окончания воспроизведения.
	// Включается автоматически, если задан хотя бы один обработчик.
	UseCompletionHandler bool
	OnCompletion         func() // Трек доиграл до конца сам
	OnLoopCompletion     func() // Закончился очередной круг петли
}

// Player — транспорт поверх движка: воспроизведение, пауза, продолжение,
// петля и огибающая громкости. Все изменения состояния выполняются в одной
// управляющей горутине, поэтому методы можно вызывать из любых горутин.
type Player struct {
	id     uuid.UUID
	engine Engine
	logger zerolog.Logger
	opts   Options

	file   File
	buffer *audio.Float32Buffer

	fade        Fade
	appliedFade Fade // Снимок фейда, под который построен буфер

	state      State
	startTime  float64
	endTime    float64
	pauseTime  *float64
	frameCount int64
	generation uint64 // Растет при каждой постановке и остановке источника

	tasks     chan func()
	noteMu    sync.Mutex
	notes     []notification // Очередь обработчиков, не ограничена
	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New создает плеер поверх движка и запускает его управляющую горутину.
func New(engine Engine, opts Options, logger zerolog.Logger) *Player {
	opts = validateOptions(opts)
	id := uuid.New()

	p := &Player{
		id:     id,
		engine: engine,
		logger: logger.With().Str("component", "player").Str("player", id.String()).Logger(),
		opts:   opts,

		fade:      opts.Fade,
		startTime: opts.StartTime,
		endTime:   opts.EndTime,

		tasks:   make(chan func()),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.appliedFade = p.fade

	if setter, ok := engine.(rateSetter); ok {
		setter.SetRate(opts.Rate)
	}

	go p.run()
	go p.runNotifier()
	return p
}

// ID возвращает идентификатор плеера (он же пишется в логи).
func (p *Player) ID() uuid.UUID { return p.id }

// Done закрывается, когда плеер закрыт.
func (p *Player) Done() <-chan struct{} { return p.done }

// Close останавливает воспроизведение и освобождает движок и файл.
func (p *Player) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		_ = p.do(func() error {
			p.stop()
			return nil
		})
		close(p.done)
		<-p.stopped
		close(p.wake)

		if c, ok := p.engine.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if p.file != nil {
			errs = append(errs, p.file.Close())
		}

		activeMu.Lock()
		delete(activeSounds, p)
		activeMu.Unlock()

		p.logger.Debug().Msg("player closed")
	})
	return errors.Join(errs...)
}

// Load задает файл для сегментного режима.
func (p *Player) Load(f File) error {
	return p.do(func() error {
		p.file = f
		if f != nil && p.endTime == 0 {
			p.endTime = p.duration()
		}
		return nil
	})
}

// LoadBuffer задает буфер для режима воспроизведения из памяти.
func (p *Player) LoadBuffer(buf *audio.Float32Buffer) error {
	return p.do(func() error {
		p.buffer = buf
		if buf != nil && p.endTime == 0 {
			p.endTime = p.duration()
		}
		return nil
	})
}

// duration возвращает длину загруженного медиа в секундах.
func (p *Player) duration() float64 {
	if p.opts.Buffering == BufferingAlways && p.buffer != nil && p.buffer.Format != nil {
		return framesToSeconds(bufferFrames(p.buffer), p.buffer.Format.SampleRate)
	}
	if p.file != nil {
		return framesToSeconds(p.file.Length(), p.file.Format().SampleRate)
	}
	return 0
}

// PlayParams содержит настройки для быстрого запуска через PlaySoundWithParams.
type PlayParams struct {
	Volume   float64 // Громкость (0..1]
	Loop     bool    // Зацикливание трека
	FadeIn   float64 // Длительность появления в секундах
	FadeOut  float64 // Длительность затухания в секундах
	Position float64 // С какой секунды начать
	Rate     float64 // Скорость воспроизведения
	Buffered bool    // Декодировать файл в память целиком
}

var (
	activeSounds = make(map[*Player]struct{})
	activeMu     sync.Mutex
)

// PlaySound — упрощенная функция для разового проигрывания на полной громкости.
func PlaySound(filePath string) (*Player, error) {
	return PlaySoundWithParams(filePath, PlayParams{
		Volume:  1,
		FadeOut: 0.5,
	})
}

// PlaySoundWithParams открывает файл, создает для него плеер на движке oto
// и запускает воспроизведение. Плеер закрывается сам, когда трек доиграет.
func PlaySoundWithParams(filePath string, params PlayParams) (*Player, error) {
	params = validateParams(params)
	logger := log.Logger

	opts := Options{
		Fade: Fade{
			MaximumGain: params.Volume,
			InTime:      params.FadeIn,
			OutTime:     params.FadeOut,
		},
		Looping:              params.Loop,
		Rate:                 params.Rate,
		UseCompletionHandler: true,
	}

	var (
		file File
		buf  *audio.Float32Buffer
		err  error
	)
	if params.Buffered {
		opts.Buffering = BufferingAlways
		buf, err = LoadBuffer(filePath)
	} else {
		file, err = OpenFile(filePath)
	}
	if err != nil {
		return nil, err
	}

	sampleRate := 0
	if buf != nil {
		sampleRate = buf.Format.SampleRate
	} else {
		sampleRate = file.Format().SampleRate
	}
	eng, err := NewOtoEngine(sampleRate, logger)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, err
	}

	var p *Player
	opts.OnCompletion = func() { go p.Close() }
	p = New(eng, opts, logger)

	if buf != nil {
		err = p.LoadBuffer(buf)
	} else {
		err = p.Load(file)
	}
	if err == nil {
		err = p.PlayRange(params.Position, 0)
	}
	if err != nil {
		p.Close()
		return nil, err
	}

	activeMu.Lock()
	activeSounds[p] = struct{}{}
	activeMu.Unlock()

	return p, nil
}

// StopAll мгновенно останавливает все проигрываемые в данный момент звуки.
func StopAll() {
	activeMu.Lock()
	players := make([]*Player, 0, len(activeSounds))
	for p := range activeSounds {
		players = append(players, p)
	}
	activeMu.Unlock()

	for _, p := range players {
		p.Stop()
	}
}

package fadeplay

import (
	"fmt"
	"time"

	"github.com/go-audio/audio"
)

// AudioTime — момент на часах движка. Задается номером сэмпла (часы движка
// в выходных кадрах), временем хоста или обоими сразу. Нулевое значение
// означает «сейчас».
type AudioTime struct {
	SampleTime int64
	HostTime   time.Time

	sampleValid bool
	hostValid   bool
}

// AtSample возвращает момент по часам движка.
func AtSample(sample int64) AudioTime {
	return AudioTime{SampleTime: sample, sampleValid: true}
}

// AtHost возвращает момент по времени хоста.
func AtHost(t time.Time) AudioTime {
	return AudioTime{HostTime: t, hostValid: true}
}

// NewAudioTime возвращает момент, для которого известны и сэмпл, и время хоста.
func NewAudioTime(sample int64, host time.Time) AudioTime {
	return AudioTime{SampleTime: sample, HostTime: host, sampleValid: true, hostValid: true}
}

func (t AudioTime) IsSampleTimeValid() bool { return t.sampleValid }
func (t AudioTime) IsHostTimeValid() bool   { return t.hostValid }

// IsValid сообщает, задан ли момент вообще. Невалидный момент — «сейчас».
func (t AudioTime) IsValid() bool { return t.sampleValid || t.hostValid }

// Offset сдвигает момент на seconds секунд по времени хоста.
func (t AudioTime) Offset(seconds float64) AudioTime {
	if !t.hostValid {
		return t
	}
	t.HostTime = t.HostTime.Add(time.Duration(seconds * float64(time.Second)))
	t.sampleValid = false
	return t
}

// sampleTimeOn переводит момент в номер сэмпла на часах движка, используя
// ref (текущее время рендера) как опорную пару «сэмпл ↔ хост».
func (t AudioTime) sampleTimeOn(ref AudioTime, sampleRate float64) int64 {
	switch {
	case t.sampleValid:
		return t.SampleTime
	case t.hostValid && ref.hostValid:
		return ref.SampleTime + int64(t.HostTime.Sub(ref.HostTime).Seconds()*sampleRate)
	default:
		return ref.SampleTime
	}
}

// BufferOptions — флаги постановки буфера в очередь движка.
type BufferOptions uint8

const (
	BufferInterrupts BufferOptions = 1 << iota // Прервать то, что играет сейчас
	BufferLoops                                // Играть буфер по кругу
)

// Has сообщает, установлен ли флаг.
func (o BufferOptions) Has(flag BufferOptions) bool { return o&flag != 0 }

// rateAdjusted переводит запрошенный момент на временную шкалу источника,
// которая при скорости rate идет в rate раз быстрее выходных часов.
// Масштабируется абсолютное время, а не только задержка: движок делит его
// обратно на rate (см. Engine).
func rateAdjusted(at AudioTime, host time.Time, rate float64, now AudioTime, sampleRate float64) AudioTime {
	if rate == 1 || rate <= 0 || !at.IsValid() {
		return at
	}
	if host.IsZero() {
		host = time.Now()
	}

	var frames float64
	if at.sampleValid {
		frames = float64(at.SampleTime) * rate
	} else {
		frames = float64(at.sampleTimeOn(now, sampleRate)) * rate
	}
	return NewAudioTime(int64(frames), host)
}

// schedulePlayer ставит в очередь движка буфер или участок файла.
// scheduled=false без ошибки означает, что играть нечего.
func (p *Player) schedulePlayer(seg Segment, at AudioTime, host time.Time) (frames int64, scheduled bool, err error) {
	sampleRate := float64(p.engine.OutputFormat().SampleRate)
	scheduleTime := rateAdjusted(at, host, seg.Rate, p.engine.RenderTime(), sampleRate)

	gen := p.generation + 1
	onComplete := p.completionCallback(gen)

	if p.opts.Buffering == BufferingAlways {
		frames, scheduled, err = p.scheduleBuffer(seg, scheduleTime, onComplete)
	} else {
		frames, scheduled, err = p.scheduleSegment(seg, scheduleTime, onComplete)
	}
	if err != nil || !scheduled {
		return 0, false, err
	}

	p.generation = gen
	return frames, true, nil
}

// scheduleBuffer играет заранее декодированный буфер из памяти.
// Если выделение короче буфера, в очередь идет срез буфера без копирования.
func (p *Player) scheduleBuffer(seg Segment, at AudioTime, onComplete func()) (int64, bool, error) {
	if p.buffer == nil || p.buffer.Format == nil {
		p.logger.Warn().Err(ErrMissingSource).Msg("no buffer loaded, nothing scheduled")
		return 0, false, nil
	}

	buf, err := bufferRange(p.buffer, seg)
	if err != nil {
		p.logger.Warn().Err(err).Msg("unable to schedule buffer")
		return 0, false, err
	}

	if p.engine.OutputFormat() != *buf.Format {
		p.logger.Debug().
			Int("channels", buf.Format.NumChannels).
			Int("sample_rate", buf.Format.SampleRate).
			Msg("buffer format differs from output, reinitializing")
		p.engine.Initialize(*buf.Format)
	}

	opts := BufferInterrupts
	if p.opts.Looping && p.opts.Buffering == BufferingAlways {
		opts |= BufferLoops
	}

	if err := p.engine.ScheduleBuffer(buf, at, opts, onComplete); err != nil {
		return 0, false, fmt.Errorf("schedule buffer: %w", err)
	}

	frames := bufferFrames(buf)
	p.engine.Prepare(frames)
	return frames, true, nil
}

// scheduleSegment играет участок файла прямо с диска.
func (p *Player) scheduleSegment(seg Segment, at AudioTime, onComplete func()) (int64, bool, error) {
	f := p.file
	if f == nil {
		p.logger.Warn().Err(ErrMissingSource).Msg("no file loaded, nothing scheduled")
		return 0, false, nil
	}

	nativeRate := f.Format().SampleRate
	length := f.Length()

	startFrame := secondsToFrames(seg.StartTime, nativeRate)
	endFrame := secondsToFrames(seg.EndTime, nativeRate)
	if endFrame == 0 {
		endFrame = length
	}

	totalFrames := (length - startFrame) - (length - endFrame)
	if totalFrames <= 0 {
		p.logger.Warn().
			Int64("total_frames", totalFrames).
			Int64("length", length).
			Msg("unable to schedule file")
		return 0, false, fmt.Errorf("%w: %d frames to play (start %d, end %d, length %d)",
			ErrInvalidRange, totalFrames, startFrame, endFrame, length)
	}

	if err := p.engine.ScheduleSegment(f, startFrame, totalFrames, at, onComplete); err != nil {
		return 0, false, fmt.Errorf("schedule segment: %w", err)
	}

	p.engine.Prepare(totalFrames)
	return totalFrames, true, nil
}

// bufferRange возвращает часть буфера между seg.StartTime и seg.EndTime.
func bufferRange(buf *audio.Float32Buffer, seg Segment) (*audio.Float32Buffer, error) {
	length := bufferFrames(buf)
	rate := buf.Format.SampleRate
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}

	startFrame := secondsToFrames(seg.StartTime, rate)
	endFrame := secondsToFrames(seg.EndTime, rate)
	if endFrame == 0 || endFrame > length {
		endFrame = length
	}
	if startFrame == 0 && endFrame == length {
		return buf, nil
	}
	if startFrame < 0 || endFrame-startFrame <= 0 {
		return nil, fmt.Errorf("%w: buffer frames %d..%d of %d", ErrInvalidRange, startFrame, endFrame, length)
	}

	return &audio.Float32Buffer{
		Format:         buf.Format,
		Data:           buf.Data[startFrame*int64(channels) : endFrame*int64(channels)],
		SourceBitDepth: buf.SourceBitDepth,
	}, nil
}

// bufferFrames возвращает число кадров в буфере.
func bufferFrames(buf *audio.Float32Buffer) int64 {
	if buf == nil || buf.Format == nil {
		return 0
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	return int64(len(buf.Data) / channels)
}

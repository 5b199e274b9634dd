package fadeplay

import (
	"io"

	"github.com/go-audio/audio"
	pcm "github.com/ik5/audpbx/audio"
)

// bufferSource читает PCM из буфера в памяти.
type bufferSource struct {
	buf *audio.Float32Buffer
	pos int
}

func newBufferSource(buf *audio.Float32Buffer) *bufferSource {
	return &bufferSource{buf: buf}
}

func (b *bufferSource) SampleRate() int { return b.buf.Format.SampleRate }
func (b *bufferSource) Channels() int   { return b.buf.Format.NumChannels }
func (b *bufferSource) BufSize() int    { return 4096 }
func (b *bufferSource) Close() error    { return nil }

func (b *bufferSource) ReadSamples(dst []float32) (int, error) {
	if b.pos >= len(b.buf.Data) {
		return 0, io.EOF
	}
	n := copy(dst, b.buf.Data[b.pos:])
	b.pos += n
	return n, nil
}

// frameLimiter обрезает поток после заданного числа кадров.
type frameLimiter struct {
	pcm.Source
	left int64 // Осталось сэмплов (не кадров)
}

func limitFrames(src pcm.Source, frames int64) pcm.Source {
	return &frameLimiter{Source: src, left: frames * int64(src.Channels())}
}

func (l *frameLimiter) ReadSamples(dst []float32) (int, error) {
	if l.left <= 0 {
		return 0, io.EOF
	}
	if int64(len(dst)) > l.left {
		dst = dst[:l.left]
	}
	n, err := l.Source.ReadSamples(dst)
	l.left -= int64(n)
	return n, err
}

// varispeed выдает источник за более быстрый (или медленный), чтобы
// ресемплер прочитал его в rate раз быстрее.
type varispeed struct {
	pcm.Source
	rate float64
}

func (v *varispeed) SampleRate() int {
	return int(float64(v.Source.SampleRate())*v.rate + 0.5)
}

// channelMapper приводит число каналов: моно размножается,
// лишние каналы отбрасываются.
type channelMapper struct {
	pcm.Source
	channels int
	tmp      []float32
}

func (m *channelMapper) Channels() int { return m.channels }

func (m *channelMapper) ReadSamples(dst []float32) (int, error) {
	in := m.Source.Channels()
	frames := len(dst) / m.channels
	if cap(m.tmp) < frames*in {
		m.tmp = make([]float32, frames*in)
	}
	tmp := m.tmp[:frames*in]

	n, err := m.Source.ReadSamples(tmp)
	got := n / in
	for f := 0; f < got; f++ {
		for c := 0; c < m.channels; c++ {
			src := c
			if src >= in {
				src = in - 1
			}
			dst[f*m.channels+c] = tmp[f*in+src]
		}
	}
	return got * m.channels, err
}

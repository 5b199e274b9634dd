package fadeplay

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	pcm "github.com/ik5/audpbx/audio"
	"github.com/ik5/audpbx/formats/aiff"
	pbxmp3 "github.com/ik5/audpbx/formats/mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/youpy/go-wav"
)

const tempPrefix = "audio-track-"

// getReadSeeker определяет источник аудио: локальный путь или URL.
// Если передан URL, файл скачивается во временный файл, чтобы по нему можно было перематывать.
func getReadSeeker(path string) (*os.File, io.Closer, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		client := &http.Client{Timeout: 60 * time.Second}
		resp, err := client.Get(path)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("http error: %s", resp.Status)
		}

		tempFile, err := os.CreateTemp("", tempPrefix+"*.tmp")
		if err != nil {
			return nil, nil, fmt.Errorf("create temp file: %w", err)
		}

		if _, err = io.Copy(tempFile, resp.Body); err != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
			return nil, nil, fmt.Errorf("download track: %w", err)
		}

		// Возвращаемся в начало файла для чтения декодером
		if _, err = tempFile.Seek(0, io.SeekStart); err != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
			return nil, nil, err
		}

		// Обертка удаляет файл при закрытии
		return tempFile, &tempFileCloser{tempFile}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// tempFileCloser нужен, чтобы удалить файл с диска после проигрывания
type tempFileCloser struct {
	f *os.File
}

func (t *tempFileCloser) Close() error {
	filePath := t.f.Name()
	t.f.Close()

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("remove temp file %s: %w", filePath, err)
	}
	return nil
}

// CleanUpTempFiles удаляет временные файлы, ранее созданные библиотекой.
func CleanUpTempFiles() {
	tempDir := os.TempDir()
	files, err := os.ReadDir(tempDir)
	if err != nil {
		return
	}

	for _, file := range files {
		if !file.IsDir() && strings.HasPrefix(file.Name(), tempPrefix) && strings.HasSuffix(file.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(tempDir, file.Name()))
		}
	}
}

type container int

const (
	containerUnknown container = iota
	containerMP3
	containerWAV
	containerOgg
	containerAIFF
)

// sniff определяет формат по первым байтам потока и возвращает указатель в начало.
func sniff(rs io.ReadSeeker) (container, error) {
	head := make([]byte, 12)
	n, err := io.ReadFull(rs, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return containerUnknown, err
	}
	head = head[:n]
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return containerUnknown, err
	}

	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return containerWAV, nil
	case bytes.HasPrefix(head, []byte("OggS")):
		return containerOgg, nil
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("FORM")) &&
		(bytes.Equal(head[8:12], []byte("AIFF")) || bytes.Equal(head[8:12], []byte("AIFC"))):
		return containerAIFF, nil
	default:
		// У MP3 нет надежной сигнатуры: решает декодер
		return containerMP3, nil
	}
}

// OpenFile открывает файл (или URL) для воспроизведения участками.
func OpenFile(path string) (File, error) {
	f, closer, err := getReadSeeker(path)
	if err != nil {
		return nil, err
	}

	kind, err := sniff(f)
	if err != nil {
		closer.Close()
		return nil, err
	}

	var file File
	switch kind {
	case containerWAV:
		file, err = openWAV(f, closer)
	case containerOgg:
		file, err = openOgg(f, closer)
	case containerAIFF:
		file, err = openAIFF(f, closer)
	default:
		file, err = openMP3(f, closer)
	}
	if err != nil {
		closer.Close()
		ext := strings.ToLower(filepath.Ext(path))
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, ext, err)
	}
	return file, nil
}

// mp3File читает MP3 через go-mp3. Декодер всегда отдает 16 бит стерео.
type mp3File struct {
	dec    *mp3.Decoder
	closer io.Closer
}

const mp3FrameBytes = 4

func openMP3(rs io.ReadSeeker, closer io.Closer) (*mp3File, error) {
	dec, err := mp3.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	return &mp3File{dec: dec, closer: closer}, nil
}

func (m *mp3File) Format() audio.Format {
	return audio.Format{NumChannels: 2, SampleRate: m.dec.SampleRate()}
}

func (m *mp3File) Length() int64 { return m.dec.Length() / mp3FrameBytes }

// Stream перематывает общий декодер. Одновременно читать можно только один поток.
func (m *mp3File) Stream(startFrame int64) (pcm.Source, error) {
	if _, err := m.dec.Seek(startFrame*mp3FrameBytes, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek mp3: %w", err)
	}
	return &int16Source{r: m.dec, sampleRate: m.dec.SampleRate(), channels: 2}, nil
}

func (m *mp3File) Close() error { return m.closer.Close() }

// int16Source переводит 16-битный PCM little-endian в float32.
type int16Source struct {
	r          io.Reader
	sampleRate int
	channels   int
	buf        []byte
}

func (s *int16Source) SampleRate() int { return s.sampleRate }
func (s *int16Source) Channels() int   { return s.channels }
func (s *int16Source) BufSize() int    { return 4096 }
func (s *int16Source) Close() error    { return nil }

func (s *int16Source) ReadSamples(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	n, err := io.ReadFull(s.r, s.buf[:need])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(s.buf[2*i:]))) / 32768
	}
	return samples, err
}

// wavFile читает WAV через youpy/go-wav.
type wavFile struct {
	ra       io.ReaderAt
	size     int64
	format   audio.Format
	bitDepth int
	length   int64
	closer   io.Closer
}

func openWAV(f *os.File, closer io.Closer) (*wavFile, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r := wav.NewReader(io.NewSectionReader(f, 0, info.Size()))
	format, err := r.Format()
	if err != nil {
		return nil, err
	}
	if format.NumChannels == 0 || format.NumChannels > 2 || format.SampleRate == 0 {
		return nil, fmt.Errorf("wav layout %d channels at %d Hz", format.NumChannels, format.SampleRate)
	}
	dur, err := r.Duration()
	if err != nil {
		return nil, err
	}

	return &wavFile{
		ra:   f,
		size: info.Size(),
		format: audio.Format{
			NumChannels: int(format.NumChannels),
			SampleRate:  int(format.SampleRate),
		},
		bitDepth: int(format.BitsPerSample),
		length:   int64(dur.Seconds()*float64(format.SampleRate) + 0.5),
		closer:   closer,
	}, nil
}

func (w *wavFile) Format() audio.Format { return w.format }
func (w *wavFile) Length() int64        { return w.length }
func (w *wavFile) Close() error         { return w.closer.Close() }

// Stream открывает независимый читатель и пропускает startFrame кадров.
func (w *wavFile) Stream(startFrame int64) (pcm.Source, error) {
	r := wav.NewReader(io.NewSectionReader(w.ra, 0, w.size))
	s := &wavSource{r: r, format: w.format}

	for left := startFrame; left > 0; {
		chunk := uint32(min(left, 4096))
		samples, err := r.ReadSamples(chunk)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("skip to frame %d: %w", startFrame, err)
		}
		if len(samples) == 0 {
			break
		}
		left -= int64(len(samples))
	}
	return s, nil
}

type wavSource struct {
	r       *wav.Reader
	format  audio.Format
	pending []wav.Sample
}

func (s *wavSource) SampleRate() int { return s.format.SampleRate }
func (s *wavSource) Channels() int   { return s.format.NumChannels }
func (s *wavSource) BufSize() int    { return 4096 }
func (s *wavSource) Close() error    { return nil }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	channels := s.format.NumChannels
	frames := len(dst) / channels

	if len(s.pending) == 0 {
		samples, err := s.r.ReadSamples(uint32(max(frames, 1)))
		if len(samples) == 0 {
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		s.pending = samples
	}

	n := min(frames, len(s.pending))
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			dst[i*channels+c] = float32(s.r.FloatValue(s.pending[i], uint(c)))
		}
	}
	s.pending = s.pending[n:]
	return n * channels, nil
}

// oggFile читает Ogg Vorbis через oggvorbis.
type oggFile struct {
	ra     io.ReaderAt
	size   int64
	format audio.Format
	length int64
	closer io.Closer
}

func openOgg(f *os.File, closer io.Closer) (*oggFile, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	length, format, err := oggvorbis.GetLength(io.NewSectionReader(f, 0, info.Size()))
	if err != nil {
		return nil, err
	}

	return &oggFile{
		ra:     f,
		size:   info.Size(),
		format: audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		length: length,
		closer: closer,
	}, nil
}

func (o *oggFile) Format() audio.Format { return o.format }
func (o *oggFile) Length() int64        { return o.length }
func (o *oggFile) Close() error         { return o.closer.Close() }

func (o *oggFile) Stream(startFrame int64) (pcm.Source, error) {
	r, err := oggvorbis.NewReader(io.NewSectionReader(o.ra, 0, o.size))
	if err != nil {
		return nil, err
	}
	if startFrame > 0 {
		if err := r.SetPosition(startFrame); err != nil {
			return nil, fmt.Errorf("seek ogg to frame %d: %w", startFrame, err)
		}
	}
	return &oggSource{r: r}, nil
}

type oggSource struct {
	r *oggvorbis.Reader
}

func (s *oggSource) SampleRate() int { return s.r.SampleRate() }
func (s *oggSource) Channels() int   { return s.r.Channels() }
func (s *oggSource) BufSize() int    { return 4096 }
func (s *oggSource) Close() error    { return nil }

func (s *oggSource) ReadSamples(dst []float32) (int, error) {
	return s.r.Read(dst)
}

// memFile — файл, целиком декодированный в память. Так открываются
// форматы, у декодеров которых нет перемотки.
type memFile struct {
	buf    *audio.Float32Buffer
	closer io.Closer
}

func (m *memFile) Format() audio.Format { return *m.buf.Format }
func (m *memFile) Length() int64        { return bufferFrames(m.buf) }
func (m *memFile) Close() error         { return m.closer.Close() }

func (m *memFile) Stream(startFrame int64) (pcm.Source, error) {
	if startFrame < 0 || startFrame > m.Length() {
		return nil, fmt.Errorf("%w: frame %d of %d", ErrInvalidRange, startFrame, m.Length())
	}
	channels := int64(m.buf.Format.NumChannels)
	return newBufferSource(&audio.Float32Buffer{
		Format: m.buf.Format,
		Data:   m.buf.Data[startFrame*channels:],
	}), nil
}

func openAIFF(rs io.ReadSeeker, closer io.Closer) (*memFile, error) {
	buf, err := decodeAll(aiff.Decoder{}, rs)
	if err != nil {
		return nil, err
	}
	return &memFile{buf: buf, closer: closer}, nil
}

// decodeAll вычитывает источник декодера audpbx целиком.
func decodeAll(dec pcm.Decoder, r io.Reader) (*audio.Float32Buffer, error) {
	src, err := dec.Decode(r)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return readAll(src)
}

func readAll(src pcm.Source) (*audio.Float32Buffer, error) {
	channels := src.Channels()
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	chunk := make([]float32, max(src.BufSize(), 1024)/channels*channels)
	var data []float32
	for {
		n, err := src.ReadSamples(chunk)
		data = append(data, chunk[:n]...)
		if errors.Is(err, io.EOF) || (n == 0 && err == nil) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return &audio.Float32Buffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: src.SampleRate()},
		Data:           data,
		SourceBitDepth: 16,
	}, nil
}

// LoadBuffer целиком декодирует файл в память для режима BufferingAlways.
func LoadBuffer(path string) (*audio.Float32Buffer, error) {
	f, closer, err := getReadSeeker(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	kind, err := sniff(f)
	if err != nil {
		return nil, err
	}

	var buf *audio.Float32Buffer
	switch kind {
	case containerWAV:
		buf, err = loadWAV(f)
	case containerOgg:
		buf, err = loadOgg(f)
	case containerAIFF:
		buf, err = decodeAll(aiff.Decoder{}, f)
	default:
		buf, err = decodeAll(pbxmp3.Decoder{}, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}
	return buf, nil
}

// loadWAV декодирует WAV любой разрядности через go-audio/wav.
func loadWAV(rs io.ReadSeeker) (*audio.Float32Buffer, error) {
	dec := gowav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	ints, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	return intToFloat(ints, int(dec.BitDepth)), nil
}

// intToFloat нормирует целые сэмплы в [-1, 1].
func intToFloat(buf *audio.IntBuffer, bitDepth int) *audio.Float32Buffer {
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	data := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if bitDepth == 8 {
			// 8-битный WAV беззнаковый
			v -= 128
		}
		data[i] = float32(v) / scale
	}
	format := *buf.Format
	return &audio.Float32Buffer{Format: &format, Data: data, SourceBitDepth: bitDepth}
}

func loadOgg(r io.Reader) (*audio.Float32Buffer, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &audio.Float32Buffer{
		Format: &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:   data,
	}, nil
}

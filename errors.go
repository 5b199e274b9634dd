package fadeplay

import "errors"

var (
	// ErrInvalidRange — участок для воспроизведения пуст или перевернут.
	ErrInvalidRange = errors.New("invalid playback range")
	// ErrMissingSource — не загружен ни буфер, ни файл. Play такую ошибку
	// не возвращает: отсутствие источника означает «нечего играть».
	ErrMissingSource = errors.New("no source loaded")
	// ErrNotPlaying — операция допустима только во время воспроизведения.
	ErrNotPlaying = errors.New("player is not playing")
	// ErrNotPaused — Resume без предшествующей паузы.
	ErrNotPaused = errors.New("player is not paused")
	// ErrClosed — плеер уже закрыт.
	ErrClosed = errors.New("player closed")
	// ErrUnsupportedFormat — содержимое файла не распознано.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

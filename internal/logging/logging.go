package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup настраивает zerolog для процесса. Логи пишутся в stderr,
// чтобы не мешать выводу команд.
func Setup(environment string, verbose bool) zerolog.Logger {
	return SetupWithWriter(environment, verbose, os.Stderr)
}

// SetupWithWriter настраивает zerolog с выводом в out.
func SetupWithWriter(environment string, verbose bool, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if environment == "development" || verbose {
		level = zerolog.DebugLevel
	}

	var writer io.Writer = out
	if f, ok := out.(*os.File); ok && environment != "production" {
		writer = zerolog.ConsoleWriter{Out: f}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}

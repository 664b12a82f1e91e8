package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var root zerolog.Logger

func init() {
	writer := zerolog.MultiLevelWriter(
		SpecificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			},
			Levels: []zerolog.Level{
				zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel,
			},
		},
		SpecificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			},
			Levels: []zerolog.Level{
				zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel,
			},
		},
	)
	root = zerolog.New(writer).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// SetVerbose toggles debug-level output for the whole process.
func SetVerbose(verbose bool) {
	if verbose {
		root = root.Level(zerolog.DebugLevel)
		return
	}
	root = root.Level(zerolog.InfoLevel)
}

// Root returns the process-wide logger.
func Root() zerolog.Logger {
	return root
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

// multilevel writer from https://stackoverflow.com/questions/76858037/how-to-use-zerolog-to-filter-info-logs-to-stdout-and-error-logs-to-stderr
type SpecificLevelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w SpecificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}

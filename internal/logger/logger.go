// Package logger configures the zerolog logger used throughout a build.
//
// The CLI only ever asks for two levels ("INFO" with --verbose, "ERROR"
// otherwise), but the level names of the bundle build API are all
// accepted so that callers embedding the packer can ask for more.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ParseLevel maps a level name to a zerolog level. Names are matched
// case-insensitively; unknown names fall back to ErrorLevel.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.ErrorLevel
	}
}

// New returns a console logger writing to w at the given level name.
// A nil w means stdout.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	out := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "2006-01-02 15:04:05"}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// Setup builds the process logger writing to w and installs it as the
// default context logger, so zerolog.Ctx on a context without a logger
// still honours the requested level.
func Setup(w io.Writer, level string) zerolog.Logger {
	l := New(w, level)
	zerolog.DefaultContextLogger = &l
	return l
}

// Package zlog holds the process-wide structured logger.
package zlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is usable before Init; it then writes JSON at info level.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures Logger. An unparseable level falls back to info.
func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(lvl)
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Discard silences Logger. Tests call it to keep output clean.
func Discard() {
	Logger = zerolog.Nop()
}

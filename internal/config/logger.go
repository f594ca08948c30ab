package config

import (
	"io"

	"github.com/rs/zerolog"
)

// NewLogger builds the root JSON logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, level, version string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	return zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", "callguard").
		Str("version", version).
		Logger()
}

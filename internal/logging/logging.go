// Package logging holds the structured logging conventions shared by the
// packages of this module.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Canonical field names for structured log entries.
const (
	FieldComponent = "component"
	FieldUUID      = "uuid"
	FieldJobUUID   = "job_uuid"
	FieldEvent     = "event"
	FieldCommand   = "command"
	FieldReply     = "reply"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldDest      = "dest"
	FieldMode      = "mode"
	FieldRemote    = "remote"
	FieldCause     = "cause"
)

// Component returns a child of base annotated with the given component name.
// If base == nil, the result is a disabled logger.
func Component(base *zerolog.Logger, name string) zerolog.Logger {
	if base == nil {
		return zerolog.Nop()
	}
	return base.With().Str(FieldComponent, name).Logger()
}

// Config describes a process logger.
type Config struct {
	Level  string    // e.g., "debug", "info"; default "info"
	Pretty bool      // write human-readable console output
	Output io.Writer // default os.Stderr
}

// New constructs a process logger from cfg.
func New(cfg Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		lv, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
		level = lv
	}
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

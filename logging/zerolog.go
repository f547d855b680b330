package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ZerologAdapter forwards runtime log records to a zerolog.Logger. Selected
// through the CLI's --log-format flag (or AGENT_LOG_FORMAT) for hosts
// standardized on zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps the given zerolog logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Debug forwards a debug-level record.
func (z *ZerologAdapter) Debug(msg string, keyvals ...any) { z.emit(z.logger.Debug(), msg, keyvals) }

// Info forwards an info-level record.
func (z *ZerologAdapter) Info(msg string, keyvals ...any) { z.emit(z.logger.Info(), msg, keyvals) }

// Warn forwards a warn-level record.
func (z *ZerologAdapter) Warn(msg string, keyvals ...any) { z.emit(z.logger.Warn(), msg, keyvals) }

// Error forwards an error-level record.
func (z *ZerologAdapter) Error(msg string, keyvals ...any) { z.emit(z.logger.Error(), msg, keyvals) }

func (z *ZerologAdapter) emit(ev *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Msg(msg)
}

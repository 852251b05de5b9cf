package log

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type elapsed struct {
	start time.Time
	key   string
}

func (v elapsed) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddDuration(v.key, time.Since(v.start).Round(time.Millisecond))
	return nil
}

// Elapsed reports the time passed since start, evaluated when the entry is written.
func Elapsed(key string, start time.Time) zap.Field {
	return zap.Inline(elapsed{
		start: start,
		key:   key,
	})
}

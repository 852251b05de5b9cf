package log

import "go.uber.org/zap"

var (
	// Internal marks the error severe, caused by a bug rather than the environment.
	Internal = zap.String("severe_error", "internal")
)

// Package log holds small zap helpers shared by the storage access
// layer.
package log

import (
	"go.uber.org/zap"
)

// Default returns logger, falling back to the global zap logger when
// logger is nil. Components accept an optional logger through their
// config and normalize it through Default once at construction.
func Default(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.L()
	}

	return logger
}

// For scopes logger to one storage operation
func For(logger *zap.Logger, operation string) *zap.Logger {
	return Default(logger).With(zap.String("operation", operation))
}

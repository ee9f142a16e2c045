// Package cleaner is a registry of cleanup actions run at the end of an
// isolated execution scope, such as a request. Long-lived caches
// register here so stale state cannot leak across scopes.
package cleaner

import (
	"sync"

	"go.uber.org/zap"
)

// Cleaner collects cleanup actions. The zero value is not usable; use New.
type Cleaner struct {
	mu         sync.Mutex
	logger     *zap.Logger
	cleanables []func()
}

// New creates an empty Cleaner. A nil logger falls back to the global
// zap logger.
func New(logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.L()
	}

	return &Cleaner{logger: logger}
}

// Add registers a cleanup action
func (cleaner *Cleaner) Add(fn func()) {
	cleaner.mu.Lock()
	defer cleaner.mu.Unlock()

	cleaner.cleanables = append(cleaner.cleanables, fn)
}

// CleanAll runs and removes every registered action, most recent first.
// A panicking action is logged and does not stop the rest.
func (cleaner *Cleaner) CleanAll() {
	cleaner.mu.Lock()
	cleanables := cleaner.cleanables
	cleaner.cleanables = nil
	cleaner.mu.Unlock()

	for i := len(cleanables) - 1; i >= 0; i-- {
		cleaner.run(cleanables[i])
	}
}

func (cleaner *Cleaner) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			cleaner.logger.Warn("cleanup action panicked", zap.Any("panic", r))
		}
	}()

	fn()
}

// Package recovery provides panic recovery utilities for connection-handling
// goroutines.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/casept/socks5go/internal/logging"
)

// RecoverWithLog recovers from panics and logs them with the provided logger.
// Use this with defer at the start of goroutines to prevent crashes and log diagnostics.
//
// Example:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "socks5d.handleConnection")
//	    // ... per-connection work
//	}()
func RecoverWithLog(logger *slog.Logger, component string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			logging.KeyComponent, component,
			logging.KeyError, fmt.Sprintf("%v", r),
			logging.KeyStack, string(debug.Stack()))
	}
}

// RecoverWithCallback recovers from panics, logs them, and calls the optional callback.
// The callback can be used for cleanup or connection-teardown bookkeeping.
func RecoverWithCallback(logger *slog.Logger, component string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			logging.KeyComponent, component,
			logging.KeyError, fmt.Sprintf("%v", r),
			logging.KeyStack, string(debug.Stack()))
		if callback != nil {
			callback(r)
		}
	}
}

// RecoverNoop silently recovers from panics without logging.
// Use only in tests or when logging is not available.
func RecoverNoop() {
	recover()
}

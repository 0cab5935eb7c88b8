// Package goroutine provides panic recovery and leak detection helpers
// for the background goroutines of the defense layer.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// stackBufSize is the buffer size for stack trace collection.
const stackBufSize = 4096

// Recover recovers from a panic in a goroutine and logs it. Intended as
// a deferred call at the top of every background goroutine. Falls back
// to stderr when the logger is nil so the panic is never lost.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}
	buf := make([]byte, stackBufSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, string(buf[:n]))
}

// Package internal holds the small ambient pieces the dispatch core leans
// on everywhere: a pluggable logger and a context-aware sleep used for
// retry backoff and lazy topology reload.
package internal

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// Logging is the minimal logger surface the core calls into. Callers that
// want their own structured logger wire it up via SetLogger.
type Logging interface {
	Printf(ctx context.Context, format string, v ...interface{})
}

type defaultLogger struct {
	log *log.Logger
}

func (l *defaultLogger) Printf(ctx context.Context, format string, v ...interface{}) {
	_ = ctx
	l.log.Output(2, fmt.Sprintf(format, v...))
}

// Logger is the package-wide logging sink. Replace it with SetLogger.
var Logger Logging = &defaultLogger{
	log: log.New(os.Stderr, "redisson: ", log.LstdFlags),
}

// SetLogger overrides the default logger.
func SetLogger(logger Logging) {
	Logger = logger
}

// Sleep blocks for d or returns ctx.Err() if ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

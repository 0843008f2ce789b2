package shell

import (
	"log/slog"
	"sync"
	"time"
)

// rateLimitedLogger emits at most one warning per interval. Suppressed
// warnings are counted and reported on the next one that gets through.
type rateLimitedLogger struct {
	log      *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	lastAt  time.Time
	dropped int
}

// newRateLimitedLogger writes to log, or slog.Default when log is nil.
func newRateLimitedLogger(log *slog.Logger, interval time.Duration) *rateLimitedLogger {
	if log == nil {
		log = slog.Default()
	}
	return &rateLimitedLogger{log: log, interval: interval}
}

func (l *rateLimitedLogger) Warn(msg string, args ...any) {
	if l == nil {
		return
	}
	now := time.Now()

	l.mu.Lock()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.dropped++
		l.mu.Unlock()
		return
	}
	dropped := l.dropped
	l.lastAt, l.dropped = now, 0
	l.mu.Unlock()

	if dropped > 0 {
		args = append(args, "suppressed", dropped)
	}
	l.log.Warn(msg, args...)
}

package backup

import (
	"log/slog"
	"time"
)

type Option func(*Engine)

func WithCommandRunner(run CommandRunner) Option {
	return func(e *Engine) {
		e.run = run
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

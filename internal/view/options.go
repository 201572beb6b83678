package view

import (
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/metrics"
)

// Hooks are called on the view's loop goroutine and must not block.
type Hooks struct {
	// OnChange receives every new snapshot.
	OnChange func(Snapshot)
	// OnError receives read failures. Write failures are returned to the
	// caller instead.
	OnError func(error)
}

// Option configures a View.
type Option func(*View)

// WithLogger sets the view logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(v *View) {
		v.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(v *View) {
		v.metrics = r
	}
}

// WithHooks sets the change and error callbacks.
func WithHooks(h Hooks) Option {
	return func(v *View) {
		v.hooks = h
	}
}

// WithRefreshDelay sets the debounce delay of corrective refreshes.
func WithRefreshDelay(d time.Duration) Option {
	return func(v *View) {
		v.refreshDelay = d
	}
}

// WithLocation sets the facility time zone used to roll live windows.
func WithLocation(loc *time.Location) Option {
	return func(v *View) {
		if loc != nil {
			v.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *View) {
		v.now = now
	}
}

package reconcile

import (
	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
	"github.com/chrissnell/prodtimeline/internal/metrics"
)

// Adapter wraps Reduce with logging and metrics for use by a view.
type Adapter struct {
	logger  *zap.SugaredLogger
	metrics metrics.Recorder
}

// NewAdapter returns an adapter. Nil arguments fall back to the package
// logger and to discarding metrics.
func NewAdapter(logger *zap.SugaredLogger, rec metrics.Recorder) *Adapter {
	if logger == nil {
		logger = log.Named("reconcile")
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Adapter{logger: logger, metrics: rec}
}

// Fold reduces one event into s.
func (a *Adapter) Fold(s State, e events.Event) (State, Outcome) {
	next, outcome := Reduce(s, e)
	a.metrics.EventReduced(string(e.EventName()), outcome.String())
	a.logger.Debugw("event reduced",
		"event", e.EventName(),
		"machine", e.Machine(),
		"outcome", outcome.String(),
	)
	return next, outcome
}

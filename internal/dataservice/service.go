// Package dataservice is the request/response boundary views read from and
// write to.
package dataservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/chrissnell/prodtimeline/internal/types"
)

// Service returns reference data and timelines and accepts assignment and
// stoppage writes. Implementations never retry.
type Service interface {
	FetchMachine(ctx context.Context, machineID string) (types.Machine, error)
	FetchOperators(ctx context.Context) ([]types.User, error)
	FetchMolds(ctx context.Context) ([]types.Mold, error)
	FetchShifts(ctx context.Context) ([]types.Shift, error)
	FetchTimeline(ctx context.Context, machineID string, r types.DateRange) ([]types.TimelineDay, error)
	SubmitAssignment(ctx context.Context, s types.AssignmentSubmission) error
	SubmitStoppage(ctx context.Context, s types.StoppageSubmission) (types.StoppageRecord, error)
}

var (
	// ErrNotFound is returned for unknown machines.
	ErrNotFound = errors.New("not found")
	// ErrRejected is returned when the service refuses a write.
	ErrRejected = errors.New("rejected")
)

// StatusError is a non-success HTTP answer.
type StatusError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *StatusError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("status %d: %s (%s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == 404:
		return ErrNotFound
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrRejected
	}
	return nil
}

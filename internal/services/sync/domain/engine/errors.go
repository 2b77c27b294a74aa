package engine

import (
	"errors"
	"strings"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
)

var (
	// ErrCommandRegistryRequired indicates a missing command registry.
	ErrCommandRegistryRequired = errors.New("command registry is required")
	// ErrJournalRequired indicates a missing event log.
	ErrJournalRequired = errors.New("journal is required")
	// ErrDeciderRequired indicates a missing decider.
	ErrDeciderRequired = errors.New("decider is required")
	// ErrRouteTableRequired indicates a missing route table.
	ErrRouteTableRequired = errors.New("route table is required")
	// ErrRouteNotFound indicates a command type without a route.
	ErrRouteNotFound = errors.New("no route for command type")
	// ErrRejected matches every RejectionError.
	ErrRejected = errors.New("command rejected")
)

// RejectionError reports a command the aggregate declined. It is never retried.
type RejectionError struct {
	CommandType command.Type
	StreamKey   string
	Rejections  []command.Rejection
}

func (e *RejectionError) Error() string {
	parts := make([]string, 0, len(e.Rejections))
	for _, rejection := range e.Rejections {
		parts = append(parts, rejection.Code+": "+rejection.Message)
	}
	return "command " + string(e.CommandType) + " rejected: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrRejected.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// Code returns the first rejection code.
func (e *RejectionError) Code() string {
	if len(e.Rejections) == 0 {
		return ""
	}
	return e.Rejections[0].Code
}

// nonRetryableError marks a failure that happened after events were stored, where
// retrying the command would append them twice.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable returns true from IsNonRetryable checks.
func (e *nonRetryableError) NonRetryable() bool { return true }

func wrapNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err signals that the command must not be resent.
func IsNonRetryable(err error) bool {
	var target interface{ NonRetryable() bool }
	if errors.As(err, &target) {
		return target.NonRetryable()
	}
	return false
}

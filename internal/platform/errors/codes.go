// Package errors provides structured error codes shared across castsync processes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Command errors
	CodeCommandInvalid  Code = "COMMAND_INVALID"
	CodeCommandRejected Code = "COMMAND_REJECTED"

	// Event log errors
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeLogUnavailable      Code = "LOG_UNAVAILABLE"

	// Background errors
	CodeProjectorApply   Code = "PROJECTOR_APPLY_FAILED"
	CodeCompactionSafety Code = "COMPACTION_SAFETY_VIOLATION"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Request lifecycle
	CodeCanceled Code = "CANCELED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - malformed command envelopes
	case CodeCommandInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow the command
	case CodeCommandRejected:
		return codes.FailedPrecondition

	// Aborted - optimistic concurrency lost after retries
	case CodeConcurrencyConflict:
		return codes.Aborted

	// Unavailable - storage could not be reached, safe to retry
	case CodeLogUnavailable, CodeProjectorApply:
		return codes.Unavailable

	case CodeNotFound:
		return codes.NotFound

	case CodeCanceled:
		return codes.Canceled

	default:
		return codes.Internal
	}
}

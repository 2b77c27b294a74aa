package app

import (
	"context"
	"errors"

	apperrors "github.com/louisbranch/castsync/internal/platform/errors"
	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/engine"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
	"github.com/louisbranch/castsync/internal/services/sync/projection"
)

// ClassifyError maps a core error onto a structured error with a stable code.
// It returns nil for a nil error. Errors raised after events were stored carry
// retryable=false metadata.
func ClassifyError(err error) *apperrors.Error {
	if err == nil {
		return nil
	}
	classified := classify(err)
	if engine.IsNonRetryable(err) {
		metadata := make(map[string]string, len(classified.Metadata)+1)
		for key, value := range classified.Metadata {
			metadata[key] = value
		}
		metadata["retryable"] = "false"
		classified.Metadata = metadata
	}
	return classified
}

func classify(err error) *apperrors.Error {
	var rejection *engine.RejectionError
	var applyErr *projection.ApplyError
	var structured *apperrors.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.CodeCanceled, "request canceled", err)
	case errors.As(err, &rejection):
		return apperrors.WrapWithMetadata(apperrors.CodeCommandRejected, rejection.Error(), map[string]string{
			"reason":     rejection.Code(),
			"stream_key": rejection.StreamKey,
		}, err)
	case errors.Is(err, engine.ErrRejected):
		return apperrors.Wrap(apperrors.CodeCommandRejected, err.Error(), err)
	case errors.Is(err, command.ErrAggregateIDRequired),
		errors.Is(err, command.ErrTypeRequired),
		errors.Is(err, command.ErrTypeUnknown),
		errors.Is(err, command.ErrPayloadInvalid),
		errors.Is(err, engine.ErrRouteNotFound):
		return apperrors.Wrap(apperrors.CodeCommandInvalid, err.Error(), err)
	case errors.Is(err, journal.ErrConflict):
		return apperrors.Wrap(apperrors.CodeConcurrencyConflict, err.Error(), err)
	case errors.Is(err, journal.ErrCompactionSafety):
		return apperrors.Wrap(apperrors.CodeCompactionSafety, err.Error(), err)
	case errors.Is(err, journal.ErrUnavailable):
		return apperrors.Wrap(apperrors.CodeLogUnavailable, err.Error(), err)
	case errors.As(err, &applyErr):
		return apperrors.WrapWithMetadata(apperrors.CodeProjectorApply, err.Error(), map[string]string{
			"projector": applyErr.Projector,
		}, err)
	case errors.As(err, &structured):
		return apperrors.WrapWithMetadata(structured.Code, err.Error(), structured.Metadata, err)
	default:
		return apperrors.Wrap(apperrors.CodeUnknown, err.Error(), err)
	}
}

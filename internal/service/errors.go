package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/rentrecon/internal/gateway"
	"github.com/mmynk/rentrecon/internal/ingest"
	"github.com/mmynk/rentrecon/internal/ledger"
	"github.com/mmynk/rentrecon/internal/reconcile"
	"github.com/mmynk/rentrecon/internal/storage"
)

// toConnectError maps domain errors to Connect codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}

	var (
		connectErr    *connect.Error
		validationErr *gateway.ValidationError
		upstreamErr   *gateway.UpstreamError
	)

	switch {
	case errors.As(err, &connectErr):
		return connectErr
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ledger.ErrUnitNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, storage.ErrDuplicate):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, ingest.ErrAlreadyCommitted), errors.Is(err, reconcile.ErrNotConfirmable):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ingest.ErrInvalidPayload), errors.Is(err, ingest.ErrUnsupportedPayload),
		errors.Is(err, ledger.ErrInvalidRange):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.As(err, &validationErr):
		return withDetail(connect.NewError(connect.CodeInvalidArgument, err), map[string]any{
			"fields": stringsToAny(validationErr.Fields),
		})
	case errors.As(err, &upstreamErr):
		return withDetail(connect.NewError(connect.CodeUnavailable, err), map[string]any{
			"stage":   upstreamErr.Stage,
			"code":    upstreamErr.Code,
			"details": upstreamErr.Details,
		})
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func withDetail(cerr *connect.Error, fields map[string]any) *connect.Error {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		slog.Warn("Failed to build error detail", "error", err)
		return cerr
	}
	detail, err := connect.NewErrorDetail(msg)
	if err != nil {
		slog.Warn("Failed to attach error detail", "error", err)
		return cerr
	}
	cerr.AddDetail(detail)
	return cerr
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

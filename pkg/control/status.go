package control

import (
	"context"
	"strings"

	"github.com/WittorioJaro/localAgents/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// errorTypeKey carries the DomainError type across the wire as a trailer
const errorTypeKey = "x-error-type"

var codeByType = map[errors.ErrorType]codes.Code{
	errors.ErrorTypeValidation:         codes.InvalidArgument,
	errors.ErrorTypeNotFound:           codes.NotFound,
	errors.ErrorTypeConflict:           codes.AlreadyExists,
	errors.ErrorTypeCancelled:          codes.Canceled,
	errors.ErrorTypeTimeout:            codes.DeadlineExceeded,
	errors.ErrorTypeProbeTimeout:       codes.DeadlineExceeded,
	errors.ErrorTypeServiceUnreachable: codes.Unavailable,
	errors.ErrorTypeNetwork:            codes.Unavailable,
	errors.ErrorTypeUpstreamTask:       codes.Aborted,
	errors.ErrorTypeSpawn:              codes.FailedPrecondition,
	errors.ErrorTypeProcess:            codes.FailedPrecondition,
	errors.ErrorTypeClassified:         codes.Aborted,
}

func toStatusError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	errType := errors.TypeOf(err)
	if errType == "" {
		errType = errors.ErrorTypeInternal
	}
	code, ok := codeByType[errType]
	if !ok {
		code = codes.Internal
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(errorTypeKey, string(errType)))
	return status.Error(code, err.Error())
}

func fromStatusError(err error, trailer metadata.MD, method string) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewNetworkError("control call failed", err).WithContext("method", method)
	}

	errType := errors.ErrorTypeInternal
	if values := trailer.Get(errorTypeKey); len(values) > 0 {
		errType = errors.ErrorType(values[0])
	} else {
		switch st.Code() {
		case codes.NotFound:
			errType = errors.ErrorTypeNotFound
		case codes.InvalidArgument:
			errType = errors.ErrorTypeValidation
		case codes.Unavailable:
			errType = errors.ErrorTypeServiceUnreachable
		case codes.Canceled:
			errType = errors.ErrorTypeCancelled
		case codes.DeadlineExceeded:
			errType = errors.ErrorTypeTimeout
		}
	}
	message := strings.TrimPrefix(st.Message(), string(errType)+": ")
	return errors.NewDomainError(errType, message, nil).WithContext("method", method)
}

package nakama

import (
	"context"
	"errors"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/app"
	"github.com/straub/table/internal/app/onboarding"
	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/protocol"
)

// gRPC status codes understood by Nakama clients.
const (
	codeCanceled           = 1
	codeInvalidArgument    = 3
	codeNotFound           = 5
	codeAlreadyExists      = 6
	codePermissionDenied   = 7
	codeFailedPrecondition = 9
	codeInternal           = 13
	codeUnauthenticated    = 16
)

var errorCodes = []struct {
	err  error
	code int
}{
	{domain.ErrGameNotFound, codeNotFound},
	{domain.ErrDeckEmpty, codeNotFound},
	{domain.ErrCardNotFound, codeNotFound},
	{domain.ErrPlayerNotFound, codePermissionDenied},
	{domain.ErrInvalidState, codeFailedPrecondition},
	{domain.ErrInvalidAction, codeInvalidArgument},
	{app.ErrTooFewPlayers, codeInvalidArgument},
	{app.ErrInvalidDeckCount, codeInvalidArgument},
	{app.ErrInvalidPayload, codeInvalidArgument},
	{protocol.ErrInvalidPayload, codeInvalidArgument},
	{onboarding.ErrInvalidUsername, codeInvalidArgument},
	{onboarding.ErrUsernameTaken, codeAlreadyExists},
	{context.Canceled, codeCanceled},
	{context.DeadlineExceeded, codeCanceled},
}

// toRuntimeError converts a service error to a client-facing runtime error. Errors without
// a mapping are logged and reported as internal.
func toRuntimeError(logger runtime.Logger, op string, err error) error {
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			logger.Debug("%s: %v", op, err)
			return runtime.NewError(m.err.Error(), m.code)
		}
	}
	logger.Error("%s: %v", op, err)
	return runtime.NewError("Internal error", codeInternal)
}

package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	nativecommon "safevault/native/common"
	"safevault/native/vault"
)

// CodeTrailer carries the stable vault result code of a failed call.
const CodeTrailer = "vault-code"

// invalidArgument tags a request decoding failure with its result code.
type invalidArgument struct {
	code string
	err  error
}

func (e *invalidArgument) Error() string { return e.err.Error() }

func (e *invalidArgument) Unwrap() error { return e.err }

func invalid(code string, err error) error {
	return &invalidArgument{code: code, err: err}
}

func codeOf(err error) string {
	var ia *invalidArgument
	if errors.As(err, &ia) {
		return ia.code
	}
	return vault.Code(err)
}

func grpcCode(err error) codes.Code {
	var ia *invalidArgument
	switch {
	case errors.As(err, &ia):
		return codes.InvalidArgument
	case errors.Is(err, nativecommon.ErrModulePaused):
		return codes.Unavailable
	case errors.Is(err, vault.ErrTransferFailed):
		return codes.Aborted
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidMint),
		errors.Is(err, vault.ErrInvalidParams),
		errors.Is(err, vault.ErrMintMismatch),
		errors.Is(err, vault.ErrExceedsPosition),
		errors.Is(err, vault.ErrOverflow),
		errors.Is(err, vault.ErrInvalidOwner):
		return codes.InvalidArgument
	case errors.Is(err, vault.ErrPositionNotFound),
		errors.Is(err, vault.ErrNotInitialized):
		return codes.NotFound
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return codes.AlreadyExists
	case errors.Is(err, vault.ErrInsufficientCollateral):
		return codes.ResourceExhausted
	case errors.Is(err, vault.ErrNoDebt):
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// toStatus converts a domain error to a gRPC status and records the vault
// result code in the call trailer.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	code := grpcCode(err)
	_ = grpc.SetTrailer(ctx, metadata.Pairs(CodeTrailer, codeOf(err)))
	if code == codes.Internal {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

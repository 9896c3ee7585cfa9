package server

import (
	"errors"
	"net/http"

	"safevault/native/bank"
	nativecommon "safevault/native/common"
	"safevault/native/vault"
	"safevault/services/vaultd/middleware"
)

var (
	errBadRequest   = errors.New("bad request")
	errInvalidOwner = errors.New("token subject is not an account address")
)

// badRequest tags a decoding failure so it renders as a 400.
type badRequest struct {
	code string
	err  error
}

func (e *badRequest) Error() string { return e.err.Error() }

func (e *badRequest) Unwrap() []error { return []error{errBadRequest, e.err} }

func invalid(code string, err error) error {
	return &badRequest{code: code, err: err}
}

// statusFor maps domain errors to HTTP statuses. Transfer failures are checked
// before the bank sentinels they wrap.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrTransferFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidMint),
		errors.Is(err, vault.ErrInvalidParams),
		errors.Is(err, vault.ErrMintMismatch),
		errors.Is(err, vault.ErrExceedsPosition),
		errors.Is(err, vault.ErrOverflow),
		errors.Is(err, vault.ErrInvalidOwner),
		errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, bank.ErrBalanceOverflow):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrPositionNotFound),
		errors.Is(err, vault.ErrNotInitialized),
		errors.Is(err, bank.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrNoDebt):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	var br *badRequest
	if errors.As(err, &br) {
		return br.code
	}
	if errors.Is(err, vault.ErrTransferFailed) {
		return vault.Code(err)
	}
	switch {
	case errors.Is(err, bank.ErrAccountNotFound):
		return "ACCOUNT_NOT_FOUND"
	case errors.Is(err, bank.ErrBalanceOverflow):
		return "OVERFLOW"
	case errors.Is(err, bank.ErrInvalidAmount):
		return "INVALID_AMOUNT"
	}
	return vault.Code(err)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		message = http.StatusText(status)
	}
	middleware.WriteError(w, status, codeFor(err), message)
}

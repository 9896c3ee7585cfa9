package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"safevault/core/state"
	"safevault/crypto"
	"safevault/native/bank"
	nativecommon "safevault/native/common"
	"safevault/native/vault"
	"safevault/observability"
	"safevault/services/vaultd/journal"
	"safevault/services/vaultd/middleware"
	"safevault/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	adminAddr = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0xAD}, crypto.AddressLength))
	userAddr  = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, crypto.AddressLength))
	mintAddr  = crypto.NewAddress(crypto.MintPrefix, bytes.Repeat([]byte{0x11}, crypto.AddressLength))
)

type fixture struct {
	t       *testing.T
	handler http.Handler
	engine  *vault.Engine
	journal *journal.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	b := bank.New()
	engine := vault.NewEngine(mgr, b)

	db, err := journal.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	j, err := journal.New(db, nil)
	require.NoError(t, err)
	engine.SetEmitter(j)

	reg := prometheus.NewRegistry()
	srv, err := New(Config{
		Engine:        engine,
		State:         mgr,
		Bank:          b,
		Journal:       j,
		Auth:          middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testSecret}, nil),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{}, reg, nil),
		Metrics:       observability.NewVaultMetrics(reg),
		Gatherer:      reg,
	})
	require.NoError(t, err)
	return &fixture{t: t, handler: srv.Handler(), engine: engine, journal: j}
}

func (f *fixture) token(subject crypto.Address, scopes ...string) string {
	token, err := middleware.IssueToken(middleware.TokenRequest{
		Secret:  testSecret,
		Subject: subject.String(),
		Scopes:  scopes,
		TTL:     time.Hour,
	})
	require.NoError(f.t, err)
	return token
}

func (f *fixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) initialize() {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/vault/initialize", f.token(adminAddr, middleware.ScopeAdmin), map[string]interface{}{
		"collateralMint": mintAddr.String(),
		"custody":        vault.CustodyAddress().String(),
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *fixture) instruct(op string, amount string) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, "/v1/vault/"+op, f.token(userAddr, middleware.ScopeUser), map[string]string{
		"mint":    mintAddr.String(),
		"custody": vault.CustodyAddress().String(),
		"amount":  amount,
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	var body middleware.ErrorBody
	decodeBody(t, rec, &body)
	require.Equal(t, code, body.Code)
	require.NotEmpty(t, body.Error)
}

func TestVaultLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.initialize()

	rec := f.do(http.MethodPost, "/v1/bank/mint", f.token(adminAddr, middleware.ScopeAdmin), map[string]string{
		"owner":  userAddr.String(),
		"amount": "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.instruct("deposit", "100")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var deposited positionResponse
	decodeBody(t, rec, &deposited)
	require.EqualValues(t, 100, deposited.Position.Collateral)

	rec = f.instruct("borrow", "40")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"borrowed":"40"`)

	requireError(t, f.instruct("borrow", "11"), http.StatusUnprocessableEntity, "INSUFFICIENT_COLLATERAL")

	rec = f.do(http.MethodGet, "/v1/vault/positions/"+userAddr.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view positionResponse
	decodeBody(t, rec, &view)
	require.EqualValues(t, 50, view.Health.MaxBorrow)
	require.EqualValues(t, 10, view.Health.Available)

	rec = f.instruct("repay", "100")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var repaid repayResponse
	decodeBody(t, rec, &repaid)
	require.Equal(t, "40", repaid.Repaid)

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `safevault_vault_volume_total{op="repay"} 40`)
	require.Contains(t, rec.Body.String(), `safevault_vault_volume_total{op="borrow"} 40`)

	rec = f.instruct("withdraw", "100")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/v1/bank/balances/"+userAddr.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var balance balanceResponse
	decodeBody(t, rec, &balance)
	require.Equal(t, "1000", balance.Balance)

	rec = f.do(http.MethodGet, "/v1/vault/ledger", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger vault.Ledger
	decodeBody(t, rec, &ledger)
	require.Zero(t, ledger.TotalCollateral)
	require.Zero(t, ledger.TotalBorrowed)

	rec = f.do(http.MethodGet, "/v1/journal?limit=10", f.token(adminAddr, middleware.ScopeAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var listing struct {
		Entries []journal.Entry `json:"entries"`
	}
	decodeBody(t, rec, &listing)
	require.Len(t, listing.Entries, 5)
	require.Equal(t, vault.EventTypeWithdrawn, listing.Entries[0].Type)
}

func TestErrorResponses(t *testing.T) {
	f := newFixture(t)

	requireError(t, f.do(http.MethodGet, "/v1/vault/ledger", "", nil), http.StatusNotFound, "NOT_INITIALIZED")
	requireError(t, f.instruct("deposit", "10"), http.StatusNotFound, "NOT_INITIALIZED")

	f.initialize()
	rec := f.do(http.MethodPost, "/v1/vault/initialize", f.token(adminAddr, middleware.ScopeAdmin), map[string]string{
		"collateralMint": mintAddr.String(),
		"custody":        vault.CustodyAddress().String(),
	})
	requireError(t, rec, http.StatusConflict, "ALREADY_INITIALIZED")

	requireError(t, f.instruct("deposit", "abc"), http.StatusBadRequest, "INVALID_AMOUNT")
	requireError(t, f.instruct("deposit", "0"), http.StatusBadRequest, "INVALID_AMOUNT")
	requireError(t, f.instruct("deposit", "10"), http.StatusPaymentRequired, "TRANSFER_FAILED")
	requireError(t, f.instruct("borrow", "10"), http.StatusNotFound, "POSITION_NOT_FOUND")

	other := crypto.NewAddress(crypto.MintPrefix, bytes.Repeat([]byte{0x22}, crypto.AddressLength))
	rec = f.do(http.MethodPost, "/v1/vault/deposit", f.token(userAddr, middleware.ScopeUser), map[string]string{
		"mint":    other.String(),
		"custody": vault.CustodyAddress().String(),
		"amount":  "10",
	})
	requireError(t, rec, http.StatusBadRequest, "MINT_MISMATCH")

	requireError(t, f.do(http.MethodGet, "/v1/bank/balances/"+userAddr.String(), "", nil), http.StatusNotFound, "ACCOUNT_NOT_FOUND")
	requireError(t, f.do(http.MethodGet, "/v1/vault/positions/not-an-address", "", nil), http.StatusBadRequest, "INVALID_OWNER")
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)

	requireError(t, f.do(http.MethodPost, "/v1/vault/deposit", "", map[string]string{}), http.StatusUnauthorized, "UNAUTHENTICATED")

	rec := f.do(http.MethodPost, "/v1/vault/initialize", f.token(userAddr, middleware.ScopeUser), map[string]string{
		"collateralMint": mintAddr.String(),
		"custody":        vault.CustodyAddress().String(),
	})
	requireError(t, rec, http.StatusForbidden, "FORBIDDEN")

	operator, err := middleware.IssueToken(middleware.TokenRequest{
		Secret:  testSecret,
		Subject: "operator",
		Scopes:  []string{middleware.ScopeUser},
		TTL:     time.Hour,
	})
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/v1/vault/deposit", operator, map[string]string{"amount": "1"})
	requireError(t, rec, http.StatusBadRequest, "INVALID_OWNER")
}

func TestPausedModule(t *testing.T) {
	f := newFixture(t)
	f.initialize()
	f.engine.SetPauses(nativecommon.NewStaticPauses("vault"))
	requireError(t, f.instruct("deposit", "10"), http.StatusServiceUnavailable, "MODULE_PAUSED")

	rec := f.do(http.MethodPost, "/v1/bank/mint", f.token(adminAddr, middleware.ScopeAdmin), map[string]string{
		"owner":  userAddr.String(),
		"amount": "1000",
	})
	requireError(t, rec, http.StatusServiceUnavailable, "MODULE_PAUSED")
	requireError(t, f.do(http.MethodGet, "/v1/bank/balances/"+userAddr.String(), "", nil), http.StatusNotFound, "ACCOUNT_NOT_FOUND")
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "vaultd_requests_total")
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{vault.ErrInvalidAmount, http.StatusBadRequest},
		{vault.ErrInvalidParams, http.StatusBadRequest},
		{vault.ErrOverflow, http.StatusBadRequest},
		{vault.ErrExceedsPosition, http.StatusBadRequest},
		{vault.ErrPositionNotFound, http.StatusNotFound},
		{vault.ErrNotInitialized, http.StatusNotFound},
		{vault.ErrAlreadyInitialized, http.StatusConflict},
		{vault.ErrInsufficientCollateral, http.StatusUnprocessableEntity},
		{vault.ErrNoDebt, http.StatusUnprocessableEntity},
		{nativecommon.ErrModulePaused, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", vault.ErrTransferFailed, bank.ErrAccountNotFound), http.StatusPaymentRequired},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestCodeForTransferFailures(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: %w", vault.ErrTransferFailed, bank.ErrAccountNotFound), "TRANSFER_FAILED"},
		{fmt.Errorf("%w: %w", vault.ErrTransferFailed, bank.ErrBalanceOverflow), "TRANSFER_FAILED"},
		{fmt.Errorf("%w: %w", vault.ErrTransferFailed, bank.ErrInsufficientFunds), "TRANSFER_FAILED"},
		{bank.ErrAccountNotFound, "ACCOUNT_NOT_FOUND"},
		{bank.ErrBalanceOverflow, "OVERFLOW"},
		{invalid("INVALID_OWNER", errInvalidOwner), "INVALID_OWNER"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, codeFor(tc.err), tc.err.Error())
	}
}

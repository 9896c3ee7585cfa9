package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"safevault/core/state"
	"safevault/crypto"
	"safevault/native/bank"
	nativecommon "safevault/native/common"
	"safevault/native/vault"
	"safevault/observability"
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
	t      *testing.T
	mgr    *state.Manager
	bank   *bank.Bank
	engine *vault.Engine
	lis    *bufconn.Listener
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	b := bank.New()
	engine := vault.NewEngine(mgr, b)
	svc, err := New(Config{
		Engine:  engine,
		Auth:    middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testSecret}, nil),
		Metrics: observability.NewVaultMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	server := NewServer(svc)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return &fixture{t: t, mgr: mgr, bank: b, engine: engine, lis: lis}
}

func (f *fixture) client(subject crypto.Address, scopes ...string) *Client {
	f.t.Helper()
	token := ""
	if len(scopes) > 0 {
		var err error
		token, err = middleware.IssueToken(middleware.TokenRequest{
			Secret:  testSecret,
			Subject: subject.String(),
			Scopes:  scopes,
			TTL:     time.Hour,
		})
		require.NoError(f.t, err)
	}
	c, err := Dial("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return f.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = c.Close() })
	return c
}

func (f *fixture) fund(owner crypto.Address, amount uint64) {
	f.t.Helper()
	require.NoError(f.t, f.mgr.Update(func(tx *state.Tx) error {
		_, err := f.bank.MintTo(tx, mintAddr, owner, amount)
		return err
	}))
}

func instructionReq(amount string) *InstructionRequest {
	return &InstructionRequest{
		Mint:    mintAddr.String(),
		Custody: vault.CustodyAddress().String(),
		Amount:  amount,
	}
}

func requireCallError(t *testing.T, err error, status codes.Code, code string) {
	t.Helper()
	var callErr *CallError
	require.True(t, errors.As(err, &callErr), "unexpected error %v", err)
	require.Equal(t, status, callErr.Status, callErr.Message)
	require.Equal(t, code, callErr.Code)
}

func TestVaultLifecycleOverGRPC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := f.client(adminAddr, middleware.ScopeAdmin)
	ledger, err := admin.Initialize(ctx, &InitializeRequest{
		CollateralMint: mintAddr.String(),
		Custody:        vault.CustodyAddress().String(),
	})
	require.NoError(t, err)
	require.True(t, ledger.Admin.Equal(adminAddr))

	f.fund(userAddr, 1000)
	user := f.client(userAddr, middleware.ScopeUser)

	pos, err := user.Deposit(ctx, instructionReq("100"))
	require.NoError(t, err)
	require.EqualValues(t, 100, pos.Position.Collateral)

	pos, err = user.Borrow(ctx, instructionReq("40"))
	require.NoError(t, err)
	require.EqualValues(t, 40, pos.Position.Borrowed)

	_, err = user.Borrow(ctx, instructionReq("11"))
	requireCallError(t, err, codes.ResourceExhausted, "INSUFFICIENT_COLLATERAL")

	view, err := f.client(crypto.Address{}).Position(ctx, userAddr.String())
	require.NoError(t, err)
	require.EqualValues(t, 50, view.Health.MaxBorrow)
	require.EqualValues(t, 10, view.Health.Available)

	repaid, err := user.Repay(ctx, instructionReq("100"))
	require.NoError(t, err)
	require.Equal(t, "40", repaid.Repaid)

	_, err = user.Withdraw(ctx, instructionReq("100"))
	require.NoError(t, err)

	ledger, err = user.Ledger(ctx)
	require.NoError(t, err)
	require.Zero(t, ledger.TotalCollateral)
	require.Zero(t, ledger.TotalBorrowed)
}

func TestGRPCErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.client(userAddr, middleware.ScopeUser)

	_, err := user.Ledger(ctx)
	requireCallError(t, err, codes.NotFound, "NOT_INITIALIZED")

	_, err = f.client(crypto.Address{}).Deposit(ctx, instructionReq("10"))
	requireCallError(t, err, codes.Unauthenticated, "UNAUTHENTICATED")

	_, err = user.Initialize(ctx, &InitializeRequest{
		CollateralMint: mintAddr.String(),
		Custody:        vault.CustodyAddress().String(),
	})
	requireCallError(t, err, codes.PermissionDenied, "FORBIDDEN")

	_, err = f.client(adminAddr, middleware.ScopeAdmin).Initialize(ctx, &InitializeRequest{
		CollateralMint: mintAddr.String(),
		Custody:        vault.CustodyAddress().String(),
	})
	require.NoError(t, err)

	_, err = user.Deposit(ctx, instructionReq("abc"))
	requireCallError(t, err, codes.InvalidArgument, "INVALID_AMOUNT")

	_, err = user.Deposit(ctx, instructionReq("10"))
	requireCallError(t, err, codes.Aborted, "TRANSFER_FAILED")

	_, err = user.Borrow(ctx, instructionReq("10"))
	requireCallError(t, err, codes.NotFound, "POSITION_NOT_FOUND")

	f.engine.SetPauses(nativecommon.NewStaticPauses("vault"))
	_, err = user.Deposit(ctx, instructionReq("10"))
	requireCallError(t, err, codes.Unavailable, "MODULE_PAUSED")
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
		code string
	}{
		{invalid("INVALID_AMOUNT", errors.New("amount required")), codes.InvalidArgument, "INVALID_AMOUNT"},
		{nativecommon.ErrModulePaused, codes.Unavailable, "MODULE_PAUSED"},
		{fmt.Errorf("%w: %w", vault.ErrTransferFailed, bank.ErrInsufficientFunds), codes.Aborted, "TRANSFER_FAILED"},
		{vault.ErrExceedsPosition, codes.InvalidArgument, "EXCEEDS_POSITION"},
		{vault.ErrNotInitialized, codes.NotFound, "NOT_INITIALIZED"},
		{vault.ErrAlreadyInitialized, codes.AlreadyExists, "ALREADY_INITIALIZED"},
		{vault.ErrInsufficientCollateral, codes.ResourceExhausted, "INSUFFICIENT_COLLATERAL"},
		{vault.ErrNoDebt, codes.FailedPrecondition, "NO_DEBT"},
		{errors.New("disk on fire"), codes.Internal, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			require.Equal(t, tc.want, grpcCode(tc.err))
			require.Equal(t, tc.code, codeOf(tc.err))
		})
	}
}

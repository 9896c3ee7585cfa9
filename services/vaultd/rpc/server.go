// Package rpc exposes vault instructions over gRPC next to the HTTP API.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"

	"safevault/crypto"
	"safevault/native/vault"
	"safevault/observability"
	"safevault/services/vaultd/middleware"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "safevault.vault.v1.VaultService"

const (
	MethodInitialize  = "/" + ServiceName + "/Initialize"
	MethodDeposit     = "/" + ServiceName + "/Deposit"
	MethodBorrow      = "/" + ServiceName + "/Borrow"
	MethodRepay       = "/" + ServiceName + "/Repay"
	MethodWithdraw    = "/" + ServiceName + "/Withdraw"
	MethodGetLedger   = "/" + ServiceName + "/GetLedger"
	MethodGetPosition = "/" + ServiceName + "/GetPosition"
)

// methodScopes lists the scope each mutating method requires. Methods not
// listed are public reads.
var methodScopes = map[string]string{
	MethodInitialize: middleware.ScopeAdmin,
	MethodDeposit:    middleware.ScopeUser,
	MethodBorrow:     middleware.ScopeUser,
	MethodRepay:      middleware.ScopeUser,
	MethodWithdraw:   middleware.ScopeUser,
}

var errInvalidOwner = errors.New("token subject is not an account address")

// Config wires the gRPC service to the engine.
type Config struct {
	Engine  *vault.Engine
	Auth    *middleware.Authenticator
	Metrics *observability.VaultMetrics
	Logger  *slog.Logger
}

// Service implements the vault gRPC service.
type Service struct {
	engine   *vault.Engine
	auth     *middleware.Authenticator
	metrics  *observability.VaultMetrics
	logger   *slog.Logger
	requests metric.Int64Counter
}

func New(cfg Config) (*Service, error) {
	if cfg.Engine == nil {
		return nil, errors.New("rpc: engine required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("rpc: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.Vault()
	}
	requests, err := otel.Meter("safevault/vaultd/rpc").Int64Counter("vaultd.rpc.requests",
		metric.WithDescription("gRPC calls by method and vault result code."))
	if err != nil {
		return nil, fmt.Errorf("rpc: request counter: %w", err)
	}
	return &Service{
		engine:   cfg.Engine,
		auth:     cfg.Auth,
		metrics:  metrics,
		logger:   logger,
		requests: requests,
	}, nil
}

// NewServer builds a gRPC server with tracing and authentication
// interceptors and registers svc on it.
func NewServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	options := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			otelgrpc.UnaryServerInterceptor(),
			svc.authInterceptor(),
		),
	}, opts...)
	server := grpc.NewServer(options...)
	server.RegisterService(&serviceDesc, svc)
	return server
}

func (s *Service) authInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		scope, ok := methodScopes[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}
		caller, err := s.auth.Authenticate(tokenFromContext(ctx), scope)
		if err != nil {
			s.logger.Warn("rpc: call rejected",
				slog.String("method", info.FullMethod),
				slog.String("error", err.Error()))
			return nil, authStatus(ctx, err)
		}
		return handler(middleware.WithCaller(ctx, caller), req)
	}
}

func (s *Service) record(ctx context.Context, method string, err error) {
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("code", codeOf(err)),
	))
}

func (s *Service) initialize(ctx context.Context, req *InitializeRequest) (*vault.Ledger, error) {
	caller, _ := middleware.CallerFromContext(ctx)
	mint, err := parseAddress("collateralMint", crypto.MintPrefix, req.CollateralMint, "INVALID_MINT")
	if err != nil {
		return nil, err
	}
	custody, err := parseAddress("custody", crypto.ProgramPrefix, req.Custody, "MINT_MISMATCH")
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ledger, err := s.engine.Initialize(vault.InitializeRequest{
		Admin:          caller.Owner,
		CollateralMint: mint,
		Custody:        custody,
		Params:         req.Params,
	})
	s.metrics.Observe("initialize", vault.Code(err), 0, time.Since(start))
	if err != nil {
		return nil, err
	}
	s.metrics.SetTotals(ledger.TotalCollateral, ledger.TotalBorrowed)
	return ledger, nil
}

type instruction struct {
	Owner   crypto.Address
	Mint    crypto.Address
	Custody crypto.Address
	Amount  uint64
}

func decodeInstruction(ctx context.Context, req *InstructionRequest) (instruction, error) {
	caller, _ := middleware.CallerFromContext(ctx)
	if caller.Owner.IsZero() {
		return instruction{}, invalid("INVALID_OWNER", errInvalidOwner)
	}
	mint, err := parseAddress("mint", crypto.MintPrefix, req.Mint, "MINT_MISMATCH")
	if err != nil {
		return instruction{}, err
	}
	custody, err := parseAddress("custody", crypto.ProgramPrefix, req.Custody, "MINT_MISMATCH")
	if err != nil {
		return instruction{}, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return instruction{}, err
	}
	return instruction{Owner: caller.Owner, Mint: mint, Custody: custody, Amount: amount}, nil
}

// execute runs op for a decoded instruction. run reports the amount moved.
func (s *Service) execute(ctx context.Context, op string, req *InstructionRequest, run func(instruction) (interface{}, uint64, error)) (interface{}, error) {
	in, err := decodeInstruction(ctx, req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	reply, moved, err := run(in)
	s.metrics.Observe(op, vault.Code(err), moved, time.Since(start))
	if err != nil {
		return nil, err
	}
	if ledger, lerr := s.engine.Ledger(); lerr == nil {
		s.metrics.SetTotals(ledger.TotalCollateral, ledger.TotalBorrowed)
	}
	return reply, nil
}

func (s *Service) deposit(ctx context.Context, req *InstructionRequest) (interface{}, error) {
	return s.execute(ctx, "deposit", req, func(in instruction) (interface{}, uint64, error) {
		pos, err := s.engine.Deposit(vault.DepositRequest(in))
		if err != nil {
			return nil, 0, err
		}
		return &PositionReply{Position: pos}, in.Amount, nil
	})
}

func (s *Service) borrow(ctx context.Context, req *InstructionRequest) (interface{}, error) {
	return s.execute(ctx, "borrow", req, func(in instruction) (interface{}, uint64, error) {
		pos, err := s.engine.Borrow(vault.BorrowRequest(in))
		if err != nil {
			return nil, 0, err
		}
		return &PositionReply{Position: pos}, in.Amount, nil
	})
}

func (s *Service) repay(ctx context.Context, req *InstructionRequest) (interface{}, error) {
	return s.execute(ctx, "repay", req, func(in instruction) (interface{}, uint64, error) {
		pos, repaid, err := s.engine.Repay(vault.RepayRequest(in))
		if err != nil {
			return nil, 0, err
		}
		return &RepayReply{Position: pos, Repaid: strconv.FormatUint(repaid, 10)}, repaid, nil
	})
}

func (s *Service) withdraw(ctx context.Context, req *InstructionRequest) (interface{}, error) {
	return s.execute(ctx, "withdraw", req, func(in instruction) (interface{}, uint64, error) {
		pos, err := s.engine.WithdrawCollateral(vault.WithdrawRequest(in))
		if err != nil {
			return nil, 0, err
		}
		return &PositionReply{Position: pos}, in.Amount, nil
	})
}

func (s *Service) getLedger(context.Context, *LedgerRequest) (*vault.Ledger, error) {
	return s.engine.Ledger()
}

func (s *Service) getPosition(_ context.Context, req *PositionRequest) (*PositionReply, error) {
	owner, err := parseAddress("owner", crypto.AccountPrefix, req.Owner, "INVALID_OWNER")
	if err != nil {
		return nil, err
	}
	pos, err := s.engine.Position(owner)
	if err != nil {
		return nil, err
	}
	health, err := s.engine.Health(owner)
	if err != nil {
		return nil, err
	}
	return &PositionReply{Position: pos, Health: health}, nil
}

func parseAmount(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, invalid("INVALID_AMOUNT", errors.New("amount required"))
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid("INVALID_AMOUNT", fmt.Errorf("amount must be a base-10 unsigned integer: %w", err))
	}
	if value == 0 {
		return 0, invalid("INVALID_AMOUNT", errors.New("amount must be positive"))
	}
	return value, nil
}

func parseAddress(field string, prefix crypto.AddressPrefix, raw, code string) (crypto.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return crypto.Address{}, invalid(code, fmt.Errorf("%s required", field))
	}
	addr, err := crypto.ParseAddress(prefix, raw)
	if err != nil {
		return crypto.Address{}, invalid(code, fmt.Errorf("%s: %w", field, err))
	}
	return addr, nil
}

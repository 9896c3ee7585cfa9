package rpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"safevault/native/vault"
)

// CallError is a failed vault call with its gRPC status and vault result code.
type CallError struct {
	Status  codes.Code
	Code    string
	Message string
}

func (e *CallError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client calls the vault gRPC service, attaching token as a bearer credential
// when set.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Dial connects to target. Callers supply transport credentials through opts.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	options := append([]grpc.DialOption{
		grpc.WithChainUnaryInterceptor(otelgrpc.UnaryClientInterceptor()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, options...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", target, err)
	}
	return &Client{conn: conn, token: token}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, reply interface{}) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	var trailer metadata.MD
	err := c.conn.Invoke(ctx, method, req, reply, grpc.Trailer(&trailer))
	if err == nil {
		return nil
	}
	st := status.Convert(err)
	callErr := &CallError{Status: st.Code(), Message: st.Message()}
	if values := trailer.Get(CodeTrailer); len(values) > 0 {
		callErr.Code = values[0]
	}
	return callErr
}

func (c *Client) Initialize(ctx context.Context, req *InitializeRequest) (*vault.Ledger, error) {
	out := new(vault.Ledger)
	if err := c.invoke(ctx, MethodInitialize, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Deposit(ctx context.Context, req *InstructionRequest) (*PositionReply, error) {
	out := new(PositionReply)
	if err := c.invoke(ctx, MethodDeposit, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Borrow(ctx context.Context, req *InstructionRequest) (*PositionReply, error) {
	out := new(PositionReply)
	if err := c.invoke(ctx, MethodBorrow, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Repay(ctx context.Context, req *InstructionRequest) (*RepayReply, error) {
	out := new(RepayReply)
	if err := c.invoke(ctx, MethodRepay, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Withdraw(ctx context.Context, req *InstructionRequest) (*PositionReply, error) {
	out := new(PositionReply)
	if err := c.invoke(ctx, MethodWithdraw, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ledger(ctx context.Context) (*vault.Ledger, error) {
	out := new(vault.Ledger)
	if err := c.invoke(ctx, MethodGetLedger, &LedgerRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Position(ctx context.Context, owner string) (*PositionReply, error) {
	out := new(PositionReply)
	if err := c.invoke(ctx, MethodGetPosition, &PositionRequest{Owner: owner}, out); err != nil {
		return nil, err
	}
	return out, nil
}

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"safevault/services/vaultd/middleware"
	"safevault/services/vaultd/rpc"
)

const tlsScheme = "tls://"

// grpcDialOptions returns the transport options for target. A tls:// prefix
// selects TLS; anything else dials in plaintext.
var grpcDialOptions = func(target string) (string, []grpc.DialOption) {
	if strings.HasPrefix(target, tlsScheme) {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		return strings.TrimPrefix(target, tlsScheme), []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	}
	return target, []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

var errHTTPOnly = errors.New("bank routes are only served over HTTP; drop --grpc")

// doGRPCRequest serves a vault route through the gRPC listener and renders
// the reply the way the HTTP API would.
func doGRPCRequest(method, path string, body interface{}) (int, []byte, error) {
	target, opts := grpcDialOptions(grpcEndpoint)
	client, err := rpc.Dial(target, bearerToken, opts...)
	if err != nil {
		return 0, nil, err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), httpClient.Timeout)
	defer cancel()
	reply, status, err := routeGRPC(ctx, client, method, path, body)
	if err != nil {
		var callErr *rpc.CallError
		if !errors.As(err, &callErr) {
			return 0, nil, err
		}
		data, merr := json.Marshal(middleware.ErrorBody{Error: callErr.Message, Code: callErr.Code})
		if merr != nil {
			return 0, nil, merr
		}
		return httpStatus(callErr.Status), data, nil
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return 0, nil, err
	}
	return status, data, nil
}

func routeGRPC(ctx context.Context, client *rpc.Client, method, path string, body interface{}) (interface{}, int, error) {
	const prefix = "/v1/vault/"
	if !strings.HasPrefix(path, prefix) {
		return nil, 0, errHTTPOnly
	}
	route := strings.TrimPrefix(path, prefix)
	switch {
	case method == http.MethodGet && route == "ledger":
		reply, err := client.Ledger(ctx)
		return reply, http.StatusOK, err
	case method == http.MethodGet && strings.HasPrefix(route, "positions/"):
		owner, err := url.PathUnescape(strings.TrimPrefix(route, "positions/"))
		if err != nil {
			return nil, 0, err
		}
		reply, err := client.Position(ctx, owner)
		return reply, http.StatusOK, err
	case method == http.MethodPost && route == "initialize":
		var req rpc.InitializeRequest
		if err := convert(body, &req); err != nil {
			return nil, 0, err
		}
		reply, err := client.Initialize(ctx, &req)
		return reply, http.StatusCreated, err
	case method == http.MethodPost:
		var req rpc.InstructionRequest
		if err := convert(body, &req); err != nil {
			return nil, 0, err
		}
		var (
			reply interface{}
			err   error
		)
		switch route {
		case "deposit":
			reply, err = client.Deposit(ctx, &req)
		case "borrow":
			reply, err = client.Borrow(ctx, &req)
		case "repay":
			reply, err = client.Repay(ctx, &req)
		case "withdraw":
			reply, err = client.Withdraw(ctx, &req)
		default:
			return nil, 0, fmt.Errorf("no gRPC method for %s %s", method, path)
		}
		return reply, http.StatusOK, err
	default:
		return nil, 0, fmt.Errorf("no gRPC method for %s %s", method, path)
	}
}

// convert moves a request body built for the HTTP API into its gRPC message.
func convert(body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Aborted:
		return http.StatusPaymentRequired
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.ResourceExhausted, codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

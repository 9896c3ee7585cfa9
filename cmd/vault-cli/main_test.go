package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"safevault/crypto"
	"safevault/native/vault"
)

var (
	testOwner = crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, crypto.AddressLength))
	testMint  = crypto.NewAddress(crypto.MintPrefix, bytes.Repeat([]byte{0x11}, crypto.AddressLength))
)

type recordedCall struct {
	method string
	path   string
	body   interface{}
}

func stubVault(t *testing.T, respond func(method, path string) (int, []byte)) *[]recordedCall {
	t.Helper()
	var calls []recordedCall
	original := vaultCall
	vaultCall = func(method, path string, body interface{}) (int, []byte, error) {
		calls = append(calls, recordedCall{method: method, path: path, body: body})
		status, data := respond(method, path)
		return status, data, nil
	}
	t.Cleanup(func() { vaultCall = original })
	return &calls
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestArgValidation(t *testing.T) {
	stubVault(t, func(method, path string) (int, []byte) {
		t.Fatalf("unexpected request %s %s", method, path)
		return 0, nil
	})

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "Usage:"},
		{"unknown command", []string{"liquidate"}, "Unknown command: liquidate"},
		{"deposit without amount", []string{"deposit"}, "--amount is required"},
		{"borrow zero", []string{"borrow", "--amount", "0"}, "--amount must be a positive base-10 integer"},
		{"repay negative", []string{"repay", "--amount", "-5"}, "--amount must be a positive base-10 integer"},
		{"withdraw positional", []string{"withdraw", "--amount", "5", "extra"}, "unexpected positional arguments"},
		{"init without mint", []string{"init"}, "--mint is required"},
		{"init account as mint", []string{"init", "--mint", testOwner.String()}, "--mint"},
		{"init ltv too high", []string{"init", "--mint", testMint.String(), "--max-ltv-bps", "10001"}, "invalid parameters"},
		{"position without owner", []string{"position"}, "--owner is required"},
		{"balance bad owner", []string{"balance", "--owner", "nope"}, "--owner"},
		{"mint without amount", []string{"mint", "--owner", testOwner.String()}, "--amount is required"},
		{"token without subject", []string{"token"}, "exactly one of --subject or --keystore"},
		{"dangling global flag", []string{"--endpoint"}, "--endpoint requires a value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(tc.args...)
			if code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if !strings.Contains(stderr, tc.want) {
				t.Fatalf("stderr %q does not contain %q", stderr, tc.want)
			}
		})
	}
}

func TestDepositFillsMintAndCustodyFromLedger(t *testing.T) {
	ledger, err := json.Marshal(vault.Ledger{
		CollateralMint: testMint,
		Custody:        vault.CustodyAddress(),
		Params:         vault.DefaultParams(),
	})
	if err != nil {
		t.Fatalf("marshal ledger: %v", err)
	}
	calls := stubVault(t, func(method, path string) (int, []byte) {
		if path == "/v1/vault/ledger" {
			return http.StatusOK, ledger
		}
		return http.StatusOK, []byte(`{"position":{"collateral":"25"}}`)
	})

	code, stdout, stderr := runCLI("deposit", "--amount", "25")
	if code != 0 {
		t.Fatalf("deposit failed: %s", stderr)
	}
	if !strings.Contains(stdout, `"collateral": "25"`) {
		t.Fatalf("unexpected output %q", stdout)
	}
	if len(*calls) != 2 {
		t.Fatalf("expected ledger lookup plus deposit, got %d calls", len(*calls))
	}
	deposit := (*calls)[1]
	if deposit.method != http.MethodPost || deposit.path != "/v1/vault/deposit" {
		t.Fatalf("unexpected request %s %s", deposit.method, deposit.path)
	}
	body := deposit.body.(map[string]string)
	if body["mint"] != testMint.String() || body["custody"] != vault.CustodyAddress().String() || body["amount"] != "25" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestServiceErrorIsReported(t *testing.T) {
	stubVault(t, func(method, path string) (int, []byte) {
		return http.StatusUnprocessableEntity, []byte(`{"error":"vault: insufficient collateral to borrow this amount","code":"INSUFFICIENT_COLLATERAL"}`)
	})
	code, _, stderr := runCLI("borrow", "--amount", "10", "--mint", testMint.String(), "--custody", vault.CustodyAddress().String())
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "INSUFFICIENT_COLLATERAL") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestGlobalFlags(t *testing.T) {
	originalEndpoint, originalGRPC, originalToken := endpoint, grpcEndpoint, bearerToken
	t.Cleanup(func() { endpoint, grpcEndpoint, bearerToken = originalEndpoint, originalGRPC, originalToken })

	rest, err := applyGlobalFlags([]string{"--endpoint=http://vault:9000", "--grpc", "127.0.0.1:9085", "--token", "abc", "ledger"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if len(rest) != 1 || rest[0] != "ledger" {
		t.Fatalf("unexpected remaining args %v", rest)
	}
	if endpoint != "http://vault:9000" || grpcEndpoint != "127.0.0.1:9085" || bearerToken != "abc" {
		t.Fatalf("flags not applied: %s %s %s", endpoint, grpcEndpoint, bearerToken)
	}
}

func TestGenerateKeyAndToken(t *testing.T) {
	t.Setenv(passphraseEnv, "test-passphrase")
	t.Setenv(secretEnv, "0123456789abcdef0123456789abcdef")
	path := filepath.Join(t.TempDir(), "wallet.json")

	code, stdout, stderr := runCLI("generate-key", "--out", path)
	if code != 0 {
		t.Fatalf("generate-key failed: %s", stderr)
	}
	if !strings.Contains(stdout, "Address: safe1") {
		t.Fatalf("unexpected output %q", stdout)
	}

	code, _, stderr = runCLI("generate-key", "--out", path)
	if code != 1 || !strings.Contains(stderr, "already exists") {
		t.Fatalf("expected refusal to overwrite, got %d %q", code, stderr)
	}

	code, addrOut, stderr := runCLI("address", "--keystore", path)
	if code != 0 {
		t.Fatalf("address failed: %s", stderr)
	}
	if !strings.Contains(stdout, strings.TrimSpace(addrOut)) {
		t.Fatalf("address %q does not match generated %q", addrOut, stdout)
	}

	code, token, stderr := runCLI("token", "--keystore", path, "--scope", "vault:user,vault:admin")
	if code != 0 {
		t.Fatalf("token failed: %s", stderr)
	}
	if strings.Count(strings.TrimSpace(token), ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", token)
	}
}

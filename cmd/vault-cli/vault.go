package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"safevault/crypto"
	"safevault/native/vault"
	"safevault/services/vaultd/middleware"
)

const maxResponseBytes = 1 << 20

// vaultCall performs a request against vaultd and returns the status and raw
// body. Tests replace it.
var vaultCall = doVaultRequest

var httpClient = &http.Client{Timeout: 15 * time.Second}

func doVaultRequest(method, path string, body interface{}) (int, []byte, error) {
	if grpcEndpoint != "" {
		return doGRPCRequest(method, path, body)
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, strings.TrimRight(endpoint, "/")+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// call runs a request and prints the JSON result or the service error.
func call(method, path string, body interface{}, stdout, stderr io.Writer) int {
	status, data, err := vaultCall(method, path, body)
	if err != nil {
		fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if status < 200 || status > 299 {
		return printServiceError(stderr, status, data)
	}
	writeResult(stdout, data)
	return 0
}

func printServiceError(w io.Writer, status int, data []byte) int {
	var body middleware.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		fmt.Fprintf(w, "Error: HTTP %d: %s\n", status, strings.TrimSpace(string(data)))
		return 1
	}
	fmt.Fprintf(w, "Error: %s: %s\n", body.Code, body.Error)
	return 1
}

func writeResult(w io.Writer, data []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		w.Write(data)
		return
	}
	pretty.WriteByte('\n')
	w.Write(pretty.Bytes())
}

func validAmount(raw string) error {
	if raw == "" {
		return fmt.Errorf("--amount is required")
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		return fmt.Errorf("--amount must be a positive base-10 integer")
	}
	return nil
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init", stderr)
	var (
		mint     string
		maxLTV   uint64
		refPrice uint64
	)
	fs.StringVar(&mint, "mint", "", "collateral mint address")
	fs.Uint64Var(&maxLTV, "max-ltv-bps", vault.DefaultMaxLTVBps, "maximum loan-to-value in basis points")
	fs.Uint64Var(&refPrice, "price", vault.DefaultReferencePrice, "reference price of one collateral unit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	if mint == "" {
		return printError(stderr, "--mint is required")
	}
	if _, err := crypto.ParseAddress(crypto.MintPrefix, mint); err != nil {
		return printError(stderr, fmt.Sprintf("--mint: %v", err))
	}
	params := vault.Params{MaxLTVBps: maxLTV, ReferencePrice: refPrice}
	if err := params.Validate(); err != nil {
		return printError(stderr, err.Error())
	}
	return call(http.MethodPost, "/v1/vault/initialize", map[string]interface{}{
		"collateralMint": mint,
		"custody":        vault.CustodyAddress().String(),
		"params":         params,
	}, stdout, stderr)
}

func runInstruction(op string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(op, stderr)
	var amount, mint, custody string
	fs.StringVar(&amount, "amount", "", "amount in base units")
	fs.StringVar(&mint, "mint", "", "collateral mint (defaults to the ledger's)")
	fs.StringVar(&custody, "custody", "", "custody account (defaults to the ledger's)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	if err := validAmount(amount); err != nil {
		return printError(stderr, err.Error())
	}
	if mint == "" || custody == "" {
		ledger, code := fetchLedger(stderr)
		if code != 0 {
			return code
		}
		if mint == "" {
			mint = ledger.CollateralMint.String()
		}
		if custody == "" {
			custody = ledger.Custody.String()
		}
	}
	return call(http.MethodPost, "/v1/vault/"+op, map[string]string{
		"mint":    mint,
		"custody": custody,
		"amount":  amount,
	}, stdout, stderr)
}

func fetchLedger(stderr io.Writer) (*vault.Ledger, int) {
	status, data, err := vaultCall(http.MethodGet, "/v1/vault/ledger", nil)
	if err != nil {
		fmt.Fprintf(stderr, "request failed: %v\n", err)
		return nil, 1
	}
	if status != http.StatusOK {
		return nil, printServiceError(stderr, status, data)
	}
	var ledger vault.Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, printError(stderr, fmt.Sprintf("decode ledger: %v", err))
	}
	return &ledger, 0
}

func runLedger(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("ledger", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return call(http.MethodGet, "/v1/vault/ledger", nil, stdout, stderr)
}

func ownerFlag(name string, args []string, stderr io.Writer) (string, bool) {
	fs := newFlagSet(name, stderr)
	owner := fs.String("owner", "", "account address")
	if err := fs.Parse(args); err != nil {
		return "", false
	}
	if *owner == "" {
		printError(stderr, "--owner is required")
		return "", false
	}
	if _, err := crypto.ParseAddress(crypto.AccountPrefix, *owner); err != nil {
		printError(stderr, fmt.Sprintf("--owner: %v", err))
		return "", false
	}
	return *owner, true
}

func runPosition(args []string, stdout, stderr io.Writer) int {
	owner, ok := ownerFlag("position", args, stderr)
	if !ok {
		return 1
	}
	return call(http.MethodGet, "/v1/vault/positions/"+url.PathEscape(owner), nil, stdout, stderr)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	owner, ok := ownerFlag("balance", args, stderr)
	if !ok {
		return 1
	}
	return call(http.MethodGet, "/v1/bank/balances/"+url.PathEscape(owner), nil, stdout, stderr)
}

func runMint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mint", stderr)
	var owner, amount string
	fs.StringVar(&owner, "owner", "", "wallet owner address")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if owner == "" {
		return printError(stderr, "--owner is required")
	}
	if _, err := crypto.ParseAddress(crypto.AccountPrefix, owner); err != nil {
		return printError(stderr, fmt.Sprintf("--owner: %v", err))
	}
	if err := validAmount(amount); err != nil {
		return printError(stderr, err.Error())
	}
	return call(http.MethodPost, "/v1/bank/mint", map[string]string{"owner": owner, "amount": amount}, stdout, stderr)
}

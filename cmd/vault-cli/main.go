package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	endpointEnv   = "SAFEVAULT_ENDPOINT"
	grpcEnv       = "SAFEVAULT_GRPC_ENDPOINT"
	tokenEnv      = "SAFEVAULT_TOKEN"
	passphraseEnv = "SAFEVAULT_KEYSTORE_PASSPHRASE"
	secretEnv     = "SAFEVAULT_HMAC_SECRET"
)

var (
	endpoint     = defaultEndpoint()
	grpcEndpoint = strings.TrimSpace(os.Getenv(grpcEnv))
	bearerToken  = strings.TrimSpace(os.Getenv(tokenEnv))
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "init":
		return runInit(args[1:], stdout, stderr)
	case "deposit", "borrow", "repay", "withdraw":
		return runInstruction(args[0], args[1:], stdout, stderr)
	case "ledger":
		return runLedger(args[1:], stdout, stderr)
	case "position":
		return runPosition(args[1:], stdout, stderr)
	case "mint":
		return runMint(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultEndpoint() string {
	if value := strings.TrimSpace(os.Getenv(endpointEnv)); value != "" {
		return value
	}
	return "http://127.0.0.1:8085"
}

// applyGlobalFlags strips --endpoint, --grpc and --token from the front of
// args.
func applyGlobalFlags(args []string) ([]string, error) {
	for len(args) > 0 {
		name, value, hasValue := strings.Cut(args[0], "=")
		switch name {
		case "--endpoint", "--grpc", "--token":
		default:
			return args, nil
		}
		if !hasValue {
			if len(args) < 2 {
				return nil, fmt.Errorf("%s requires a value", name)
			}
			value = args[1]
			args = args[1:]
		}
		args = args[1:]
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, fmt.Errorf("%s cannot be empty", name)
		}
		switch name {
		case "--endpoint":
			endpoint = value
		case "--grpc":
			grpcEndpoint = value
		default:
			bearerToken = value
		}
	}
	return args, nil
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func usage() string {
	return strings.TrimSpace(`Usage:
  vault-cli [--endpoint URL] [--grpc ADDR] [--token JWT] <command> [flags]

  --grpc sends vault commands to the gRPC listener instead of HTTP. Prefix
  ADDR with tls:// to dial with TLS.

Key management:
  generate-key  Create an encrypted keystore and print its address
  address       Print the address held in a keystore
  token         Issue a bearer token for an address

Vault:
  init          Initialize the vault ledger (admin)
  deposit       Deposit collateral into your position
  borrow        Borrow against your collateral
  repay         Repay outstanding debt
  withdraw      Withdraw collateral
  ledger        Show the vault ledger
  position      Show a position and its health

Bank:
  mint          Credit collateral tokens to a wallet (admin)
  balance       Show a wallet balance
`)
}

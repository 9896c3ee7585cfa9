package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"safevault/cmd/internal/passphrase"
	"safevault/crypto"
	"safevault/services/vaultd/middleware"
)

var (
	tokenNow      = time.Now
	newPassphrase = func() interface{ Get() (string, error) } { return passphrase.NewSource(passphraseEnv) }
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	out := fs.String("out", "wallet.json", "keystore file to create")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return printError(stderr, fmt.Sprintf("%s already exists; pass --force to overwrite", path))
	}
	pass, err := newPassphrase().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr, err := crypto.NewKeystoreIdentity(path, pass)
	if err != nil {
		return printError(stderr, fmt.Sprintf("create keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Keystore written to %s\n", path)
	fmt.Fprintf(stdout, "Address: %s\n", addr)
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keystorePath := fs.String("keystore", "wallet.json", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := keystoreAddress(*keystorePath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, addr)
	return 0
}

func keystoreAddress(path string) (crypto.Address, error) {
	if strings.TrimSpace(path) == "" {
		return crypto.Address{}, fmt.Errorf("--keystore is required")
	}
	pass, err := newPassphrase().Get()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("open keystore: %w", err)
	}
	return key.PubKey().Address(), nil
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		subject      string
		keystorePath string
		scopes       string
		issuer       string
		audience     string
		secretVar    string
		ttl          time.Duration
	)
	fs.StringVar(&subject, "subject", "", "account address to authenticate as")
	fs.StringVar(&keystorePath, "keystore", "", "derive the subject from this keystore")
	fs.StringVar(&scopes, "scope", middleware.ScopeUser, "comma separated scopes")
	fs.StringVar(&issuer, "issuer", "", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.StringVar(&secretVar, "secret-env", secretEnv, "environment variable holding the HMAC secret")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if (subject == "") == (keystorePath == "") {
		return printError(stderr, "exactly one of --subject or --keystore is required")
	}
	if keystorePath != "" {
		addr, err := keystoreAddress(keystorePath)
		if err != nil {
			return printError(stderr, err.Error())
		}
		subject = addr.String()
	} else if _, err := crypto.ParseAddress(crypto.AccountPrefix, subject); err != nil {
		return printError(stderr, fmt.Sprintf("--subject: %v", err))
	}
	secret := strings.TrimSpace(os.Getenv(secretVar))
	if secret == "" {
		return printError(stderr, fmt.Sprintf("%s is not set", secretVar))
	}
	var scopeList []string
	for _, scope := range strings.Split(scopes, ",") {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			scopeList = append(scopeList, trimmed)
		}
	}
	token, err := middleware.IssueToken(middleware.TokenRequest{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
		Subject:  subject,
		Scopes:   scopeList,
		TTL:      ttl,
		Now:      tokenNow(),
	})
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"safevault/crypto"
)

const maxLTVBps = 10_000

// Genesis seeds a fresh vault: the ledger configuration applied through
// Initialize, optional custody liquidity, and funded user wallets.
type Genesis struct {
	Admin            string          `toml:"Admin"`
	CollateralMint   string          `toml:"CollateralMint"`
	MaxLTVBps        uint64          `toml:"MaxLTVBps"`
	ReferencePrice   uint64          `toml:"ReferencePrice"`
	CustodyLiquidity uint64          `toml:"CustodyLiquidity"`
	Wallets          []GenesisWallet `toml:"Wallets"`
}

// GenesisWallet credits Amount of the collateral mint to Address.
type GenesisWallet struct {
	Address string `toml:"Address"`
	Amount  uint64 `toml:"Amount"`
}

// Wallet is a GenesisWallet with its address decoded.
type Wallet struct {
	Owner  crypto.Address
	Amount uint64
}

// Resolved is a validated genesis with decoded identities.
type Resolved struct {
	Admin            crypto.Address
	CollateralMint   crypto.Address
	MaxLTVBps        uint64
	ReferencePrice   uint64
	CustodyLiquidity uint64
	Wallets          []Wallet
}

// LoadGenesis decodes and validates the TOML genesis file at path. Unknown
// keys are rejected.
func LoadGenesis(path string) (*Resolved, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("genesis path required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	var g Genesis
	meta, err := toml.DecodeFile(path, &g)
	if err != nil {
		return nil, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis: unknown key %q", undecoded[0].String())
	}
	return g.Resolve()
}

// Resolve validates g and decodes its addresses.
func (g Genesis) Resolve() (*Resolved, error) {
	admin, err := crypto.ParseAddress(crypto.AccountPrefix, g.Admin)
	if err != nil {
		return nil, fmt.Errorf("genesis: Admin: %w", err)
	}
	mint, err := crypto.ParseAddress(crypto.MintPrefix, g.CollateralMint)
	if err != nil {
		return nil, fmt.Errorf("genesis: CollateralMint: %w", err)
	}
	if g.MaxLTVBps > maxLTVBps {
		return nil, fmt.Errorf("genesis: MaxLTVBps %d exceeds %d", g.MaxLTVBps, maxLTVBps)
	}
	out := &Resolved{
		Admin:            admin,
		CollateralMint:   mint,
		MaxLTVBps:        g.MaxLTVBps,
		ReferencePrice:   g.ReferencePrice,
		CustodyLiquidity: g.CustodyLiquidity,
		Wallets:          make([]Wallet, 0, len(g.Wallets)),
	}
	seen := make(map[string]struct{}, len(g.Wallets))
	for i, w := range g.Wallets {
		owner, err := crypto.ParseAddress(crypto.AccountPrefix, w.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis: Wallets[%d]: %w", i, err)
		}
		if w.Amount == 0 {
			return nil, fmt.Errorf("genesis: Wallets[%d]: amount must be positive", i)
		}
		key := string(owner.Bytes())
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("genesis: Wallets[%d]: duplicate address %s", i, owner)
		}
		seen[key] = struct{}{}
		out.Wallets = append(out.Wallets, Wallet{Owner: owner, Amount: w.Amount})
	}
	return out, nil
}

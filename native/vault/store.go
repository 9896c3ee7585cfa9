package vault

import (
	"fmt"

	"safevault/core/state"
	"safevault/crypto"
)

type storedLedger struct {
	Admin           []byte
	CollateralMint  []byte
	Custody         []byte
	MaxLTVBps       uint64
	ReferencePrice  uint64
	TotalCollateral uint64
	TotalBorrowed   uint64
}

type storedPosition struct {
	Owner      []byte
	Collateral uint64
	Borrowed   uint64
}

func loadLedger(tx *state.Tx) (*Ledger, error) {
	var stored storedLedger
	ok, err := tx.KVGet(ledgerKey(), &stored)
	if err != nil {
		return nil, fmt.Errorf("vault: load ledger: %w", err)
	}
	if !ok {
		return nil, nil
	}
	admin, err := crypto.AddressFromBytes(crypto.AccountPrefix, stored.Admin)
	if err != nil {
		return nil, fmt.Errorf("vault: corrupt ledger admin: %w", err)
	}
	mint, err := crypto.AddressFromBytes(crypto.MintPrefix, stored.CollateralMint)
	if err != nil {
		return nil, fmt.Errorf("vault: corrupt ledger mint: %w", err)
	}
	custody, err := crypto.AddressFromBytes(crypto.ProgramPrefix, stored.Custody)
	if err != nil {
		return nil, fmt.Errorf("vault: corrupt ledger custody: %w", err)
	}
	return &Ledger{
		Admin:           admin,
		CollateralMint:  mint,
		Custody:         custody,
		Params:          Params{MaxLTVBps: stored.MaxLTVBps, ReferencePrice: stored.ReferencePrice},
		TotalCollateral: stored.TotalCollateral,
		TotalBorrowed:   stored.TotalBorrowed,
	}, nil
}

func persistLedger(tx *state.Tx, ledger *Ledger) error {
	return tx.KVPut(ledgerKey(), storedLedger{
		Admin:           ledger.Admin.Bytes(),
		CollateralMint:  ledger.CollateralMint.Bytes(),
		Custody:         ledger.Custody.Bytes(),
		MaxLTVBps:       ledger.Params.MaxLTVBps,
		ReferencePrice:  ledger.Params.ReferencePrice,
		TotalCollateral: ledger.TotalCollateral,
		TotalBorrowed:   ledger.TotalBorrowed,
	})
}

func loadPosition(tx *state.Tx, owner crypto.Address) (*Position, error) {
	addr := PositionAddress(owner)
	var stored storedPosition
	ok, err := tx.KVGet(positionKey(addr), &stored)
	if err != nil {
		return nil, fmt.Errorf("vault: load position: %w", err)
	}
	if !ok {
		return nil, nil
	}
	storedOwner, err := crypto.AddressFromBytes(crypto.AccountPrefix, stored.Owner)
	if err != nil {
		return nil, fmt.Errorf("vault: corrupt position owner: %w", err)
	}
	return &Position{
		Address:    addr,
		Owner:      storedOwner,
		Collateral: stored.Collateral,
		Borrowed:   stored.Borrowed,
	}, nil
}

func persistPosition(tx *state.Tx, pos *Position) error {
	return tx.KVPut(positionKey(pos.Address), storedPosition{
		Owner:      pos.Owner.Bytes(),
		Collateral: pos.Collateral,
		Borrowed:   pos.Borrowed,
	})
}

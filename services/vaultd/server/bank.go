package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"safevault/core/state"
	"safevault/crypto"
)

type mintRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type balanceResponse struct {
	Owner   crypto.Address `json:"owner"`
	Wallet  crypto.Address `json:"wallet"`
	Mint    crypto.Address `json:"mint"`
	Balance string         `json:"balance"`
}

// mint credits collateral tokens to an owner's wallet. It is the faucet used
// by operators and local environments, and is closed while the vault is paused.
func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Guard(); err != nil {
		s.writeError(w, err)
		return
	}
	var req mintRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	owner, err := parseAddress("owner", crypto.AccountPrefix, req.Owner, "INVALID_OWNER")
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ledger, err := s.engine.Ledger()
	if err != nil {
		s.writeError(w, err)
		return
	}
	var resp balanceResponse
	err = s.state.Update(func(tx *state.Tx) error {
		wallet, err := s.bank.MintTo(tx, ledger.CollateralMint, owner, amount)
		if err != nil {
			return err
		}
		balance, err := s.bank.Balance(tx, wallet)
		if err != nil {
			return err
		}
		resp = balanceResponse{Owner: owner, Wallet: wallet, Mint: ledger.CollateralMint, Balance: strconv.FormatUint(balance, 10)}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("faucet mint",
		"owner", owner.String(),
		"amount", amount)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", crypto.AccountPrefix, chi.URLParam(r, "owner"), "INVALID_OWNER")
	if err != nil {
		s.writeError(w, err)
		return
	}
	ledger, err := s.engine.Ledger()
	if err != nil {
		s.writeError(w, err)
		return
	}
	wallet := s.bank.WalletAccount(owner, ledger.CollateralMint)
	var balance uint64
	err = s.state.View(func(tx *state.Tx) error {
		var err error
		balance, err = s.bank.Balance(tx, wallet)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Owner:   owner,
		Wallet:  wallet,
		Mint:    ledger.CollateralMint,
		Balance: strconv.FormatUint(balance, 10),
	})
}

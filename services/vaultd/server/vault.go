package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"safevault/crypto"
	"safevault/native/vault"
	"safevault/services/vaultd/middleware"
)

type initializeRequest struct {
	CollateralMint string       `json:"collateralMint"`
	Custody        string       `json:"custody"`
	Params         vault.Params `json:"params"`
}

type instructionRequest struct {
	Mint    string `json:"mint"`
	Custody string `json:"custody"`
	Amount  string `json:"amount"`
}

type instruction struct {
	Owner   crypto.Address
	Mint    crypto.Address
	Custody crypto.Address
	Amount  uint64
}

type positionResponse struct {
	Position *vault.Position `json:"position"`
	Health   *vault.Health   `json:"health,omitempty"`
}

type repayResponse struct {
	Position *vault.Position `json:"position"`
	Repaid   string          `json:"repaid"`
}

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	var req initializeRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	mint, err := parseAddress("collateralMint", crypto.MintPrefix, req.CollateralMint, "INVALID_MINT")
	if err != nil {
		s.writeError(w, err)
		return
	}
	custody, err := parseAddress("custody", crypto.ProgramPrefix, req.Custody, "MINT_MISMATCH")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := r.Context().Err(); err != nil {
		return
	}
	start := s.now()
	ledger, err := s.engine.Initialize(vault.InitializeRequest{
		Admin:          caller.Owner,
		CollateralMint: mint,
		Custody:        custody,
		Params:         req.Params,
	})
	s.metrics.Observe("initialize", vault.Code(err), 0, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SetTotals(ledger.TotalCollateral, ledger.TotalBorrowed)
	writeJSON(w, http.StatusCreated, ledger)
}

// decodeInstruction reads an instruction body on behalf of the caller.
func (s *Server) decodeInstruction(r *http.Request) (instruction, error) {
	caller, _ := middleware.CallerFromContext(r.Context())
	if caller.Owner.IsZero() {
		return instruction{}, invalid("INVALID_OWNER", errInvalidOwner)
	}
	var req instructionRequest
	if err := decodeRequest(r, &req); err != nil {
		return instruction{}, err
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

// execute runs op for a decoded instruction, recording metrics and refreshing
// the ledger gauges on success. run reports the amount actually moved.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, op string, run func(instruction) (interface{}, uint64, error)) {
	in, err := s.decodeInstruction(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := r.Context().Err(); err != nil {
		return
	}
	start := s.now()
	payload, moved, err := run(in)
	s.metrics.Observe(op, vault.Code(err), moved, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ledger, lerr := s.engine.Ledger(); lerr == nil {
		s.metrics.SetTotals(ledger.TotalCollateral, ledger.TotalBorrowed)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "deposit", func(in instruction) (interface{}, uint64, error) {
		pos, err := s.engine.Deposit(vault.DepositRequest(in))
		if err != nil {
			return nil, 0, err
		}
		return positionResponse{Position: pos}, in.Amount, nil
	})
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "borrow", func(in instruction) (interface{}, uint64, error) {
		pos, err := s.engine.Borrow(vault.BorrowRequest(in))
		if err != nil {
			return nil, 0, err
		}
		return positionResponse{Position: pos}, in.Amount, nil
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "repay", func(in instruction) (interface{}, uint64, error) {
		pos, repaid, err := s.engine.Repay(vault.RepayRequest(in))
		if err != nil {
			return nil, 0, err
		}
		return repayResponse{Position: pos, Repaid: strconv.FormatUint(repaid, 10)}, repaid, nil
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, "withdraw", func(in instruction) (interface{}, uint64, error) {
		pos, err := s.engine.WithdrawCollateral(vault.WithdrawRequest(in))
		if err != nil {
			return nil, 0, err
		}
		return positionResponse{Position: pos}, in.Amount, nil
	})
}

func (s *Server) getLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.engine.Ledger()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", crypto.AccountPrefix, chi.URLParam(r, "owner"), "INVALID_OWNER")
	if err != nil {
		s.writeError(w, err)
		return
	}
	pos, err := s.engine.Position(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	health, err := s.engine.Health(owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Position: pos, Health: health})
}

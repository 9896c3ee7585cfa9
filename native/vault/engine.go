package vault

import (
	"log/slog"
	"sync"

	"safevault/core/events"
	"safevault/core/state"
	"safevault/core/types"
	"safevault/crypto"
	nativecommon "safevault/native/common"
)

const moduleName = "vault"

// Custody moves collateral between wallet token accounts and the pooled
// custody account. Calls run inside the engine's transaction so a failed
// operation rolls the transfer back with everything else.
type Custody interface {
	WalletAccount(owner, mint crypto.Address) crypto.Address
	OpenAccount(tx *state.Tx, account, owner, mint crypto.Address) error
	Transfer(tx *state.Tx, mint, from, to crypto.Address, amount uint64) error
}

type vaultEvent struct {
	evt *types.Event
}

func (e vaultEvent) EventType() string { return e.evt.EventType() }

func (e vaultEvent) Event() *types.Event { return e.evt }

// Engine executes vault instructions. Each instruction is a single
// serialised state transaction: validation, position and ledger updates and
// the custody transfer either all commit or none do.
type Engine struct {
	// commitMu spans a commit and its event so emitters observe commit order.
	commitMu sync.Mutex

	state   *state.Manager
	custody Custody
	pauses  nativecommon.PauseView
	emitter events.Emitter
	logger  *slog.Logger
}

// NewEngine wires the engine to its state manager and custody collaborator.
func NewEngine(st *state.Manager, custody Custody) *Engine {
	return &Engine{
		state:   st,
		custody: custody,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.custody == nil {
		return errNilState
	}
	return nil
}

// commit runs fn as one state transaction and, on success, emits the event
// built by event before another instruction can commit.
func (e *Engine) commit(fn func(tx *state.Tx) error, event func() *types.Event) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if err := e.state.Update(fn); err != nil {
		return err
	}
	e.emit(event())
	return nil
}

// Guard reports ErrModulePaused while the vault module is paused.
func (e *Engine) Guard() error {
	if e == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) emit(event *types.Event) {
	if e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vaultEvent{evt: event})
}

func (e *Engine) reject(op string, owner crypto.Address, amount uint64, err error) error {
	e.logger.Warn("vault operation rejected",
		slog.String("op", op),
		slog.String("owner", owner.String()),
		slog.Uint64("amount", amount),
		slog.String("code", Code(err)),
		slog.String("error", err.Error()))
	return err
}

func (e *Engine) committed(op string, pos *Position, amount uint64) {
	e.logger.Info("vault operation committed",
		slog.String("op", op),
		slog.String("owner", pos.Owner.String()),
		slog.Uint64("amount", amount),
		slog.Uint64("collateral", pos.Collateral),
		slog.Uint64("borrowed", pos.Borrowed))
}

// requireLedger loads the ledger and checks the caller's view of the mint and
// custody account against it.
func requireLedger(tx *state.Tx, mint, custody crypto.Address) (*Ledger, error) {
	ledger, err := loadLedger(tx)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, ErrNotInitialized
	}
	if !ledger.CollateralMint.Equal(mint) || !ledger.Custody.Equal(custody) {
		return nil, ErrMintMismatch
	}
	return ledger, nil
}

func requirePosition(tx *state.Tx, owner crypto.Address) (*Position, error) {
	pos, err := loadPosition(tx, owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

func (e *Engine) precheck(owner crypto.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if owner.IsZero() {
		return ErrInvalidOwner
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Initialize creates the ledger and opens the pooled custody account bound to
// the collateral mint. Zero params fall back to DefaultParams.
func (e *Engine) Initialize(req InitializeRequest) (*Ledger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, e.reject("initialize", req.Admin, 0, err)
	}
	if req.Admin.IsZero() {
		return nil, e.reject("initialize", req.Admin, 0, ErrInvalidOwner)
	}
	if req.CollateralMint.IsZero() {
		return nil, e.reject("initialize", req.Admin, 0, ErrInvalidMint)
	}
	custody := CustodyAddress()
	if !req.Custody.Equal(custody) {
		return nil, e.reject("initialize", req.Admin, 0, ErrMintMismatch)
	}
	params := req.Params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, e.reject("initialize", req.Admin, 0, err)
	}

	ledger := &Ledger{
		Admin:          req.Admin,
		CollateralMint: req.CollateralMint,
		Custody:        custody,
		Params:         params,
	}
	err := e.commit(func(tx *state.Tx) error {
		existing, err := loadLedger(tx)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyInitialized
		}
		if err := e.custody.OpenAccount(tx, custody, LedgerAddress(), req.CollateralMint); err != nil {
			return transferFailed(err)
		}
		return persistLedger(tx, ledger)
	}, func() *types.Event { return NewInitializedEvent(ledger) })
	if err != nil {
		return nil, e.reject("initialize", req.Admin, 0, err)
	}
	e.logger.Info("vault initialized",
		slog.String("admin", ledger.Admin.String()),
		slog.String("mint", ledger.CollateralMint.String()),
		slog.Uint64("maxLtvBps", params.MaxLTVBps),
		slog.Uint64("referencePrice", params.ReferencePrice))
	return ledger, nil
}

// Deposit moves amount from the owner's wallet into custody and credits the
// owner's position, creating it on first use.
func (e *Engine) Deposit(req DepositRequest) (*Position, error) {
	if err := e.precheck(req.Owner, req.Amount); err != nil {
		return nil, e.reject("deposit", req.Owner, req.Amount, err)
	}
	var (
		pos    *Position
		ledger *Ledger
	)
	err := e.commit(func(tx *state.Tx) error {
		var err error
		if ledger, err = requireLedger(tx, req.Mint, req.Custody); err != nil {
			return err
		}
		if pos, err = loadPosition(tx, req.Owner); err != nil {
			return err
		}
		if pos == nil {
			pos = &Position{Address: PositionAddress(req.Owner), Owner: req.Owner}
		}
		collateral, err := checkedAdd(pos.Collateral, req.Amount)
		if err != nil {
			return err
		}
		total, err := checkedAdd(ledger.TotalCollateral, req.Amount)
		if err != nil {
			return err
		}
		wallet := e.custody.WalletAccount(req.Owner, ledger.CollateralMint)
		if err := e.custody.Transfer(tx, ledger.CollateralMint, wallet, ledger.Custody, req.Amount); err != nil {
			return transferFailed(err)
		}
		pos.Collateral = collateral
		ledger.TotalCollateral = total
		if err := persistPosition(tx, pos); err != nil {
			return err
		}
		return persistLedger(tx, ledger)
	}, func() *types.Event { return NewDepositedEvent(pos, ledger, req.Amount) })
	if err != nil {
		return nil, e.reject("deposit", req.Owner, req.Amount, err)
	}
	e.committed("deposit", pos, req.Amount)
	return pos, nil
}

// Borrow pays amount from custody to the owner's wallet provided the new debt
// stays within collateral * price * maxLtvBps / 10000. The ceiling itself is
// allowed.
func (e *Engine) Borrow(req BorrowRequest) (*Position, error) {
	if err := e.precheck(req.Owner, req.Amount); err != nil {
		return nil, e.reject("borrow", req.Owner, req.Amount, err)
	}
	var (
		pos    *Position
		ledger *Ledger
	)
	err := e.commit(func(tx *state.Tx) error {
		var err error
		if ledger, err = requireLedger(tx, req.Mint, req.Custody); err != nil {
			return err
		}
		if pos, err = requirePosition(tx, req.Owner); err != nil {
			return err
		}
		debt, err := checkedAdd(pos.Borrowed, req.Amount)
		if err != nil {
			return err
		}
		if debt > maxBorrow(pos.Collateral, ledger.Params) {
			return ErrInsufficientCollateral
		}
		total, err := checkedAdd(ledger.TotalBorrowed, req.Amount)
		if err != nil {
			return err
		}
		wallet := e.custody.WalletAccount(req.Owner, ledger.CollateralMint)
		if err := e.custody.Transfer(tx, ledger.CollateralMint, ledger.Custody, wallet, req.Amount); err != nil {
			return transferFailed(err)
		}
		pos.Borrowed = debt
		ledger.TotalBorrowed = total
		if err := persistPosition(tx, pos); err != nil {
			return err
		}
		return persistLedger(tx, ledger)
	}, func() *types.Event { return NewBorrowedEvent(pos, ledger, req.Amount) })
	if err != nil {
		return nil, e.reject("borrow", req.Owner, req.Amount, err)
	}
	e.committed("borrow", pos, req.Amount)
	return pos, nil
}

// Repay returns up to amount of outstanding debt to custody. Amounts above
// the debt are capped; the repaid amount is returned alongside the position.
func (e *Engine) Repay(req RepayRequest) (*Position, uint64, error) {
	if err := e.precheck(req.Owner, req.Amount); err != nil {
		return nil, 0, e.reject("repay", req.Owner, req.Amount, err)
	}
	var (
		pos    *Position
		ledger *Ledger
		repaid uint64
	)
	err := e.commit(func(tx *state.Tx) error {
		var err error
		if ledger, err = requireLedger(tx, req.Mint, req.Custody); err != nil {
			return err
		}
		if pos, err = requirePosition(tx, req.Owner); err != nil {
			return err
		}
		if pos.Borrowed == 0 {
			return ErrNoDebt
		}
		repaid = req.Amount
		if repaid > pos.Borrowed {
			repaid = pos.Borrowed
		}
		total, err := checkedSub(ledger.TotalBorrowed, repaid)
		if err != nil {
			return err
		}
		wallet := e.custody.WalletAccount(req.Owner, ledger.CollateralMint)
		if err := e.custody.Transfer(tx, ledger.CollateralMint, wallet, ledger.Custody, repaid); err != nil {
			return transferFailed(err)
		}
		pos.Borrowed -= repaid
		ledger.TotalBorrowed = total
		if err := persistPosition(tx, pos); err != nil {
			return err
		}
		return persistLedger(tx, ledger)
	}, func() *types.Event { return NewRepaidEvent(pos, ledger, repaid) })
	if err != nil {
		return nil, 0, e.reject("repay", req.Owner, req.Amount, err)
	}
	e.committed("repay", pos, repaid)
	return pos, repaid, nil
}

// WithdrawCollateral releases collateral back to the owner's wallet as long as
// the remaining collateral still covers the outstanding debt.
func (e *Engine) WithdrawCollateral(req WithdrawRequest) (*Position, error) {
	if err := e.precheck(req.Owner, req.Amount); err != nil {
		return nil, e.reject("withdraw", req.Owner, req.Amount, err)
	}
	var (
		pos    *Position
		ledger *Ledger
	)
	err := e.commit(func(tx *state.Tx) error {
		var err error
		if ledger, err = requireLedger(tx, req.Mint, req.Custody); err != nil {
			return err
		}
		if pos, err = requirePosition(tx, req.Owner); err != nil {
			return err
		}
		if req.Amount > pos.Collateral {
			return ErrExceedsPosition
		}
		remaining := pos.Collateral - req.Amount
		if !healthy(remaining, pos.Borrowed, ledger.Params) {
			return ErrInsufficientCollateral
		}
		total, err := checkedSub(ledger.TotalCollateral, req.Amount)
		if err != nil {
			return err
		}
		wallet := e.custody.WalletAccount(req.Owner, ledger.CollateralMint)
		if err := e.custody.Transfer(tx, ledger.CollateralMint, ledger.Custody, wallet, req.Amount); err != nil {
			return transferFailed(err)
		}
		pos.Collateral = remaining
		ledger.TotalCollateral = total
		if err := persistPosition(tx, pos); err != nil {
			return err
		}
		return persistLedger(tx, ledger)
	}, func() *types.Event { return NewWithdrawnEvent(pos, ledger, req.Amount) })
	if err != nil {
		return nil, e.reject("withdraw", req.Owner, req.Amount, err)
	}
	e.committed("withdraw", pos, req.Amount)
	return pos, nil
}

// Ledger returns the committed ledger.
func (e *Engine) Ledger() (*Ledger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var ledger *Ledger
	err := e.state.View(func(tx *state.Tx) error {
		var err error
		ledger, err = loadLedger(tx)
		if err != nil {
			return err
		}
		if ledger == nil {
			return ErrNotInitialized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// Position returns the committed position of owner.
func (e *Engine) Position(owner crypto.Address) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var pos *Position
	err := e.state.View(func(tx *state.Tx) error {
		var err error
		pos, err = requirePosition(tx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// Health reports the borrowing headroom of owner against the ledger params.
func (e *Engine) Health(owner crypto.Address) (*Health, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out *Health
	err := e.state.View(func(tx *state.Tx) error {
		ledger, err := loadLedger(tx)
		if err != nil {
			return err
		}
		if ledger == nil {
			return ErrNotInitialized
		}
		pos, err := requirePosition(tx, owner)
		if err != nil {
			return err
		}
		out = healthOf(pos, ledger.Params)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func healthOf(pos *Position, params Params) *Health {
	ceiling := maxBorrow(pos.Collateral, params)
	h := &Health{
		Collateral: pos.Collateral,
		Borrowed:   pos.Borrowed,
		MaxBorrow:  ceiling,
		LTVBps:     ltvBps(pos.Collateral, pos.Borrowed, params),
	}
	if ceiling > pos.Borrowed {
		h.Available = ceiling - pos.Borrowed
	}
	return h
}

package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"escrowd/core/events"
)

var (
	errNilLedger    = errors.New("escrow engine: ledger not configured")
	errNilCustodian = errors.New("escrow engine: custodian not configured")
	errNilParams    = errors.New("escrow engine: params source not configured")
)

// Custodian is the value-custody channel. Every method either moves the full
// amount or fails without side effects, and failures are reported
// synchronously so the engine can abort the paired state transition.
type Custodian interface {
	// Deposit pulls amount from the depositor into the custody vault.
	Deposit(from Identity, amount *big.Int) error
	// Refund returns amount from the vault to the depositor.
	Refund(to Identity, amount *big.Int) error
	// Settle releases payout to the counterparty and moves fee into the fee
	// pool as one unit.
	Settle(counterparty Identity, payout, fee *big.Int) error
}

// ParamsSource supplies the configuration snapshot read by creation and
// settlement.
type ParamsSource interface {
	EscrowParams() (Params, error)
}

// Engine implements the custody protocol over records held by the ledger.
// Callers serialize mutating calls; the engine itself holds no locks.
type Engine struct {
	ledger    *Ledger
	custodian Custodian
	params    ParamsSource
	emitter   events.Emitter
	nowFn     func() int64
}

// NewEngine wires the protocol to its collaborators with a no-op emitter.
func NewEngine(ledger *Ledger, custodian Custodian, params ParamsSource) *Engine {
	return &Engine{
		ledger:    ledger,
		custodian: custodian,
		params:    params,
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.ledger == nil:
		return errNilLedger
	case e.custodian == nil:
		return errNilCustodian
	case e.params == nil:
		return errNilParams
	default:
		return nil
	}
}

// Create opens a new custody record, pulling amount from the depositor into
// the vault. The configured cancel window is frozen into the record; later
// window changes do not affect it. Returns the stored record with its id.
func (e *Engine) Create(depositor, counterparty Identity, amount *big.Int, description string) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrPreconditionFailed)
	}
	if depositor == (Identity{}) {
		return nil, fmt.Errorf("%w: depositor identity required", ErrPreconditionFailed)
	}
	if counterparty == (Identity{}) {
		return nil, fmt.Errorf("%w: counterparty identity required", ErrPreconditionFailed)
	}
	if depositor == counterparty {
		return nil, fmt.Errorf("%w: depositor and counterparty must differ", ErrPreconditionFailed)
	}
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: description required", ErrPreconditionFailed)
	}
	params, err := e.params.EscrowParams()
	if err != nil {
		return nil, err
	}
	now := e.now()
	rec := &Record{
		Depositor:      depositor,
		Counterparty:   counterparty,
		Amount:         new(big.Int).Set(amount),
		Description:    description,
		CreatedAt:      now,
		CancelDeadline: now + params.CancelWindowSecs,
		Status:         StatusAwaitingConfirmation,
	}
	if err := e.custodian.Deposit(depositor, rec.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	id, err := e.ledger.Allocate(rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	e.emit(NewCreatedEvent(rec))
	return rec.Clone(), nil
}

// ConfirmDepositor records the depositor's confirmation. When the counterparty
// has already confirmed the record settles immediately.
func (e *Engine) ConfirmDepositor(id uint64, caller Identity) (*Record, error) {
	return e.confirm(id, caller, roleDepositor)
}

// ConfirmCounterparty records the counterparty's confirmation. When the
// depositor has already confirmed the record settles immediately.
func (e *Engine) ConfirmCounterparty(id uint64, caller Identity) (*Record, error) {
	return e.confirm(id, caller, roleCounterparty)
}

type role uint8

const (
	roleDepositor role = iota
	roleCounterparty
)

func (e *Engine) confirm(id uint64, caller Identity, who role) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var settledFee, settledPayout *big.Int
	updated, err := e.ledger.Mutate(id, func(rec *Record) error {
		if rec.Status != StatusAwaitingConfirmation {
			return fmt.Errorf("%w: record %d is %s", ErrInvalidState, id, rec.Status)
		}
		switch who {
		case roleDepositor:
			if caller != rec.Depositor {
				return fmt.Errorf("%w: only the depositor may confirm", ErrUnauthorized)
			}
			if rec.DepositorConfirmed {
				return fmt.Errorf("%w: depositor already confirmed", ErrPreconditionFailed)
			}
			rec.DepositorConfirmed = true
		case roleCounterparty:
			if caller != rec.Counterparty {
				return fmt.Errorf("%w: only the counterparty may confirm", ErrUnauthorized)
			}
			if rec.CounterpartyConfirmed {
				return fmt.Errorf("%w: counterparty already confirmed", ErrPreconditionFailed)
			}
			rec.CounterpartyConfirmed = true
		}
		if rec.DepositorConfirmed && rec.CounterpartyConfirmed {
			fee, payout, err := e.settle(rec)
			if err != nil {
				return err
			}
			settledFee, settledPayout = fee, payout
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch who {
	case roleDepositor:
		e.emit(NewDepositorConfirmedEvent(updated))
	case roleCounterparty:
		e.emit(NewCounterpartyConfirmedEvent(updated))
	}
	if settledPayout != nil {
		e.emit(NewCompletedEvent(updated, settledPayout, settledFee))
	}
	return updated, nil
}

// settle releases custody to the counterparty minus the configured fee and
// returns the split. It is reachable only from confirm while both flags are
// true; the forward-only status transition guarantees it runs at most once per
// record.
func (e *Engine) settle(rec *Record) (fee, payout *big.Int, err error) {
	if !rec.DepositorConfirmed || !rec.CounterpartyConfirmed {
		return nil, nil, fmt.Errorf("%w: settlement requires both confirmations", ErrPreconditionFailed)
	}
	params, err := e.params.EscrowParams()
	if err != nil {
		return nil, nil, err
	}
	fee, payout = splitAmount(rec.Amount, params.FeeBps)
	if err := e.custodian.Settle(rec.Counterparty, payout, fee); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	rec.Status = StatusCompleted
	return fee, payout, nil
}

// splitAmount computes the floor-division fee and the remaining payout.
func splitAmount(amount *big.Int, feeBps uint32) (fee, payout *big.Int) {
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(FeeDenominator))
	payout = new(big.Int).Sub(amount, fee)
	return fee, payout
}

// CancelByDepositor returns the full amount to the depositor. Allowed only
// while awaiting confirmation, within the cancel window, and before the
// counterparty has confirmed.
func (e *Engine) CancelByDepositor(id uint64, caller Identity) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	updated, err := e.ledger.Mutate(id, func(rec *Record) error {
		if rec.Status != StatusAwaitingConfirmation {
			return fmt.Errorf("%w: record %d is %s", ErrInvalidState, id, rec.Status)
		}
		if caller != rec.Depositor {
			return fmt.Errorf("%w: only the depositor may cancel", ErrUnauthorized)
		}
		if rec.CounterpartyConfirmed {
			return fmt.Errorf("%w: counterparty already confirmed", ErrPreconditionFailed)
		}
		if e.now() > rec.CancelDeadline {
			return fmt.Errorf("%w: cancel window expired", ErrPreconditionFailed)
		}
		if err := e.custodian.Refund(rec.Depositor, rec.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		rec.Status = StatusCancelledByDepositor
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewCancelledByDepositorEvent(updated))
	return updated, nil
}

// CancelByCounterparty returns the full amount to the depositor. The
// counterparty may cancel at any time before the depositor confirms; no
// deadline applies.
func (e *Engine) CancelByCounterparty(id uint64, caller Identity) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	updated, err := e.ledger.Mutate(id, func(rec *Record) error {
		if rec.Status != StatusAwaitingConfirmation {
			return fmt.Errorf("%w: record %d is %s", ErrInvalidState, id, rec.Status)
		}
		if caller != rec.Counterparty {
			return fmt.Errorf("%w: only the counterparty may cancel", ErrUnauthorized)
		}
		if rec.DepositorConfirmed {
			return fmt.Errorf("%w: depositor already confirmed", ErrPreconditionFailed)
		}
		if err := e.custodian.Refund(rec.Depositor, rec.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		rec.Status = StatusCancelledByCounterparty
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewCancelledByCounterpartyEvent(updated))
	return updated, nil
}

// CanDepositorCancel reports whether the depositor currently holds the
// unilateral cancellation right and, when true, the seconds remaining until
// the window closes. Read-only.
func (e *Engine) CanDepositorCancel(id uint64) (bool, int64, error) {
	if err := e.ready(); err != nil {
		return false, 0, err
	}
	rec, err := e.ledger.Get(id)
	if err != nil {
		return false, 0, err
	}
	if rec.Status != StatusAwaitingConfirmation || rec.CounterpartyConfirmed {
		return false, 0, nil
	}
	now := e.now()
	if now > rec.CancelDeadline {
		return false, 0, nil
	}
	return true, rec.CancelDeadline - now, nil
}

// Get returns a copy of the record for id.
func (e *Engine) Get(id uint64) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.ledger.Get(id)
}

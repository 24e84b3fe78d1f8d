package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"escrowd/crypto"
)

// Identity is the raw 20-byte form of a party address.
type Identity = [crypto.AddressLength]byte

// Status enumerates the lifecycle states of a custody record. Transitions are
// forward-only: a record leaves StatusAwaitingConfirmation for exactly one of
// the three terminal states and is frozen afterwards.
type Status uint8

const (
	StatusAwaitingConfirmation Status = iota
	StatusCompleted
	StatusCancelledByDepositor
	StatusCancelledByCounterparty
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingConfirmation, StatusCompleted, StatusCancelledByDepositor, StatusCancelledByCounterparty:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status freezes the record.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledByDepositor, StatusCancelledByCounterparty:
		return true
	case StatusAwaitingConfirmation:
		return false
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusAwaitingConfirmation:
		return "awaiting_confirmation"
	case StatusCompleted:
		return "completed"
	case StatusCancelledByDepositor:
		return "cancelled_by_depositor"
	case StatusCancelledByCounterparty:
		return "cancelled_by_counterparty"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Record captures one custody transaction. Everything except Status and the
// two confirmation flags is immutable after creation; the flags move only from
// false to true and the status only forward.
type Record struct {
	ID                    uint64
	Depositor             Identity
	Counterparty          Identity
	Amount                *big.Int
	Description           string
	CreatedAt             int64
	CancelDeadline        int64
	Status                Status
	DepositorConfirmed    bool
	CounterpartyConfirmed bool
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeRecord validates the supplied record against the structural
// invariants and returns a cloned instance with a non-nil amount. The original
// value is not mutated.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := r.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if clone.Depositor == (Identity{}) {
		return nil, fmt.Errorf("escrow: depositor identity required")
	}
	if clone.Counterparty == (Identity{}) {
		return nil, fmt.Errorf("escrow: counterparty identity required")
	}
	if clone.Depositor == clone.Counterparty {
		return nil, fmt.Errorf("escrow: depositor and counterparty must differ")
	}
	if strings.TrimSpace(clone.Description) == "" {
		return nil, fmt.Errorf("escrow: description required")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	if clone.CancelDeadline < clone.CreatedAt {
		return nil, fmt.Errorf("escrow: cancel deadline before creation time")
	}
	return clone, nil
}

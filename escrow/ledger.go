package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"escrowd/storage"
)

const (
	ledgerSeqKey    = "escrow/seq"
	recordKeyPrefix = "escrow/record/"
)

// Ledger owns the durable record set. Identifiers are dense, monotonically
// increasing and never reused. The ledger has no behaviour beyond storage,
// identifier issuance and invariant-preserving mutation; callers serialize
// mutating access (see core.Node).
type Ledger struct {
	db storage.Database
}

func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func recordKey(id uint64) []byte {
	key := make([]byte, len(recordKeyPrefix)+8)
	copy(key, recordKeyPrefix)
	binary.BigEndian.PutUint64(key[len(recordKeyPrefix):], id)
	return key
}

// Len returns the number of ids issued so far.
func (l *Ledger) Len() (uint64, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("escrow: ledger not configured")
	}
	raw, err := l.db.Get([]byte(ledgerSeqKey))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("escrow: corrupt ledger sequence")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Allocate assigns the next unused id to the record and stores it. The first
// record receives id 0.
func (l *Ledger) Allocate(rec *Record) (uint64, error) {
	next, err := l.Len()
	if err != nil {
		return 0, err
	}
	sanitized, err := SanitizeRecord(rec)
	if err != nil {
		return 0, err
	}
	sanitized.ID = next
	if err := l.put(sanitized); err != nil {
		return 0, err
	}
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, next+1)
	if err := l.db.Put([]byte(ledgerSeqKey), seq); err != nil {
		return 0, err
	}
	return next, nil
}

// Get loads the record for id, or ErrNotFound.
func (l *Ledger) Get(id uint64) (*Record, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("escrow: ledger not configured")
	}
	raw, err := l.db.Get(recordKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// Mutate loads the record, applies fn to a private copy and persists the
// result when fn succeeds. The stored record is untouched on any error, so a
// failed transition (including a rejected value transfer inside fn) leaves no
// partial mutation behind.
func (l *Ledger) Mutate(id uint64, fn func(*Record) error) (*Record, error) {
	rec, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	sanitized, err := SanitizeRecord(rec)
	if err != nil {
		return nil, err
	}
	if sanitized.ID != id {
		return nil, fmt.Errorf("escrow: mutation may not reassign record id")
	}
	if err := l.put(sanitized); err != nil {
		return nil, err
	}
	return sanitized.Clone(), nil
}

// ListByDepositor returns the ascending id sequence of records whose depositor
// matches. A deliberate full scan: correctness over throughput.
func (l *Ledger) ListByDepositor(party Identity) ([]uint64, error) {
	return l.scan(func(rec *Record) bool { return rec.Depositor == party })
}

// ListByCounterparty returns the ascending id sequence of records whose
// counterparty matches.
func (l *Ledger) ListByCounterparty(party Identity) ([]uint64, error) {
	return l.scan(func(rec *Record) bool { return rec.Counterparty == party })
}

func (l *Ledger) scan(match func(*Record) bool) ([]uint64, error) {
	total, err := l.Len()
	if err != nil {
		return nil, err
	}
	ids := []uint64{}
	for id := uint64(0); id < total; id++ {
		rec, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		if match(rec) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *Ledger) put(rec *Record) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return l.db.Put(recordKey(rec.ID), encoded)
}

// storedRecord is the JSON wire form of a ledger record. Identities are hex
// encoded and the amount is carried as a decimal string so the value survives
// any JSON number precision limits.
type storedRecord struct {
	ID                    uint64 `json:"id"`
	Depositor             string `json:"depositor"`
	Counterparty          string `json:"counterparty"`
	Amount                string `json:"amount"`
	Description           string `json:"description"`
	CreatedAt             int64  `json:"createdAt"`
	CancelDeadline        int64  `json:"cancelDeadline"`
	Status                uint8  `json:"status"`
	DepositorConfirmed    bool   `json:"depositorConfirmed"`
	CounterpartyConfirmed bool   `json:"counterpartyConfirmed"`
}

func encodeRecord(rec *Record) ([]byte, error) {
	sanitized, err := SanitizeRecord(rec)
	if err != nil {
		return nil, err
	}
	stored := storedRecord{
		ID:                    sanitized.ID,
		Depositor:             hex.EncodeToString(sanitized.Depositor[:]),
		Counterparty:          hex.EncodeToString(sanitized.Counterparty[:]),
		Amount:                sanitized.Amount.String(),
		Description:           sanitized.Description,
		CreatedAt:             sanitized.CreatedAt,
		CancelDeadline:        sanitized.CancelDeadline,
		Status:                uint8(sanitized.Status),
		DepositorConfirmed:    sanitized.DepositorConfirmed,
		CounterpartyConfirmed: sanitized.CounterpartyConfirmed,
	}
	return json.Marshal(stored)
}

func decodeRecord(raw []byte) (*Record, error) {
	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("escrow: decode record: %w", err)
	}
	depositor, err := decodeIdentityHex(stored.Depositor)
	if err != nil {
		return nil, fmt.Errorf("escrow: decode depositor: %w", err)
	}
	counterparty, err := decodeIdentityHex(stored.Counterparty)
	if err != nil {
		return nil, fmt.Errorf("escrow: decode counterparty: %w", err)
	}
	amount, ok := new(big.Int).SetString(stored.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("escrow: decode amount %q", stored.Amount)
	}
	rec := &Record{
		ID:                    stored.ID,
		Depositor:             depositor,
		Counterparty:          counterparty,
		Amount:                amount,
		Description:           stored.Description,
		CreatedAt:             stored.CreatedAt,
		CancelDeadline:        stored.CancelDeadline,
		Status:                Status(stored.Status),
		DepositorConfirmed:    stored.DepositorConfirmed,
		CounterpartyConfirmed: stored.CounterpartyConfirmed,
	}
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("escrow: decode status %d", stored.Status)
	}
	return rec, nil
}

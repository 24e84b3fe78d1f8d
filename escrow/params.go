package escrow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"escrowd/storage"
)

// Bounds enforced on the runtime-adjustable parameters. FeeDenominator is the
// divisor of the basis-point fee arithmetic.
const (
	MaxFeeBps            uint32 = 1_000
	FeeDenominator       int64  = 10_000
	MinCancelWindowSecs  int64  = 300
	MaxCancelWindowSecs  int64  = 86_400
	paramStoreKey               = "escrow/params"
)

// Params is the versioned, authority-controlled configuration read by every
// creation and settlement. Version increases on each successful mutation so
// observers can detect configuration changes between calls.
type Params struct {
	Version          uint64   `json:"version"`
	FeeBps           uint32   `json:"feeBps"`
	CancelWindowSecs int64    `json:"cancelWindowSecs"`
	Authority        Identity `json:"-"`
}

// Validate checks the parameter bounds.
func (p Params) Validate() error {
	if p.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: fee bps %d out of range [0, %d]", ErrPreconditionFailed, p.FeeBps, MaxFeeBps)
	}
	if p.CancelWindowSecs < MinCancelWindowSecs || p.CancelWindowSecs > MaxCancelWindowSecs {
		return fmt.Errorf("%w: cancel window %ds out of range [%d, %d]", ErrPreconditionFailed, p.CancelWindowSecs, MinCancelWindowSecs, MaxCancelWindowSecs)
	}
	if p.Authority == (Identity{}) {
		return fmt.Errorf("%w: authority identity required", ErrPreconditionFailed)
	}
	return nil
}

type storedParams struct {
	Version          uint64 `json:"version"`
	FeeBps           uint32 `json:"feeBps"`
	CancelWindowSecs int64  `json:"cancelWindowSecs"`
	Authority        string `json:"authority"`
}

// ParamStore persists the parameter set under a canonical key and serves
// cached snapshots to the engine. Values are marshalled as JSON to stay
// readable in the underlying store.
type ParamStore struct {
	mu     sync.RWMutex
	db     storage.Database
	cached *Params
}

// NewParamStore constructs a store over the supplied database without touching
// persisted state; call Load or Seed before reading.
func NewParamStore(db storage.Database) *ParamStore {
	return &ParamStore{db: db}
}

// Seed persists the supplied parameters only when none are stored yet and
// returns the effective set. Restarts therefore keep authority-applied
// mutations rather than reverting to the config file.
func (s *ParamStore) Seed(p Params) (Params, error) {
	if s == nil || s.db == nil {
		return Params{}, fmt.Errorf("escrow: param store not configured")
	}
	ok, err := s.db.Has([]byte(paramStoreKey))
	if err != nil {
		return Params{}, err
	}
	if ok {
		return s.Load()
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	if err := s.save(p); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Load reads the persisted parameters, refreshing the cache.
func (s *ParamStore) Load() (Params, error) {
	if s == nil || s.db == nil {
		return Params{}, fmt.Errorf("escrow: param store not configured")
	}
	raw, err := s.db.Get([]byte(paramStoreKey))
	if err != nil {
		return Params{}, fmt.Errorf("escrow: load params: %w", err)
	}
	var stored storedParams
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Params{}, fmt.Errorf("escrow: decode params: %w", err)
	}
	authority, err := decodeIdentityHex(stored.Authority)
	if err != nil {
		return Params{}, fmt.Errorf("escrow: decode params authority: %w", err)
	}
	params := Params{
		Version:          stored.Version,
		FeeBps:           stored.FeeBps,
		CancelWindowSecs: stored.CancelWindowSecs,
		Authority:        authority,
	}
	s.mu.Lock()
	s.cached = &params
	s.mu.Unlock()
	return params, nil
}

// EscrowParams returns the current snapshot, serving from cache when warm.
func (s *ParamStore) EscrowParams() (Params, error) {
	if s == nil {
		return Params{}, fmt.Errorf("escrow: param store not configured")
	}
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	return s.Load()
}

// Update validates and persists a new parameter set, bumping the version.
func (s *ParamStore) Update(mutate func(*Params) error) (Params, error) {
	current, err := s.EscrowParams()
	if err != nil {
		return Params{}, err
	}
	next := current
	if err := mutate(&next); err != nil {
		return Params{}, err
	}
	next.Version = current.Version + 1
	if err := next.Validate(); err != nil {
		return Params{}, err
	}
	if err := s.save(next); err != nil {
		return Params{}, err
	}
	return next, nil
}

func (s *ParamStore) save(p Params) error {
	stored := storedParams{
		Version:          p.Version,
		FeeBps:           p.FeeBps,
		CancelWindowSecs: p.CancelWindowSecs,
		Authority:        hex.EncodeToString(p.Authority[:]),
	}
	encoded, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("escrow: encode params: %w", err)
	}
	if err := s.db.Put([]byte(paramStoreKey), encoded); err != nil {
		return err
	}
	s.mu.Lock()
	s.cached = &p
	s.mu.Unlock()
	return nil
}

func decodeIdentityHex(raw string) (Identity, error) {
	var id Identity
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return id, err
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("identity must be %d bytes (got %d)", len(id), len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"escrowd/admin"
	"escrowd/bank"
	"escrowd/core/events"
	"escrowd/escrow"
	"escrowd/observability"
	"escrowd/storage"
)

// Node owns the ledger, vault, parameter store and custody engine, and
// restores the single-writer guarantee the protocol is designed around: every
// mutating call runs under one writer lock, so no two transitions interleave.
// Read-only calls share the read side and observe consistent snapshots.
type Node struct {
	mu sync.RWMutex

	db         storage.Database
	ledger     *escrow.Ledger
	vault      *bank.Vault
	paramStore *escrow.ParamStore
	engine     *escrow.Engine
	admin      *admin.Service
	feed       *events.Feed
	logger     *slog.Logger
}

// NewNode wires the components over the supplied database and seeds the
// parameter store when empty. The seed's authority, fee rate and cancel window
// come from the daemon configuration.
func NewNode(db storage.Database, seed escrow.Params, logger *slog.Logger) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	paramStore := escrow.NewParamStore(db)
	params, err := paramStore.Seed(seed)
	if err != nil {
		return nil, fmt.Errorf("core: seed params: %w", err)
	}
	ledger := escrow.NewLedger(db)
	vault := bank.NewVault(db)
	feed := events.NewFeed(events.DefaultBacklog)
	engine := escrow.NewEngine(ledger, vault, paramStore)
	engine.SetEmitter(feed)
	node := &Node{
		db:         db,
		ledger:     ledger,
		vault:      vault,
		paramStore: paramStore,
		engine:     engine,
		admin:      admin.NewService(paramStore, vault),
		feed:       feed,
		logger:     logger.With("component", "node"),
	}
	node.logger.Info("node initialised",
		"feeBps", params.FeeBps,
		"cancelWindowSecs", params.CancelWindowSecs,
		"paramsVersion", params.Version)
	return node, nil
}

// SetNowFunc overrides the engine clock, primarily for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetNowFunc(now)
}

func (n *Node) instrument(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.Engine().Observe(op, err, time.Since(start))
	if err != nil {
		n.logger.Info("operation rejected", "op", op, "error", err.Error())
	}
	return err
}

// EscrowCreate opens a new custody record on behalf of the depositor.
func (n *Node) EscrowCreate(depositor, counterparty escrow.Identity, amount *big.Int, description string) (*escrow.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var rec *escrow.Record
	err := n.instrument("create", func() error {
		var err error
		rec, err = n.engine.Create(depositor, counterparty, amount, description)
		return err
	})
	return rec, err
}

// EscrowConfirmDepositor records the depositor's confirmation, settling when
// the counterparty already confirmed.
func (n *Node) EscrowConfirmDepositor(id uint64, caller escrow.Identity) (*escrow.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var rec *escrow.Record
	err := n.instrument("confirm_depositor", func() error {
		var err error
		rec, err = n.engine.ConfirmDepositor(id, caller)
		return err
	})
	return rec, err
}

// EscrowConfirmCounterparty records the counterparty's confirmation, settling
// when the depositor already confirmed.
func (n *Node) EscrowConfirmCounterparty(id uint64, caller escrow.Identity) (*escrow.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var rec *escrow.Record
	err := n.instrument("confirm_counterparty", func() error {
		var err error
		rec, err = n.engine.ConfirmCounterparty(id, caller)
		return err
	})
	return rec, err
}

// EscrowCancelDepositor cancels within the window, refunding the depositor.
func (n *Node) EscrowCancelDepositor(id uint64, caller escrow.Identity) (*escrow.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var rec *escrow.Record
	err := n.instrument("cancel_depositor", func() error {
		var err error
		rec, err = n.engine.CancelByDepositor(id, caller)
		return err
	})
	return rec, err
}

// EscrowCancelCounterparty cancels on the counterparty's behalf, refunding the
// depositor.
func (n *Node) EscrowCancelCounterparty(id uint64, caller escrow.Identity) (*escrow.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var rec *escrow.Record
	err := n.instrument("cancel_counterparty", func() error {
		var err error
		rec, err = n.engine.CancelByCounterparty(id, caller)
		return err
	})
	return rec, err
}

// EscrowGet returns the record for id.
func (n *Node) EscrowGet(id uint64) (*escrow.Record, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.Get(id)
}

// EscrowListByDepositor returns ascending ids of records deposited by party.
func (n *Node) EscrowListByDepositor(party escrow.Identity) ([]uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.ListByDepositor(party)
}

// EscrowListByCounterparty returns ascending ids of records naming party as
// counterparty.
func (n *Node) EscrowListByCounterparty(party escrow.Identity) ([]uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.ListByCounterparty(party)
}

// EscrowCanDepositorCancel reports the depositor's current cancellation right
// and the seconds remaining in the window.
func (n *Node) EscrowCanDepositorCancel(id uint64) (bool, int64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.CanDepositorCancel(id)
}

// AdminSetFeeBps updates the settlement fee rate.
func (n *Node) AdminSetFeeBps(caller escrow.Identity, feeBps uint32) (escrow.Params, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var params escrow.Params
	err := n.instrument("admin_set_fee_bps", func() error {
		var err error
		params, err = n.admin.SetFeeBps(caller, feeBps)
		return err
	})
	return params, err
}

// AdminSetCancelWindow updates the window applied to future creations.
func (n *Node) AdminSetCancelWindow(caller escrow.Identity, secs int64) (escrow.Params, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var params escrow.Params
	err := n.instrument("admin_set_cancel_window", func() error {
		var err error
		params, err = n.admin.SetCancelWindow(caller, secs)
		return err
	})
	return params, err
}

// AdminTransferAuthority reassigns the configuration authority.
func (n *Node) AdminTransferAuthority(caller, next escrow.Identity) (escrow.Params, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var params escrow.Params
	err := n.instrument("admin_transfer_authority", func() error {
		var err error
		params, err = n.admin.TransferAuthority(caller, next)
		return err
	})
	return params, err
}

// AdminWithdrawFees drains the fee pool to the authority.
func (n *Node) AdminWithdrawFees(caller escrow.Identity) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var amount *big.Int
	err := n.instrument("admin_withdraw_fees", func() error {
		var err error
		amount, err = n.admin.WithdrawFees(caller)
		return err
	})
	return amount, err
}

// FeeBalance returns the unencumbered fee-pool balance.
func (n *Node) FeeBalance() (*big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.admin.FeeBalance()
}

// BankMint credits freshly injected value. Authority-only: this is the only
// way value enters the system.
func (n *Node) BankMint(caller, to escrow.Identity, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.instrument("bank_mint", func() error {
		params, err := n.paramStore.EscrowParams()
		if err != nil {
			return err
		}
		if caller != params.Authority {
			return fmt.Errorf("%w: authority required", escrow.ErrUnauthorized)
		}
		return n.vault.Mint(to, amount)
	})
}

// BankBalance returns the balance held by an identity.
func (n *Node) BankBalance(addr escrow.Identity) (*big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.vault.Balance(addr)
}

// Params returns the current configuration snapshot.
func (n *Node) Params() (escrow.Params, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.paramStore.EscrowParams()
}

// EventsSubscribe attaches a consumer to the notification feed and returns the
// channel, the retained backlog and a cancel function.
func (n *Node) EventsSubscribe(buffer int) (<-chan events.Event, []events.Event, func()) {
	return n.feed.Subscribe(buffer)
}

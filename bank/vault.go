package bank

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowd/core/types"
	"escrowd/storage"
)

// Errors reported by the custody channel. Every failed call leaves all
// balances untouched.
var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrInvalidAmount     = errors.New("bank: amount must be positive")
	ErrEmptyPool         = errors.New("bank: nothing to withdraw")
)

const accountKeyPrefix = "bank/account/"

// Identity mirrors the 20-byte party address used across the module.
type Identity = [20]byte

// Module accounts. Derived from fixed labels so they can never collide with a
// key-derived party identity.
var (
	// VaultAddress holds every open escrow's funds.
	VaultAddress = moduleAddress("escrowd/module/vault")
	// FeePoolAddress accumulates settlement fees until the authority
	// withdraws them.
	FeePoolAddress = moduleAddress("escrowd/module/feepool")
)

func moduleAddress(label string) Identity {
	var addr Identity
	copy(addr[:], ethcrypto.Keccak256([]byte(label))[:20])
	return addr
}

// Vault is the value-custody channel. Each operation applies all of its
// balance movements or none: balances are staged on copies and written only
// after every check has passed.
type Vault struct {
	db storage.Database
}

func NewVault(db storage.Database) *Vault {
	return &Vault{db: db}
}

func accountKey(addr Identity) []byte {
	return []byte(accountKeyPrefix + hex.EncodeToString(addr[:]))
}

func (v *Vault) getAccount(addr Identity) (*types.Account, error) {
	raw, err := v.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.EnsureAccount(nil), nil
	}
	if err != nil {
		return nil, err
	}
	var stored struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("bank: decode account: %w", err)
	}
	balance, ok := new(big.Int).SetString(stored.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("bank: decode balance %q", stored.Balance)
	}
	return &types.Account{Balance: balance}, nil
}

func (v *Vault) putAccount(addr Identity, acc *types.Account) error {
	acc = types.EnsureAccount(acc)
	encoded, err := json.Marshal(struct {
		Balance string `json:"balance"`
	}{Balance: acc.Balance.String()})
	if err != nil {
		return fmt.Errorf("bank: encode account: %w", err)
	}
	return v.db.Put(accountKey(addr), encoded)
}

// Balance returns the current balance of addr.
func (v *Vault) Balance(addr Identity) (*big.Int, error) {
	if v == nil || v.db == nil {
		return nil, fmt.Errorf("bank: vault not configured")
	}
	acc, err := v.getAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}

// Mint credits freshly injected value to an account. This is the deposit
// on-ramp; authority gating happens at the node boundary.
func (v *Vault) Mint(to Identity, amount *big.Int) error {
	if v == nil || v.db == nil {
		return fmt.Errorf("bank: vault not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := v.getAccount(to)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return v.putAccount(to, acc)
}

// Deposit pulls amount from the depositor into the vault.
func (v *Vault) Deposit(from Identity, amount *big.Int) error {
	return v.transfer(from, VaultAddress, amount)
}

// Refund returns amount from the vault to the depositor.
func (v *Vault) Refund(to Identity, amount *big.Int) error {
	return v.transfer(VaultAddress, to, amount)
}

// Settle releases payout to the counterparty and moves fee into the fee pool
// as one unit. A zero fee skips the pool movement entirely.
func (v *Vault) Settle(counterparty Identity, payout, fee *big.Int) error {
	if v == nil || v.db == nil {
		return fmt.Errorf("bank: vault not configured")
	}
	if payout == nil || payout.Sign() < 0 {
		return ErrInvalidAmount
	}
	if fee == nil || fee.Sign() < 0 {
		return ErrInvalidAmount
	}
	total := new(big.Int).Add(payout, fee)
	if total.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vault, err := v.getAccount(VaultAddress)
	if err != nil {
		return err
	}
	if vault.Balance.Cmp(total) < 0 {
		return ErrInsufficientFunds
	}
	recipient, err := v.getAccount(counterparty)
	if err != nil {
		return err
	}
	pool, err := v.getAccount(FeePoolAddress)
	if err != nil {
		return err
	}
	vault.Balance = new(big.Int).Sub(vault.Balance, total)
	recipient.Balance = new(big.Int).Add(recipient.Balance, payout)
	pool.Balance = new(big.Int).Add(pool.Balance, fee)
	if err := v.putAccount(VaultAddress, vault); err != nil {
		return err
	}
	if err := v.putAccount(counterparty, recipient); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		return v.putAccount(FeePoolAddress, pool)
	}
	return nil
}

// FeeBalance returns the unencumbered fee-pool balance.
func (v *Vault) FeeBalance() (*big.Int, error) {
	return v.Balance(FeePoolAddress)
}

// WithdrawFees drains the entire fee pool to the given account and returns the
// amount moved. Rejects when the pool is empty.
func (v *Vault) WithdrawFees(to Identity) (*big.Int, error) {
	if v == nil || v.db == nil {
		return nil, fmt.Errorf("bank: vault not configured")
	}
	pool, err := v.getAccount(FeePoolAddress)
	if err != nil {
		return nil, err
	}
	if pool.Balance.Sign() == 0 {
		return nil, ErrEmptyPool
	}
	amount := new(big.Int).Set(pool.Balance)
	recipient, err := v.getAccount(to)
	if err != nil {
		return nil, err
	}
	recipient.Balance = new(big.Int).Add(recipient.Balance, amount)
	pool.Balance = big.NewInt(0)
	if err := v.putAccount(to, recipient); err != nil {
		return nil, err
	}
	if err := v.putAccount(FeePoolAddress, pool); err != nil {
		return nil, err
	}
	return amount, nil
}

func (v *Vault) transfer(from, to Identity, amount *big.Int) error {
	if v == nil || v.db == nil {
		return fmt.Errorf("bank: vault not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := v.getAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toAcc, err := v.getAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := v.putAccount(from, fromAcc); err != nil {
		return err
	}
	return v.putAccount(to, toAcc)
}

package types

import "math/big"

// Account tracks the custody balance of one identity. Amounts are held as
// big.Int so fee arithmetic never overflows regardless of the configured unit.
type Account struct {
	Balance *big.Int `json:"balance"`
}

// EnsureAccount normalises a possibly-nil account into one with a usable
// balance field.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

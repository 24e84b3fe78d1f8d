// Package admin wraps the authority-only configuration and fee operations.
// It never touches record state; everything here operates on the parameter
// store and the fee pool.
package admin

import (
	"fmt"
	"math/big"

	"escrowd/bank"
	"escrowd/escrow"
)

type Service struct {
	params *escrow.ParamStore
	vault  *bank.Vault
}

func NewService(params *escrow.ParamStore, vault *bank.Vault) *Service {
	return &Service{params: params, vault: vault}
}

func (s *Service) requireAuthority(caller escrow.Identity) (escrow.Params, error) {
	params, err := s.params.EscrowParams()
	if err != nil {
		return escrow.Params{}, err
	}
	if caller != params.Authority {
		return escrow.Params{}, fmt.Errorf("%w: authority required", escrow.ErrUnauthorized)
	}
	return params, nil
}

// SetFeeBps updates the settlement fee rate. Bounds: [0, MaxFeeBps].
func (s *Service) SetFeeBps(caller escrow.Identity, feeBps uint32) (escrow.Params, error) {
	if _, err := s.requireAuthority(caller); err != nil {
		return escrow.Params{}, err
	}
	return s.params.Update(func(p *escrow.Params) error {
		p.FeeBps = feeBps
		return nil
	})
}

// SetCancelWindow updates the cancellation window applied to future creations.
// Records already open keep the deadline frozen at their creation.
func (s *Service) SetCancelWindow(caller escrow.Identity, secs int64) (escrow.Params, error) {
	if _, err := s.requireAuthority(caller); err != nil {
		return escrow.Params{}, err
	}
	return s.params.Update(func(p *escrow.Params) error {
		p.CancelWindowSecs = secs
		return nil
	})
}

// TransferAuthority reassigns the single configuration authority.
func (s *Service) TransferAuthority(caller, next escrow.Identity) (escrow.Params, error) {
	if _, err := s.requireAuthority(caller); err != nil {
		return escrow.Params{}, err
	}
	if next == (escrow.Identity{}) {
		return escrow.Params{}, fmt.Errorf("%w: new authority must not be the null identity", escrow.ErrPreconditionFailed)
	}
	return s.params.Update(func(p *escrow.Params) error {
		p.Authority = next
		return nil
	})
}

// WithdrawFees drains the accumulated fee pool to the authority and returns
// the amount moved. Rejects when the pool is empty.
func (s *Service) WithdrawFees(caller escrow.Identity) (*big.Int, error) {
	params, err := s.requireAuthority(caller)
	if err != nil {
		return nil, err
	}
	amount, err := s.vault.WithdrawFees(params.Authority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrPreconditionFailed, err)
	}
	return amount, nil
}

// FeeBalance returns the current unencumbered fee-pool balance. Read-only, no
// authority required.
func (s *Service) FeeBalance() (*big.Int, error) {
	return s.vault.FeeBalance()
}

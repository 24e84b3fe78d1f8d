package admin

import (
	"errors"
	"math/big"
	"testing"

	"escrowd/bank"
	"escrowd/escrow"
	"escrowd/storage"
)

var (
	authority = escrow.Identity{0xEE, 0x01}
	stranger  = escrow.Identity{0x11, 0x02}
	successor = escrow.Identity{0x22, 0x03}
)

func newTestService(t *testing.T) (*Service, *bank.Vault) {
	t.Helper()
	db := storage.NewMemDB()
	params := escrow.NewParamStore(db)
	if _, err := params.Seed(escrow.Params{
		Version:          1,
		FeeBps:           250,
		CancelWindowSecs: 3600,
		Authority:        authority,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	vault := bank.NewVault(db)
	return NewService(params, vault), vault
}

func TestSetFeeBpsRequiresAuthority(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.SetFeeBps(stranger, 100); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	updated, err := svc.SetFeeBps(authority, 100)
	if err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if updated.FeeBps != 100 || updated.Version != 2 {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestSetFeeBpsEnforcesCap(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.SetFeeBps(authority, escrow.MaxFeeBps+1); !errors.Is(err, escrow.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestSetCancelWindowBounds(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.SetCancelWindow(authority, escrow.MinCancelWindowSecs-1); !errors.Is(err, escrow.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	updated, err := svc.SetCancelWindow(authority, escrow.MaxCancelWindowSecs)
	if err != nil {
		t.Fatalf("set window: %v", err)
	}
	if updated.CancelWindowSecs != escrow.MaxCancelWindowSecs {
		t.Fatalf("window = %d", updated.CancelWindowSecs)
	}
}

func TestTransferAuthority(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.TransferAuthority(authority, escrow.Identity{}); !errors.Is(err, escrow.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed for null successor, got %v", err)
	}
	updated, err := svc.TransferAuthority(authority, successor)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if updated.Authority != successor {
		t.Fatalf("authority = %x", updated.Authority)
	}

	// The old authority is locked out immediately.
	if _, err := svc.SetFeeBps(authority, 10); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for previous authority, got %v", err)
	}
	if _, err := svc.SetFeeBps(successor, 10); err != nil {
		t.Fatalf("successor update: %v", err)
	}
}

func TestWithdrawFees(t *testing.T) {
	svc, vault := newTestService(t)
	if _, err := svc.WithdrawFees(stranger); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.WithdrawFees(authority); !errors.Is(err, escrow.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed for empty pool, got %v", err)
	}

	// Accumulate fees via a settlement, then drain the pool.
	if err := vault.Mint(stranger, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := vault.Deposit(stranger, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := vault.Settle(successor, big.NewInt(975), big.NewInt(25)); err != nil {
		t.Fatalf("settle: %v", err)
	}

	balance, err := svc.FeeBalance()
	if err != nil {
		t.Fatalf("fee balance: %v", err)
	}
	if balance.Int64() != 25 {
		t.Fatalf("fee balance = %d, want 25", balance.Int64())
	}

	moved, err := svc.WithdrawFees(authority)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if moved.Int64() != 25 {
		t.Fatalf("withdrew %d, want 25", moved.Int64())
	}
	got, err := vault.Balance(authority)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Int64() != 25 {
		t.Fatalf("authority credited %d, want 25", got.Int64())
	}
}

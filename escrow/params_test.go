package escrow

import (
	"errors"
	"testing"

	"escrowd/storage"
)

func validParams() Params {
	return Params{
		Version:          1,
		FeeBps:           250,
		CancelWindowSecs: 3600,
		Authority:        newTestAddress(0xEE),
	}
}

func TestParamsValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
		ok     bool
	}{
		{"valid", func(p *Params) {}, true},
		{"zero fee", func(p *Params) { p.FeeBps = 0 }, true},
		{"max fee", func(p *Params) { p.FeeBps = MaxFeeBps }, true},
		{"fee above cap", func(p *Params) { p.FeeBps = MaxFeeBps + 1 }, false},
		{"window at floor", func(p *Params) { p.CancelWindowSecs = MinCancelWindowSecs }, true},
		{"window at ceiling", func(p *Params) { p.CancelWindowSecs = MaxCancelWindowSecs }, true},
		{"window below floor", func(p *Params) { p.CancelWindowSecs = MinCancelWindowSecs - 1 }, false},
		{"window above ceiling", func(p *Params) { p.CancelWindowSecs = MaxCancelWindowSecs + 1 }, false},
		{"null authority", func(p *Params) { p.Authority = Identity{} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			err := p.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrPreconditionFailed) {
				t.Fatalf("expected ErrPreconditionFailed, got %v", err)
			}
		})
	}
}

func TestParamStoreSeedPersistsOnce(t *testing.T) {
	db := storage.NewMemDB()
	store := NewParamStore(db)
	seeded, err := store.Seed(validParams())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if seeded.FeeBps != 250 {
		t.Fatalf("fee = %d, want 250", seeded.FeeBps)
	}

	// A second seed with different values keeps what is already stored.
	replacement := validParams()
	replacement.FeeBps = 999
	again, err := NewParamStore(db).Seed(replacement)
	if err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	if again.FeeBps != 250 {
		t.Fatalf("re-seed overwrote stored params: fee = %d", again.FeeBps)
	}
}

func TestParamStoreSeedRejectsInvalid(t *testing.T) {
	store := NewParamStore(storage.NewMemDB())
	bad := validParams()
	bad.FeeBps = MaxFeeBps + 1
	if _, err := store.Seed(bad); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestParamStoreUpdateBumpsVersion(t *testing.T) {
	store := NewParamStore(storage.NewMemDB())
	if _, err := store.Seed(validParams()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	next, err := store.Update(func(p *Params) error {
		p.FeeBps = 100
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if next.Version != 2 {
		t.Fatalf("version = %d, want 2", next.Version)
	}
	if next.FeeBps != 100 {
		t.Fatalf("fee = %d, want 100", next.FeeBps)
	}
}

func TestParamStoreUpdateRejectsOutOfRange(t *testing.T) {
	store := NewParamStore(storage.NewMemDB())
	if _, err := store.Seed(validParams()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := store.Update(func(p *Params) error {
		p.CancelWindowSecs = MaxCancelWindowSecs + 1
		return nil
	})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	current, err := store.EscrowParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if current.CancelWindowSecs != 3600 || current.Version != 1 {
		t.Fatalf("rejected update persisted: %+v", current)
	}
}

func TestParamStoreSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	store := NewParamStore(db)
	if _, err := store.Seed(validParams()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Update(func(p *Params) error {
		p.FeeBps = 42
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, err := NewParamStore(db).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.FeeBps != 42 || reloaded.Version != 2 {
		t.Fatalf("reloaded = %+v", reloaded)
	}
	if reloaded.Authority != newTestAddress(0xEE) {
		t.Fatalf("authority lost across restart")
	}
}

package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"piggybank/internal/core"

	"github.com/shopspring/decimal"
)

func TestLoadMissingFile(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "sub", "bank.json"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Profile.Secret != core.DefaultSecret || len(snap.Profile.Rates) != len(core.SupportedTerms) {
		t.Fatalf("expected defaults, got %+v", snap.Profile)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bank.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	snap := core.NewSnapshot()
	snap.Version = 1
	snap.Profile.Rates[6] = decimal.RequireFromString("5.5")
	snap.Transactions = append(snap.Transactions, core.Transaction{
		ID: "t1", Title: "Allowance", Amount: core.Cents(1234), Kind: core.Income,
		Category: core.CategoryPocketMoney, OccurredAt: at,
	})
	snap.Deposits = append(snap.Deposits, core.Deposit{
		ID: "d1", Principal: core.Cents(1000), TermMonths: 6, AnnualRatePercent: decimal.RequireFromString("5.5"),
		CreatedAt: at, MaturityAt: at.AddDate(0, 6, 0), TotalReturn: core.Cents(1028),
		Status: core.DepositActive, Debited: true,
	})

	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 1 || got.Transactions[0].Amount.Cents != 1234 {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if !got.Profile.Rates[6].Equal(decimal.RequireFromString("5.5")) {
		t.Fatalf("rate(6) = %s", got.Profile.Rates[6])
	}
	d := got.Deposits[0]
	if !d.AnnualRatePercent.Equal(decimal.RequireFromString("5.5")) || !d.MaturityAt.Equal(at.AddDate(0, 6, 0)) || !d.Debited {
		t.Fatalf("deposit = %+v", d)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ := New(path)
	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.json")
	ctx := context.Background()
	server, _ := New(path)
	ctl, _ := New(path)

	base := core.NewSnapshot()
	base.Version = 1
	if err := server.Save(ctx, base); err != nil {
		t.Fatalf("save v1: %v", err)
	}

	fromCtl := base.Clone()
	fromCtl.Version = 2
	fromCtl.Transactions = append(fromCtl.Transactions, core.Transaction{
		ID: "t1", Title: "Gift", Amount: core.Cents(5000), Kind: core.Income, Category: core.CategoryPocketMoney,
	})
	if err := ctl.Save(ctx, fromCtl); err != nil {
		t.Fatalf("ctl save: %v", err)
	}

	stale := base.Clone()
	stale.Version = 2
	if err := server.Save(ctx, stale); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	got, err := server.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 2 || len(got.Transactions) != 1 {
		t.Fatalf("stale save overwrote the file: version=%d txs=%d", got.Version, len(got.Transactions))
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

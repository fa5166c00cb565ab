package ledger

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"piggybank/internal/core"
)

func tx(id string, cents int64, kind core.TransactionKind, at time.Time) core.Transaction {
	return core.Transaction{
		ID:         id,
		Title:      "t " + id,
		Amount:     core.Cents(cents),
		Kind:       kind,
		Category:   core.CategoryOther,
		OccurredAt: at,
	}
}

func TestAppendAndBalance(t *testing.T) {
	l := New(nil)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := l.Append(tx("a", 5000, core.Income, base)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := l.AvailableBalance(); got.Cents != 5000 {
		t.Fatalf("balance = %s, want 50.00", got)
	}
	if err := l.Append(tx("b", 1250, core.Expense, base)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := l.AvailableBalance(); got.Cents != 3750 {
		t.Fatalf("balance = %s, want 37.50", got)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	l := New(nil)
	err := l.Append(tx("a", 0, core.Income, time.Now()))
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if l.Len() != 0 {
		t.Fatal("invalid transaction must not be stored")
	}
}

func TestBalanceIndependentOfOrder(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var txs []core.Transaction
	var want int64
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		amount := int64(r.Intn(10000) + 1)
		kind := core.Income
		if r.Intn(3) == 0 {
			kind = core.Expense
			want -= amount
		} else {
			want += amount
		}
		txs = append(txs, tx(string(rune('a'+i%26)), amount, kind, base.Add(time.Duration(i)*time.Minute)))
	}

	for round := 0; round < 5; round++ {
		r.Shuffle(len(txs), func(i, j int) { txs[i], txs[j] = txs[j], txs[i] })
		l := New(nil)
		for _, x := range txs {
			if err := l.Append(x); err != nil {
				t.Fatalf("append: %v", err)
			}
			_ = l.AvailableBalance()
		}
		if got := l.AvailableBalance().Cents; got != want {
			t.Fatalf("round %d: balance = %d, want %d", round, got, want)
		}
	}
}

func TestClear(t *testing.T) {
	l := New([]core.Transaction{tx("a", 100, core.Income, time.Now())})
	if n := l.Clear(); n != 1 {
		t.Fatalf("Clear removed %d, want 1", n)
	}
	if !l.AvailableBalance().IsZero() || l.Len() != 0 {
		t.Fatal("ledger should be empty")
	}
}

func TestHasDepositCredit(t *testing.T) {
	l := New(nil)
	credit := tx("p", 6060, core.Income, time.Now())
	credit.Category = core.CategoryDepositPayout
	credit.DepositID = "d1"
	if err := l.Append(credit); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !l.HasDepositCredit("d1") {
		t.Fatal("expected credit for d1")
	}
	if l.HasDepositCredit("d2") || l.HasDepositCredit("") {
		t.Fatal("unexpected credit")
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New([]core.Transaction{
		tx("old", 100, core.Income, base),
		tx("new", 100, core.Income, base.Add(2*time.Hour)),
		tx("mid", 100, core.Income, base.Add(time.Hour)),
		tx("mid2", 100, core.Income, base.Add(time.Hour)),
	})
	got := l.Recent()
	want := []string{"new", "mid2", "mid", "old"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
	if l.Transactions()[0].ID != "old" {
		t.Fatal("Recent must not reorder the ledger")
	}
}

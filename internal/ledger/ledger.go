// Package ledger holds the append-only transaction sequence.
package ledger

import (
	"sort"

	"piggybank/internal/core"
)

// Ledger owns the transaction sequence. The zero value is an empty ledger.
// A Ledger is not safe for concurrent use; services.Bank serialises access.
type Ledger struct {
	txs []core.Transaction
}

// New builds a ledger over a copy of txs.
func New(txs []core.Transaction) *Ledger {
	return &Ledger{txs: append([]core.Transaction(nil), txs...)}
}

// Append validates tx and adds it to the end of the sequence.
func (l *Ledger) Append(tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	l.txs = append(l.txs, tx)
	return nil
}

// Clear drops every transaction and reports how many were removed.
func (l *Ledger) Clear() int {
	n := len(l.txs)
	l.txs = nil
	return n
}

// AvailableBalance folds the whole sequence: incomes minus expenses.
func (l *Ledger) AvailableBalance() core.Money {
	var total core.Money
	for _, tx := range l.txs {
		total = total.Add(tx.Signed())
	}
	return total
}

// HasDepositCredit reports whether a payout or refund for the deposit exists.
func (l *Ledger) HasDepositCredit(depositID string) bool {
	if depositID == "" {
		return false
	}
	for _, tx := range l.txs {
		if tx.DepositID == depositID && tx.Kind == core.Income {
			return true
		}
	}
	return false
}

func (l *Ledger) Len() int { return len(l.txs) }

// Transactions returns a copy in insertion order.
func (l *Ledger) Transactions() []core.Transaction {
	out := make([]core.Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

// Recent returns a copy ordered newest first by OccurredAt. Ties keep
// insertion order reversed so the latest append comes first.
func (l *Ledger) Recent() []core.Transaction {
	out := make([]core.Transaction, len(l.txs))
	for i, tx := range l.txs {
		out[len(l.txs)-1-i] = tx
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out
}

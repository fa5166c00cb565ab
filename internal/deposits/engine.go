// Package deposits implements the fixed-term deposit lifecycle.
//
// A deposit moves active -> matured or active -> withdrawn, and both end
// states are terminal. Principal is never written to the ledger as an
// expense; the engine keeps it out of the available balance by tracking
// which deposits are still funded from the current ledger (Deposit.Debited).
// The matching payout or refund is an ordinary income transaction.
package deposits

import (
	"fmt"
	"sort"
	"time"

	"piggybank/internal/core"
	"piggybank/internal/interest"

	"github.com/shopspring/decimal"
)

const (
	PayoutTitle = "Deposit matured"
	RefundTitle = "Deposit withdrawn early"
)

// Ledger is the part of the transaction ledger the engine writes to.
type Ledger interface {
	Append(tx core.Transaction) error
	AvailableBalance() core.Money
	HasDepositCredit(depositID string) bool
}

// RateSource yields the configured annual percent for a term.
// core.RateTable satisfies it.
type RateSource interface {
	Rate(termMonths int) (decimal.Decimal, error)
}

// Engine owns the deposit collection. Not safe for concurrent use.
type Engine struct {
	deposits []core.Deposit
	ledger   Ledger
	rates    RateSource
	newID    func() string
}

func New(deposits []core.Deposit, ledger Ledger, rates RateSource, newID func() string) *Engine {
	return &Engine{
		deposits: append([]core.Deposit(nil), deposits...),
		ledger:   ledger,
		rates:    rates,
		newID:    newID,
	}
}

// Available is the ledger total minus principal still funded from it.
func (e *Engine) Available() core.Money {
	return e.ledger.AvailableBalance().Sub(e.Locked())
}

// Locked sums the principal of every deposit still debited from the ledger,
// whatever its status. Payouts and refunds are credited in full, so a
// settled deposit's principal keeps offsetting its own credit.
func (e *Engine) Locked() core.Money {
	var total core.Money
	for _, d := range e.deposits {
		if d.Debited {
			total = total.Add(d.Principal)
		}
	}
	return total
}

// TotalSavings sums the principal of active deposits.
func (e *Engine) TotalSavings() core.Money {
	var total core.Money
	for _, d := range e.deposits {
		if d.Status == core.DepositActive {
			total = total.Add(d.Principal)
		}
	}
	return total
}

// Quote previews a deposit at the currently configured rate.
func (e *Engine) Quote(amount core.Money, termMonths int, now time.Time) (core.Quote, error) {
	if !core.IsSupportedTerm(termMonths) {
		return core.Quote{}, fmt.Errorf("%w: %d months", core.ErrInvalidTerm, termMonths)
	}
	rate, err := e.rates.Rate(termMonths)
	if err != nil {
		return core.Quote{}, err
	}
	res, err := interest.ComputeReturn(amount, rate, termMonths)
	if err != nil {
		return core.Quote{}, err
	}
	return core.Quote{
		Principal:         amount,
		TermMonths:        termMonths,
		AnnualRatePercent: rate,
		Interest:          res.Interest,
		Total:             res.Total,
		MaturityAt:        AddMonths(now, termMonths),
	}, nil
}

// Create locks amount for termMonths at the rate configured right now.
func (e *Engine) Create(amount core.Money, termMonths int, now time.Time) (core.Deposit, error) {
	q, err := e.Quote(amount, termMonths, now)
	if err != nil {
		return core.Deposit{}, err
	}
	if available := e.Available(); amount.Cents > available.Cents {
		return core.Deposit{}, fmt.Errorf("%w: requested %s, available %s", core.ErrInsufficientFunds, amount, available)
	}

	d := core.Deposit{
		ID:                e.newID(),
		Principal:         amount,
		TermMonths:        termMonths,
		AnnualRatePercent: q.AnnualRatePercent,
		CreatedAt:         now,
		MaturityAt:        q.MaturityAt,
		TotalReturn:       q.Total,
		Status:            core.DepositActive,
		Debited:           true,
	}
	e.deposits = append(e.deposits, d)
	return d, nil
}

// MaturityCheck reports whether d's term has ended at now.
func MaturityCheck(d core.Deposit, now time.Time) bool {
	return d.IsDue(now)
}

// Due returns the ids of active deposits whose term has ended at now,
// earliest maturity first.
func (e *Engine) Due(now time.Time) []string {
	var due []core.Deposit
	for _, d := range e.deposits {
		if d.Status == core.DepositActive && MaturityCheck(d, now) {
			due = append(due, d)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].MaturityAt.Before(due[j].MaturityAt) })
	ids := make([]string, len(due))
	for i, d := range due {
		ids[i] = d.ID
	}
	return ids
}

// CreditMaturity settles a due active deposit by crediting its fixed
// TotalReturn to the ledger once. It reports whether this call credited.
// Already matured or not yet due deposits are left alone.
func (e *Engine) CreditMaturity(id string, now time.Time) (core.Deposit, bool, error) {
	i, err := e.index(id)
	if err != nil {
		return core.Deposit{}, false, err
	}
	d := e.deposits[i]
	switch d.Status {
	case core.DepositMatured:
		return d, false, nil
	case core.DepositWithdrawn:
		return d, false, fmt.Errorf("%w: deposit %s was withdrawn", core.ErrNotActive, id)
	}
	if !MaturityCheck(d, now) {
		return d, false, nil
	}

	credited := false
	if !e.ledger.HasDepositCredit(d.ID) {
		payout := core.Transaction{
			ID:         e.newID(),
			Title:      PayoutTitle,
			Amount:     d.TotalReturn,
			Kind:       core.Income,
			Category:   core.CategoryDepositPayout,
			OccurredAt: d.MaturityAt,
			DepositID:  d.ID,
		}
		if err := e.ledger.Append(payout); err != nil {
			return d, false, fmt.Errorf("credit deposit %s: %w", d.ID, err)
		}
		credited = true
	}

	d.Status = core.DepositMatured
	d.SettledAt = now
	e.deposits[i] = d
	return d, credited, nil
}

// WithdrawEarly closes an active deposit before maturity and credits its
// principal only. A deposit whose term has already ended must go through
// CreditMaturity instead.
func (e *Engine) WithdrawEarly(id string, now time.Time) (core.Deposit, error) {
	i, err := e.index(id)
	if err != nil {
		return core.Deposit{}, err
	}
	d := e.deposits[i]
	if d.Status != core.DepositActive {
		return d, fmt.Errorf("%w: deposit %s is %s", core.ErrNotActive, id, d.Status)
	}
	if MaturityCheck(d, now) {
		return d, fmt.Errorf("%w: deposit %s", core.ErrAlreadyMatured, id)
	}

	refund := core.Transaction{
		ID:         e.newID(),
		Title:      RefundTitle,
		Amount:     d.Principal,
		Kind:       core.Income,
		Category:   core.CategoryDepositRefund,
		OccurredAt: now,
		DepositID:  d.ID,
	}
	if err := e.ledger.Append(refund); err != nil {
		return d, fmt.Errorf("refund deposit %s: %w", d.ID, err)
	}

	d.Status = core.DepositWithdrawn
	d.SettledAt = now
	e.deposits[i] = d
	return d, nil
}

// Release marks every deposit as no longer funded from the ledger. Called
// when the ledger is cleared so available balance does not go negative.
func (e *Engine) Release() {
	for i := range e.deposits {
		e.deposits[i].Debited = false
	}
}

func (e *Engine) Get(id string) (core.Deposit, error) {
	i, err := e.index(id)
	if err != nil {
		return core.Deposit{}, err
	}
	return e.deposits[i], nil
}

// Deposits returns a copy in creation order.
func (e *Engine) Deposits() []core.Deposit {
	out := make([]core.Deposit, len(e.deposits))
	copy(out, e.deposits)
	return out
}

// Sorted returns active deposits by maturity, then matured, then withdrawn.
func (e *Engine) Sorted() []core.Deposit {
	out := e.Deposits()
	rank := map[core.DepositStatus]int{
		core.DepositActive:    0,
		core.DepositMatured:   1,
		core.DepositWithdrawn: 2,
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank[out[i].Status], rank[out[j].Status]
		if ri != rj {
			return ri < rj
		}
		if out[i].Status == core.DepositActive {
			return out[i].MaturityAt.Before(out[j].MaturityAt)
		}
		return out[i].SettledAt.After(out[j].SettledAt)
	})
	return out
}

// Count returns how many deposits are in the given status.
func (e *Engine) Count(status core.DepositStatus) int {
	n := 0
	for _, d := range e.deposits {
		if d.Status == status {
			n++
		}
	}
	return n
}

func (e *Engine) index(id string) (int, error) {
	for i := range e.deposits {
		if e.deposits[i].ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: deposit %s", core.ErrNotFound, id)
}

// Package balance answers the two balance questions the rest of the
// application asks. It holds no state of its own.
package balance

import "piggybank/internal/core"

// LedgerView is the ledger fold.
type LedgerView interface {
	AvailableBalance() core.Money
}

// DepositView exposes the principal figures of the deposit collection.
type DepositView interface {
	Locked() core.Money
	TotalSavings() core.Money
}

// Projector composes the ledger and the deposit engine. Reconcile, when set,
// runs before every figure is computed so matured payouts are included.
type Projector struct {
	Ledger    LedgerView
	Deposits  DepositView
	Reconcile func() error
}

// AvailableBalance is the ledger total minus principal still locked in
// deposits funded from it.
func (p Projector) AvailableBalance() (core.Money, error) {
	if err := p.reconcile(); err != nil {
		return core.Money{}, err
	}
	return p.Ledger.AvailableBalance().Sub(p.Deposits.Locked()), nil
}

// TotalSavings is the principal of every active deposit.
func (p Projector) TotalSavings() (core.Money, error) {
	if err := p.reconcile(); err != nil {
		return core.Money{}, err
	}
	return p.Deposits.TotalSavings(), nil
}

// Figures returns both values after a single reconciliation.
func (p Projector) Figures() (available, savings core.Money, err error) {
	if err := p.reconcile(); err != nil {
		return core.Money{}, core.Money{}, err
	}
	return p.Ledger.AvailableBalance().Sub(p.Deposits.Locked()), p.Deposits.TotalSavings(), nil
}

func (p Projector) reconcile() error {
	if p.Reconcile == nil {
		return nil
	}
	return p.Reconcile()
}

package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventTransactionAdded EventType = "transaction.added"
	EventDepositCreated   EventType = "deposit.created"
	EventDepositMatured   EventType = "deposit.matured"
	EventDepositWithdrawn EventType = "deposit.withdrawn"
	EventLedgerCleared    EventType = "ledger.cleared"
	EventRatesUpdated     EventType = "rates.updated"
)

type (
	EventType string

	// Event describes a committed mutation for downstream notifiers.
	Event struct {
		Type          EventType `json:"type"`
		OccurredAt    time.Time `json:"occurredAt"`
		TransactionID string    `json:"transactionId,omitempty"`
		DepositID     string    `json:"depositId,omitempty"`
		Amount        Money     `json:"amount"`
	}

	// Quote previews a deposit with the currently configured rate.
	Quote struct {
		Principal         Money           `json:"principal"`
		TermMonths        int             `json:"termMonths"`
		AnnualRatePercent decimal.Decimal `json:"annualRatePercent"`
		Interest          Money           `json:"interest"`
		Total             Money           `json:"total"`
		MaturityAt        time.Time       `json:"maturityAt"`
	}

	// Summary is the compact overview shown on the home screen.
	Summary struct {
		AvailableBalance Money    `json:"availableBalance"`
		TotalSavings     Money    `json:"totalSavings"`
		ActiveDeposits   int      `json:"activeDeposits"`
		MaturedDeposits  int      `json:"maturedDeposits"`
		JustMatured      []string `json:"justMatured,omitempty"`
	}
)

package http

import (
	"github.com/shopspring/decimal"

	"piggybank/internal/core"
)

type balanceResponse struct {
	AvailableBalance core.Money `json:"availableBalance"`
	TotalSavings     core.Money `json:"totalSavings"`
}

type transactionsResponse struct {
	Transactions []core.Transaction `json:"transactions"`
	Count        int                `json:"count"`
}

type depositsResponse struct {
	Deposits []core.Deposit `json:"deposits"`
	Count    int            `json:"count"`
}

type reconcileResponse struct {
	Matured []core.Deposit `json:"matured"`
}

type rateResponse struct {
	TermMonths        int             `json:"termMonths"`
	AnnualRatePercent decimal.Decimal `json:"annualRatePercent"`
}

type ratesResponse struct {
	Rates []rateResponse `json:"rates"`
}

type profileResponse struct {
	ParentName string         `json:"parentName"`
	ChildName  string         `json:"childName"`
	Rates      []rateResponse `json:"rates"`
}

func newTransactionsResponse(txs []core.Transaction) transactionsResponse {
	if txs == nil {
		txs = []core.Transaction{}
	}
	return transactionsResponse{Transactions: txs, Count: len(txs)}
}

func newDepositsResponse(deps []core.Deposit) depositsResponse {
	if deps == nil {
		deps = []core.Deposit{}
	}
	return depositsResponse{Deposits: deps, Count: len(deps)}
}

// newRates lists the table shortest term first.
func newRates(rt core.RateTable) []rateResponse {
	out := make([]rateResponse, 0, len(rt))
	for _, term := range rt.Terms() {
		out = append(out, rateResponse{TermMonths: term, AnnualRatePercent: rt[term]})
	}
	return out
}

func newProfileResponse(p core.Profile) profileResponse {
	return profileResponse{ParentName: p.ParentName, ChildName: p.ChildName, Rates: newRates(p.Rates)}
}

package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"piggybank/internal/core"
	"piggybank/internal/services"
)

type addTransactionRequest struct {
	Title    string     `json:"title"`
	Amount   core.Money `json:"amount"`
	Kind     string     `json:"kind"`
	Category string     `json:"category,omitempty"`
}

type depositRequest struct {
	Amount     core.Money `json:"amount"`
	TermMonths int        `json:"termMonths"`
}

type ratesRequest struct {
	Rates core.RateTable `json:"rates"`
}

type profileRequest struct {
	ParentName string `json:"parentName"`
	ChildName  string `json:"childName"`
}

type changeSecretRequest struct {
	NewSecret string `json:"newSecret"`
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 {
			return -1
		}
		return r
	}, s)
}

// parseTransactionRequest decodes the body and attaches the secret header.
func parseTransactionRequest(r *http.Request) (services.TransactionInput, error) {
	var req addTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		return services.TransactionInput{}, err
	}
	kind := core.TransactionKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if err := kind.Validate(); err != nil {
		return services.TransactionInput{}, fmt.Errorf("%w: %q", err, req.Kind)
	}
	return services.TransactionInput{
		Title:    sanitizeInput(req.Title),
		Amount:   req.Amount,
		Kind:     kind,
		Category: core.Category(strings.ToLower(strings.TrimSpace(req.Category))),
		Secret:   secretFrom(r),
	}, nil
}

func parseDepositRequest(r *http.Request) (core.Money, int, error) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		return core.Money{}, 0, err
	}
	if err := req.Amount.Validate(); err != nil {
		return core.Money{}, 0, err
	}
	if !core.IsSupportedTerm(req.TermMonths) {
		return core.Money{}, 0, fmt.Errorf("%w: %d months", core.ErrInvalidTerm, req.TermMonths)
	}
	return req.Amount, req.TermMonths, nil
}

func parseTerm(raw string) (int, error) {
	term, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || !core.IsSupportedTerm(term) {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidTerm, raw)
	}
	return term, nil
}

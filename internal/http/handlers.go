package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"piggybank/internal/core"
	"piggybank/internal/log"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	sum, err := s.bank.Summary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		AvailableBalance: sum.AvailableBalance,
		TotalSavings:     sum.TotalSavings,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.bank.Summary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	matured, err := s.bank.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if matured == nil {
		matured = []core.Deposit{}
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Matured: matured})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.bank.Transactions(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionsResponse(txs))
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	in, err := parseTransactionRequest(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	tx, err := s.bank.AddTransaction(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleClearTransactions(w http.ResponseWriter, r *http.Request) {
	if err := s.bank.ClearTransactions(r.Context(), secretFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	deps, err := s.bank.Deposits(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDepositsResponse(deps))
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := s.bank.Deposit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	amount, term, err := parseDepositRequest(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	d, err := s.bank.CreateDeposit(r.Context(), amount, term)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleQuoteDeposit(w http.ResponseWriter, r *http.Request) {
	amount, term, err := parseDepositRequest(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	q, err := s.bank.QuoteDeposit(r.Context(), amount, term)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleWithdrawDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := s.bank.WithdrawDeposit(r.Context(), chi.URLParam(r, "id"), secretFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ratesResponse{Rates: newRates(s.bank.Rates(r.Context()))})
}

func (s *Server) handleRateForTerm(w http.ResponseWriter, r *http.Request) {
	term, err := parseTerm(chi.URLParam(r, "term"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rate, err := s.bank.InterestRateForTerm(r.Context(), term)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rateResponse{TermMonths: term, AnnualRatePercent: rate})
}

func (s *Server) handleUpdateRates(w http.ResponseWriter, r *http.Request) {
	var req ratesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.bank.UpdateTermInterestRates(r.Context(), req.Rates, secretFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratesResponse{Rates: newRates(s.bank.Rates(r.Context()))})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newProfileResponse(s.bank.Profile(r.Context())))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	err := s.bank.UpdateProfile(r.Context(), sanitizeInput(req.ParentName), sanitizeInput(req.ChildName), secretFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(s.bank.Profile(r.Context())))
}

func (s *Server) handleChangeSecret(w http.ResponseWriter, r *http.Request) {
	var req changeSecretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.bank.ChangeSecret(r.Context(), secretFrom(r), req.NewSecret); err != nil {
		writeServiceError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Guardian secret rotated via API")
	w.WriteHeader(http.StatusNoContent)
}

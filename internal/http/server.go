// Package http exposes the bank as a JSON API for the presentation layer.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"piggybank/internal/core"
	"piggybank/internal/log"
	"piggybank/internal/services"
)

// Bank is the slice of services.Bank the API serves.
type Bank interface {
	AddTransaction(ctx context.Context, in services.TransactionInput) (core.Transaction, error)
	CreateDeposit(ctx context.Context, amount core.Money, termMonths int) (core.Deposit, error)
	WithdrawDeposit(ctx context.Context, id, secret string) (core.Deposit, error)
	ClearTransactions(ctx context.Context, secret string) error
	UpdateTermInterestRates(ctx context.Context, table core.RateTable, secret string) error
	UpdateProfile(ctx context.Context, parentName, childName, secret string) error
	ChangeSecret(ctx context.Context, current, next string) error
	Reconcile(ctx context.Context) ([]core.Deposit, error)

	AvailableBalance(ctx context.Context) (core.Money, error)
	TotalSavings(ctx context.Context) (core.Money, error)
	Summary(ctx context.Context) (core.Summary, error)
	Transactions(ctx context.Context) ([]core.Transaction, error)
	Deposits(ctx context.Context) ([]core.Deposit, error)
	Deposit(ctx context.Context, id string) (core.Deposit, error)
	QuoteDeposit(ctx context.Context, amount core.Money, termMonths int) (core.Quote, error)
	InterestRateForTerm(ctx context.Context, termMonths int) (decimal.Decimal, error)
	Rates(ctx context.Context) core.RateTable
	Profile(ctx context.Context) core.Profile
}

var _ Bank = (*services.Bank)(nil)

// Options tunes the guardian endpoints.
type Options struct {
	AuthRatePerMinute int
	IdempotencyTTL    time.Duration
	Logger            *log.Logger
}

type Server struct {
	http.Server
	bank        Bank
	logger      *log.Logger
	authLimiter *authLimiter
	idempotency *idempotencyCache

	shutdownOnce sync.Once
}

func NewServer(addr string, bank Bank, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		bank:        bank,
		logger:      logger,
		authLimiter: newAuthLimiter(opts.AuthRatePerMinute),
		idempotency: newIdempotencyCache(opts.IdempotencyTTL),
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(log.Middleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.screenRequests)

	r.Get("/healthz", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(s.authLimiter.Middleware)
		r.Use(s.idempotency.Middleware)

		r.Get("/balance", s.handleBalance)
		r.Get("/summary", s.handleSummary)
		r.Post("/reconcile", s.handleReconcile)

		r.Get("/transactions", s.handleListTransactions)
		r.Post("/transactions", s.handleAddTransaction)
		r.Delete("/transactions", s.handleClearTransactions)

		r.Get("/deposits", s.handleListDeposits)
		r.Post("/deposits", s.handleCreateDeposit)
		r.Post("/deposits/quote", s.handleQuoteDeposit)
		r.Get("/deposits/{id}", s.handleGetDeposit)
		r.Post("/deposits/{id}/withdraw", s.handleWithdrawDeposit)

		r.Get("/rates", s.handleRates)
		r.Get("/rates/{term}", s.handleRateForTerm)
		r.Put("/rates", s.handleUpdateRates)

		r.Get("/profile", s.handleProfile)
		r.Put("/profile", s.handleUpdateProfile)
		r.Put("/profile/secret", s.handleChangeSecret)
	})

	return r
}

// Shutdown gracefully shuts down the server and its background caches.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.InfoContext(ctx, "Shutting down HTTP server")
		err = s.Server.Shutdown(ctx)
		s.authLimiter.stop()
		s.idempotency.stop()
	})
	return err
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

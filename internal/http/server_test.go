package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"piggybank/internal/core"
	"piggybank/internal/services"
	"piggybank/internal/storage/memory"
)

var start = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestServer(t *testing.T) (*Server, *testClock) {
	t.Helper()
	clock := &testClock{now: start}
	bank, err := services.NewBank(context.Background(), memory.New(), services.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new bank: %v", err)
	}
	srv := NewServer(":0", bank, Options{AuthRatePerMinute: 100, IdempotencyTTL: time.Minute})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, clock
}

type call struct {
	method  string
	path    string
	body    string
	headers map[string]string
}

func do(t *testing.T, srv *Server, c call) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if c.body != "" {
		req = httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(c.method, c.path, nil)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func guardian(extra ...string) map[string]string {
	h := map[string]string{SecretHeader: core.DefaultSecret}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func balance(t *testing.T, srv *Server) balanceResponse {
	t.Helper()
	rr := do(t, srv, call{method: http.MethodGet, path: "/api/balance"})
	if rr.Code != http.StatusOK {
		t.Fatalf("balance status=%d body=%s", rr.Code, rr.Body.String())
	}
	return decode[balanceResponse](t, rr)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := do(t, srv, call{method: http.MethodGet, path: "/healthz"})
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestDepositFlow(t *testing.T) {
	srv, clock := newTestServer(t)

	rr := do(t, srv, call{method: http.MethodPost, path: "/api/transactions",
		body: `{"title":"Allowance","amount":"100.00","kind":"income"}`, headers: guardian()})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add income status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, call{method: http.MethodPost, path: "/api/deposits/quote", body: `{"amount":"60","termMonths":3}`})
	if rr.Code != http.StatusOK {
		t.Fatalf("quote status=%d body=%s", rr.Code, rr.Body.String())
	}
	if q := decode[core.Quote](t, rr); q.Total.Cents != 6060 {
		t.Fatalf("quote total = %s", q.Total)
	}

	rr = do(t, srv, call{method: http.MethodPost, path: "/api/deposits", body: `{"amount":"60.00","termMonths":3}`})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create deposit status=%d body=%s", rr.Code, rr.Body.String())
	}
	d := decode[core.Deposit](t, rr)
	if d.TotalReturn.Cents != 6060 || d.Status != core.DepositActive {
		t.Fatalf("deposit = %+v", d)
	}

	if b := balance(t, srv); b.AvailableBalance.Cents != 4000 || b.TotalSavings.Cents != 6000 {
		t.Fatalf("balance = %+v", b)
	}

	clock.Set(d.MaturityAt.Add(time.Minute))
	rr = do(t, srv, call{method: http.MethodGet, path: "/api/summary"})
	sum := decode[core.Summary](t, rr)
	if len(sum.JustMatured) != 1 || sum.AvailableBalance.Cents != 10060 || sum.MaturedDeposits != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	rr = do(t, srv, call{method: http.MethodGet, path: "/api/deposits/" + d.ID})
	if got := decode[core.Deposit](t, rr); got.Status != core.DepositMatured {
		t.Fatalf("status = %s", got.Status)
	}

	rr = do(t, srv, call{method: http.MethodGet, path: "/api/transactions"})
	list := decode[transactionsResponse](t, rr)
	if list.Count != 2 || list.Transactions[0].Category != core.CategoryDepositPayout {
		t.Fatalf("transactions = %+v", list)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, call{method: http.MethodPost, path: "/api/transactions",
		body: `{"title":"Allowance","amount":"10.00","kind":"income"}`, headers: guardian()})

	tests := []struct {
		name string
		call call
		want int
	}{
		{"income without secret", call{method: http.MethodPost, path: "/api/transactions", body: `{"title":"x","amount":"1","kind":"income"}`}, http.StatusUnauthorized},
		{"bad amount", call{method: http.MethodPost, path: "/api/transactions", body: `{"title":"x","amount":"abc","kind":"expense"}`}, http.StatusUnprocessableEntity},
		{"unknown field", call{method: http.MethodPost, path: "/api/transactions", body: `{"title":"x","amount":"1","kind":"expense","when":"now"}`}, http.StatusUnprocessableEntity},
		{"bad kind", call{method: http.MethodPost, path: "/api/transactions", body: `{"title":"x","amount":"1","kind":"gift"}`}, http.StatusUnprocessableEntity},
		{"bad term", call{method: http.MethodPost, path: "/api/deposits", body: `{"amount":"1","termMonths":2}`}, http.StatusUnprocessableEntity},
		{"insufficient funds", call{method: http.MethodPost, path: "/api/deposits", body: `{"amount":"10.01","termMonths":1}`}, http.StatusConflict},
		{"unknown deposit", call{method: http.MethodGet, path: "/api/deposits/nope"}, http.StatusNotFound},
		{"withdraw wrong secret", call{method: http.MethodPost, path: "/api/deposits/nope/withdraw", headers: map[string]string{SecretHeader: "0000"}}, http.StatusUnauthorized},
		{"clear wrong secret", call{method: http.MethodDelete, path: "/api/transactions", headers: map[string]string{SecretHeader: "0000"}}, http.StatusUnauthorized},
		{"rate for unsupported term", call{method: http.MethodGet, path: "/api/rates/5"}, http.StatusUnprocessableEntity},
		{"rate out of range", call{method: http.MethodPut, path: "/api/rates", body: `{"rates":{"1":"21"}}`, headers: guardian()}, http.StatusUnprocessableEntity},
		{"short secret", call{method: http.MethodPut, path: "/api/profile/secret", body: `{"newSecret":"12"}`, headers: guardian()}, http.StatusUnprocessableEntity},
		{"wrong content type", call{method: http.MethodPost, path: "/api/deposits", body: `amount=1`, headers: map[string]string{"Content-Type": "text/plain"}}, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, tt.call)
			if rr.Code != tt.want {
				t.Fatalf("status=%d, want %d, body=%s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	if b := balance(t, srv); b.AvailableBalance.Cents != 1000 {
		t.Fatalf("failed calls changed the balance: %+v", b)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{core.ErrInsufficientFunds, http.StatusConflict},
		{core.ErrUnauthorized, http.StatusUnauthorized},
		{core.ErrNotActive, http.StatusConflict},
		{core.ErrAlreadyMatured, http.StatusConflict},
		{core.ErrNotFound, http.StatusNotFound},
		{&core.PersistenceError{Op: "x", Err: errors.New("disk")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWithdrawAndClear(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, call{method: http.MethodPost, path: "/api/transactions",
		body: `{"title":"Allowance","amount":"50","kind":"income"}`, headers: guardian()})
	rr := do(t, srv, call{method: http.MethodPost, path: "/api/deposits", body: `{"amount":"20","termMonths":12}`})
	d := decode[core.Deposit](t, rr)

	rr = do(t, srv, call{method: http.MethodPost, path: "/api/deposits/" + d.ID + "/withdraw", headers: guardian()})
	if rr.Code != http.StatusOK {
		t.Fatalf("withdraw status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, srv, call{method: http.MethodPost, path: "/api/deposits/" + d.ID + "/withdraw", headers: guardian()})
	if rr.Code != http.StatusConflict {
		t.Fatalf("second withdraw status=%d", rr.Code)
	}
	if b := balance(t, srv); b.AvailableBalance.Cents != 5000 {
		t.Fatalf("balance = %+v", b)
	}

	rr = do(t, srv, call{method: http.MethodDelete, path: "/api/transactions", headers: guardian()})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear status=%d", rr.Code)
	}
	if b := balance(t, srv); b.AvailableBalance.Cents != 0 {
		t.Fatalf("balance after clear = %+v", b)
	}
}

func TestRatesAndProfile(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv, call{method: http.MethodPut, path: "/api/rates", body: `{"rates":{"12":"7.5"}}`, headers: guardian()})
	if rr.Code != http.StatusOK {
		t.Fatalf("update rates status=%d body=%s", rr.Code, rr.Body.String())
	}
	rates := decode[ratesResponse](t, rr)
	if len(rates.Rates) != 4 || rates.Rates[0].TermMonths != 1 || rates.Rates[3].AnnualRatePercent.String() != "7.5" {
		t.Fatalf("rates = %+v", rates)
	}

	rr = do(t, srv, call{method: http.MethodGet, path: "/api/rates/12"})
	if r := decode[rateResponse](t, rr); r.AnnualRatePercent.String() != "7.5" {
		t.Fatalf("rate(12) = %s", r.AnnualRatePercent)
	}

	rr = do(t, srv, call{method: http.MethodPut, path: "/api/profile", body: `{"parentName":"Ada","childName":"Bo"}`, headers: guardian()})
	if rr.Code != http.StatusOK {
		t.Fatalf("update profile status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, srv, call{method: http.MethodGet, path: "/api/profile"})
	if strings.Contains(rr.Body.String(), core.DefaultSecret) || strings.Contains(rr.Body.String(), "secret") {
		t.Fatalf("profile leaks the secret: %s", rr.Body.String())
	}
	if p := decode[profileResponse](t, rr); p.ChildName != "Bo" {
		t.Fatalf("profile = %+v", p)
	}

	rr = do(t, srv, call{method: http.MethodPut, path: "/api/profile/secret", body: `{"newSecret":"4321"}`, headers: guardian()})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("change secret status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, srv, call{method: http.MethodDelete, path: "/api/transactions", headers: guardian()})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("old secret still accepted: %d", rr.Code)
	}
}

func TestIdempotentPostReplays(t *testing.T) {
	srv, _ := newTestServer(t)
	c := call{method: http.MethodPost, path: "/api/transactions",
		body: `{"title":"Allowance","amount":"5","kind":"income"}`, headers: guardian(IdempotencyHeader, "tap-1")}

	first := do(t, srv, c)
	second := do(t, srv, c)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("status %d / %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("replay header missing")
	}
	if b := balance(t, srv); b.AvailableBalance.Cents != 500 {
		t.Fatalf("balance = %+v, want 5.00", b)
	}

	c.headers = guardian(IdempotencyHeader, "tap-2")
	do(t, srv, c)
	if b := balance(t, srv); b.AvailableBalance.Cents != 1000 {
		t.Fatalf("new key should execute, balance = %+v", b)
	}
}

func TestIdempotencyKeyBoundToRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	add := func(body, secret string) *httptest.ResponseRecorder {
		return do(t, srv, call{method: http.MethodPost, path: "/api/transactions", body: body,
			headers: map[string]string{SecretHeader: secret, IdempotencyHeader: "tap-9"}})
	}
	income := `{"title":"Allowance","amount":"5","kind":"income"}`

	if rr := add(income, "0000"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret status=%d", rr.Code)
	}
	// A rejected secret is not replayed to the retry that fixes it.
	rr := add(income, core.DefaultSecret)
	if rr.Code != http.StatusCreated || rr.Header().Get("Idempotent-Replayed") != "" {
		t.Fatalf("retry with secret status=%d replayed=%q", rr.Code, rr.Header().Get("Idempotent-Replayed"))
	}

	rr = add(`{"title":"Allowance","amount":"50","kind":"income"}`, core.DefaultSecret)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reused key with new body status=%d body=%s", rr.Code, rr.Body.String())
	}
	if b := balance(t, srv); b.AvailableBalance.Cents != 500 {
		t.Fatalf("balance = %+v, want 5.00", b)
	}

	if rr := add(income, core.DefaultSecret); rr.Code != http.StatusCreated || rr.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("identical retry status=%d replayed=%q", rr.Code, rr.Header().Get("Idempotent-Replayed"))
	}
}

func TestAuthRateLimit(t *testing.T) {
	bank, err := services.NewBank(context.Background(), memory.New())
	if err != nil {
		t.Fatalf("new bank: %v", err)
	}
	srv := NewServer(":0", bank, Options{AuthRatePerMinute: 3})
	defer srv.Shutdown(context.Background())

	wrong := call{method: http.MethodDelete, path: "/api/transactions", headers: map[string]string{SecretHeader: "0000"}}
	for i := 0; i < 3; i++ {
		if rr := do(t, srv, wrong); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status=%d", i, rr.Code)
		}
	}
	rr := do(t, srv, wrong)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}

	// Requests without a secret are not throttled.
	if rr := do(t, srv, call{method: http.MethodGet, path: "/api/balance"}); rr.Code != http.StatusOK {
		t.Fatalf("balance status=%d", rr.Code)
	}
}

func TestSuspiciousRequestRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := do(t, srv, call{method: http.MethodGet, path: "/api/balance?file=../../etc/passwd"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

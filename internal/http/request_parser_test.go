package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"piggybank/internal/core"
)

func TestParseTransactionRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		secret  string
		want    core.TransactionKind
		wantErr error
	}{
		{"income", `{"title":" Gift ","amount":"12.5","kind":"Income"}`, "1234", core.Income, nil},
		{"expense numeric amount", `{"title":"Comic","amount":3.99,"kind":"expense","category":"entertainment"}`, "", core.Expense, nil},
		{"unknown kind", `{"title":"x","amount":"1","kind":"loan"}`, "", "", core.ErrInvalidKind},
		{"malformed", `{"title":`, "", "", core.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(tt.body))
			if tt.secret != "" {
				req.Header.Set(SecretHeader, tt.secret)
			}
			in, err := parseTransactionRequest(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if in.Kind != tt.want || in.Secret != tt.secret {
				t.Errorf("input = %+v", in)
			}
			if in.Title != strings.TrimSpace(in.Title) {
				t.Errorf("title not trimmed: %q", in.Title)
			}
		})
	}
}

func TestParseDepositRequest(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCents int64
		wantTerm  int
		wantErr   error
	}{
		{"valid", `{"amount":"60.00","termMonths":3}`, 6000, 3, nil},
		{"comma decimal", `{"amount":"1,50","termMonths":1}`, 150, 1, nil},
		{"zero amount", `{"amount":"0","termMonths":1}`, 0, 0, core.ErrInvalidAmount},
		{"negative amount", `{"amount":"-5","termMonths":1}`, 0, 0, core.ErrInvalidAmount},
		{"unsupported term", `{"amount":"5","termMonths":24}`, 0, 0, core.ErrInvalidTerm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/deposits", strings.NewReader(tt.body))
			amount, term, err := parseDepositRequest(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if amount.Cents != tt.wantCents || term != tt.wantTerm {
				t.Errorf("got %d cents for %d months", amount.Cents, term)
			}
		})
	}
}

func TestParseTerm(t *testing.T) {
	for _, raw := range []string{"1", "3", "6", "12"} {
		if _, err := parseTerm(raw); err != nil {
			t.Errorf("parseTerm(%q): %v", raw, err)
		}
	}
	for _, raw := range []string{"", "0", "2", "abc", "-1"} {
		if _, err := parseTerm(raw); !errors.Is(err, core.ErrInvalidTerm) {
			t.Errorf("parseTerm(%q) = %v, want ErrInvalidTerm", raw, err)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  Comic\x00 book\n "); got != "Comic book" {
		t.Errorf("sanitizeInput = %q", got)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct", "203.0.113.7:4000", "", "203.0.113.7"},
		{"untrusted peer ignores forwarding", "203.0.113.7:4000", "198.51.100.1", "203.0.113.7"},
		{"trusted proxy forwards", "10.0.0.2:4000", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"trusted proxy with junk header", "127.0.0.1:4000", "not-an-ip", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := extractClientIP(req); got != tt.want {
				t.Errorf("extractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

package core

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionKind = "income"
	Expense TransactionKind = "expense"
)

const (
	CategoryFood          Category = "food"
	CategoryEducation     Category = "education"
	CategoryEntertainment Category = "entertainment"
	CategoryPocketMoney   Category = "pocket-money"
	CategoryOther         Category = "other"

	// Credits produced by the deposit engine. Never accepted from callers.
	CategoryDepositPayout Category = "deposit-payout"
	CategoryDepositRefund Category = "deposit-refund"
)

const (
	DepositActive    DepositStatus = "active"
	DepositMatured   DepositStatus = "matured"
	DepositWithdrawn DepositStatus = "withdrawn"
)

// MaxTitleLength bounds transaction titles and profile names, in runes.
const MaxTitleLength = 100

// MinSecretLength is the shortest guardian secret accepted on change.
const MinSecretLength = 4

// DefaultSecret is the guardian secret of a fresh profile.
const DefaultSecret = "1234"

// SupportedTerms lists the deposit lengths in months, shortest first.
var SupportedTerms = []int{1, 3, 6, 12}

var (
	MinRatePercent = decimal.Zero
	MaxRatePercent = decimal.NewFromInt(20)
)

type (
	TransactionKind string
	Category        string
	DepositStatus   string

	// Transaction is an immutable ledger record.
	Transaction struct {
		ID         string          `json:"id"`
		Title      string          `json:"title"`
		Amount     Money           `json:"amount"`
		Kind       TransactionKind `json:"kind"`
		Category   Category        `json:"category"`
		OccurredAt time.Time       `json:"occurredAt"`
		// DepositID links engine-generated credits to their deposit.
		DepositID string `json:"depositId,omitempty"`
	}

	// Deposit is a fixed-term savings commitment.
	Deposit struct {
		ID                string          `json:"id"`
		Principal         Money           `json:"principal"`
		TermMonths        int             `json:"termMonths"`
		AnnualRatePercent decimal.Decimal `json:"annualRatePercent"`
		CreatedAt         time.Time       `json:"createdAt"`
		MaturityAt        time.Time       `json:"maturityAt"`
		TotalReturn       Money           `json:"totalReturn"`
		Status            DepositStatus   `json:"status"`
		SettledAt         time.Time       `json:"settledAt,omitempty"`
		// Debited is true while the principal is still funded out of the
		// current ledger. A ledger clear resets it.
		Debited bool `json:"debited"`
	}

	// RateTable maps a term length in months to an annual percent.
	RateTable map[int]decimal.Decimal

	// Profile is the guardian-owned configuration.
	Profile struct {
		ParentName string    `json:"parentName"`
		ChildName  string    `json:"childName"`
		Secret     string    `json:"secret"`
		Rates      RateTable `json:"rates"`
	}

	// Snapshot is the unit of persistence: loaded wholesale at startup and
	// rewritten wholesale after every mutation.
	Snapshot struct {
		Version      int64         `json:"version"`
		SavedAt      time.Time     `json:"savedAt"`
		Profile      Profile       `json:"profile"`
		Transactions []Transaction `json:"transactions"`
		Deposits     []Deposit     `json:"deposits"`
	}
)

// IsSupportedTerm reports whether months is one of SupportedTerms.
func IsSupportedTerm(months int) bool {
	for _, t := range SupportedTerms {
		if t == months {
			return true
		}
	}
	return false
}

func (k TransactionKind) Validate() error {
	switch k {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidKind
	}
}

// Validate accepts every known category, including engine-generated ones.
func (c Category) Validate() error {
	switch c {
	case CategoryFood, CategoryEducation, CategoryEntertainment, CategoryPocketMoney, CategoryOther,
		CategoryDepositPayout, CategoryDepositRefund:
		return nil
	default:
		return ErrInvalidCategory
	}
}

// IsUserSelectable is false for categories reserved to the deposit engine.
func (c Category) IsUserSelectable() bool {
	return c.Validate() == nil && c != CategoryDepositPayout && c != CategoryDepositRefund
}

// UserCategories returns the categories a caller may tag a transaction with.
func UserCategories() []Category {
	return []Category{CategoryFood, CategoryEducation, CategoryEntertainment, CategoryPocketMoney, CategoryOther}
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(t.Title) > MaxTitleLength {
		return ErrInvalidInput
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	return t.Category.Validate()
}

// Signed returns the amount with expenses negated.
func (t Transaction) Signed() Money {
	if t.Kind == Expense {
		return Money{Cents: -t.Amount.Cents}
	}
	return t.Amount
}

// IsDue reports whether the deposit's term has ended at now.
func (d Deposit) IsDue(now time.Time) bool {
	return !now.Before(d.MaturityAt)
}

// Interest is the part of TotalReturn above the principal.
func (d Deposit) Interest() Money {
	return d.TotalReturn.Sub(d.Principal)
}

// DefaultRates returns the rate table of a fresh profile.
func DefaultRates() RateTable {
	return RateTable{
		1:  decimal.NewFromInt(3),
		3:  decimal.NewFromInt(4),
		6:  decimal.NewFromInt(5),
		12: decimal.NewFromInt(6),
	}
}

// Rate returns the configured annual percent for a term.
func (rt RateTable) Rate(months int) (decimal.Decimal, error) {
	if !IsSupportedTerm(months) {
		return decimal.Zero, ErrInvalidTerm
	}
	r, ok := rt[months]
	if !ok {
		return decimal.Zero, ErrInvalidTerm
	}
	return r, nil
}

// Validate checks that every entry is a supported term with a rate in [0, 20].
func (rt RateTable) Validate() error {
	if len(rt) == 0 {
		return ErrInvalidRate
	}
	for term, r := range rt {
		if !IsSupportedTerm(term) {
			return ErrInvalidTerm
		}
		if r.LessThan(MinRatePercent) || r.GreaterThan(MaxRatePercent) {
			return ErrInvalidRate
		}
	}
	return nil
}

func (rt RateTable) Clone() RateTable {
	out := make(RateTable, len(rt))
	for k, v := range rt {
		out[k] = v
	}
	return out
}

// Terms returns the configured terms in ascending order.
func (rt RateTable) Terms() []int {
	terms := make([]int, 0, len(rt))
	for k := range rt {
		terms = append(terms, k)
	}
	sort.Ints(terms)
	return terms
}

// DefaultProfile is the profile of a first launch.
func DefaultProfile() Profile {
	return Profile{
		Secret: DefaultSecret,
		Rates:  DefaultRates(),
	}
}

func (p Profile) Clone() Profile {
	p.Rates = p.Rates.Clone()
	return p
}

// NewSnapshot returns an empty snapshot with default configuration.
func NewSnapshot() Snapshot {
	return Snapshot{
		Profile:      DefaultProfile(),
		Transactions: []Transaction{},
		Deposits:     []Deposit{},
	}
}

// Clone returns a deep copy safe to mutate.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Profile = s.Profile.Clone()
	out.Transactions = append([]Transaction(nil), s.Transactions...)
	out.Deposits = append([]Deposit(nil), s.Deposits...)
	if out.Transactions == nil {
		out.Transactions = []Transaction{}
	}
	if out.Deposits == nil {
		out.Deposits = []Deposit{}
	}
	return out
}

// Normalize fills configuration missing from older or hand-written snapshots.
func (s *Snapshot) Normalize() {
	if s.Profile.Secret == "" {
		s.Profile.Secret = DefaultSecret
	}
	if len(s.Profile.Rates) == 0 {
		s.Profile.Rates = DefaultRates()
	}
	for _, term := range SupportedTerms {
		if _, ok := s.Profile.Rates[term]; !ok {
			s.Profile.Rates[term] = DefaultRates()[term]
		}
	}
	if s.Transactions == nil {
		s.Transactions = []Transaction{}
	}
	if s.Deposits == nil {
		s.Deposits = []Deposit{}
	}
}

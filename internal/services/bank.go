package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"piggybank/internal/balance"
	"piggybank/internal/core"
	"piggybank/internal/deposits"
	"piggybank/internal/ledger"
	"piggybank/internal/log"
	"piggybank/internal/profile"
	"piggybank/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultIncomeTitle is used for guardian income entered without a title.
const DefaultIncomeTitle = "Pocket Money"

// Publisher receives events after their mutation has been persisted.
type Publisher interface {
	Publish(ctx context.Context, ev core.Event) error
}

// Bank is the single entry point for the presentation layer. Every call
// works on a clone of the committed snapshot, runs the maturity pass,
// applies its change, persists, and only then swaps the clone in. A failed
// save leaves the committed state untouched and returns *core.PersistenceError.
type Bank struct {
	mu    sync.Mutex
	store storage.SnapshotStore
	state core.Snapshot

	now       func() time.Time
	newID     func() string
	auth      profile.Authorizer
	publisher Publisher
	maturity  *MaturityProcessor
	logger    *log.Logger
}

type Option func(*Bank)

func WithClock(now func() time.Time) Option { return func(b *Bank) { b.now = now } }

func WithIDGenerator(newID func() string) Option { return func(b *Bank) { b.newID = newID } }

func WithAuthorizer(a profile.Authorizer) Option { return func(b *Bank) { b.auth = a } }

func WithPublisher(p Publisher) Option { return func(b *Bank) { b.publisher = p } }

func WithLogger(l *log.Logger) Option { return func(b *Bank) { b.logger = l } }

// NewBank loads the snapshot from store.
func NewBank(ctx context.Context, store storage.SnapshotStore, opts ...Option) (*Bank, error) {
	if store == nil {
		return nil, errors.New("bank: nil snapshot store")
	}
	b := &Bank{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		auth:  profile.PlainAuthorizer{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.Discard()
	}
	b.logger = b.logger.WithComponent(log.ComponentBank)
	b.maturity = NewMaturityProcessor(b.logger)

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Normalize()
	b.state = snap

	b.logger.InfoContext(ctx, "Bank loaded",
		log.FieldVersion, snap.Version,
		"transactions", len(snap.Transactions),
		"deposits", len(snap.Deposits))
	return b, nil
}

// session is the working copy a single call mutates.
type session struct {
	now     time.Time
	ledger  *ledger.Ledger
	engine  *deposits.Engine
	profile *profile.Store
	events  []core.Event
	matured []core.Deposit
	changed bool
}

func (b *Bank) begin() *session {
	snap := b.state.Clone()
	l := ledger.New(snap.Transactions)
	p := profile.New(snap.Profile, b.auth)
	return &session{
		now:     b.now(),
		ledger:  l,
		engine:  deposits.New(snap.Deposits, l, p, b.newID),
		profile: p,
	}
}

func (s *session) snapshot() core.Snapshot {
	return core.Snapshot{
		Profile:      s.profile.Profile(),
		Transactions: s.ledger.Transactions(),
		Deposits:     s.engine.Deposits(),
	}
}

func (s *session) emit(ev core.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now
	}
	s.events = append(s.events, ev)
	s.changed = true
}

func (s *session) projector(reconcile func() error) balance.Projector {
	return balance.Projector{Ledger: s.ledger, Deposits: s.engine, Reconcile: reconcile}
}

func (b *Bank) reconcile(ctx context.Context, s *session) error {
	matured, err := b.maturity.ProcessDue(ctx, s.engine, s.now)
	if err != nil {
		return err
	}
	for _, d := range matured {
		s.matured = append(s.matured, d)
		s.emit(core.Event{
			Type:       core.EventDepositMatured,
			OccurredAt: d.MaturityAt,
			DepositID:  d.ID,
			Amount:     d.TotalReturn,
		})
	}
	return nil
}

// maxSaveAttempts bounds how often a call is replayed after another writer
// saved first.
const maxSaveAttempts = 3

// commit persists a changed session and swaps it in. Caller holds b.mu.
// When another writer got there first the stored snapshot is adopted so a
// retry starts from it.
func (b *Bank) commit(ctx context.Context, s *session, op string) ([]core.Event, error) {
	if !s.changed {
		return nil, nil
	}
	next := s.snapshot()
	next.Version = b.state.Version + 1
	next.SavedAt = s.now
	if err := b.store.Save(ctx, next); err != nil {
		if errors.Is(err, core.ErrVersionConflict) {
			b.logger.WarnContext(ctx, "Snapshot changed by another writer",
				log.FieldOperation, op,
				log.FieldVersion, b.state.Version)
			if rerr := b.adoptStored(ctx); rerr != nil {
				b.logger.ErrorContext(ctx, "Failed to reload snapshot", log.FieldError, rerr)
			}
		} else {
			b.logger.ErrorContext(ctx, "Failed to persist snapshot",
				log.FieldOperation, op,
				log.FieldVersion, next.Version,
				log.FieldError, err)
		}
		return nil, &core.PersistenceError{Op: op, Err: err}
	}
	b.state = next
	return s.events, nil
}

// adoptStored replaces the committed state with the stored snapshot when
// the store holds a newer version. Caller holds b.mu.
func (b *Bank) adoptStored(ctx context.Context) error {
	snap, err := b.store.Load(ctx)
	if err != nil {
		return err
	}
	if snap.Version <= b.state.Version {
		return nil
	}
	snap.Normalize()
	b.logger.InfoContext(ctx, "Adopted newer snapshot",
		log.FieldVersion, snap.Version,
		"previous", b.state.Version)
	b.state = snap
	return nil
}

// Refresh picks up changes saved by another process sharing the store.
func (b *Bank) Refresh(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.adoptStored(ctx); err != nil {
		return &core.PersistenceError{Op: log.OpRefresh, Err: err}
	}
	return nil
}

func (b *Bank) publish(ctx context.Context, events []core.Event) {
	if b.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := b.publisher.Publish(ctx, ev); err != nil {
			b.logger.ErrorContext(ctx, "Failed to publish event",
				log.FieldEventType, ev.Type,
				log.FieldError, err)
		}
	}
}

// guard checks secret against the committed profile before anything runs.
func (b *Bank) guard(ctx context.Context, op, secret string) error {
	if b.auth.Authorize(b.state.Profile.Secret, secret) {
		return nil
	}
	b.logger.WarnContext(ctx, "Authorization rejected", log.FieldOperation, op)
	return core.ErrUnauthorized
}

func retryable(err error, attempt int) bool {
	return attempt < maxSaveAttempts && errors.Is(err, core.ErrVersionConflict)
}

// mutate runs fn inside a reconciled session and commits the result. When
// fn fails the session still carries any maturity credits, and those are
// committed on their own. A version conflict replays the whole call on the
// reloaded state.
func (b *Bank) mutate(ctx context.Context, op string, secret *string, fn func(s *session) error) error {
	b.mu.Lock()
	var events []core.Event
	var err error
	for attempt := 1; ; attempt++ {
		events, err = b.mutateOnce(ctx, op, secret, fn)
		if !retryable(err, attempt) {
			break
		}
	}
	b.mu.Unlock()
	b.publish(ctx, events)
	return err
}

func (b *Bank) mutateOnce(ctx context.Context, op string, secret *string, fn func(s *session) error) ([]core.Event, error) {
	if secret != nil {
		if err := b.guard(ctx, op, *secret); err != nil {
			return nil, err
		}
	}

	s := b.begin()
	if err := b.reconcile(ctx, s); err != nil {
		return nil, err
	}

	if err := fn(s); err != nil {
		events, cerr := b.commitReconcileOnly(ctx, s)
		if cerr != nil {
			b.logger.ErrorContext(ctx, "Reconciliation not persisted", log.FieldError, cerr)
		}
		return events, err
	}
	s.changed = true
	return b.commit(ctx, s, op)
}

// commitReconcileOnly rebuilds a session holding only the maturity pass.
func (b *Bank) commitReconcileOnly(ctx context.Context, failed *session) ([]core.Event, error) {
	if len(failed.matured) == 0 {
		return nil, nil
	}
	s := b.begin()
	s.now = failed.now
	if err := b.reconcile(ctx, s); err != nil {
		return nil, err
	}
	return b.commit(ctx, s, log.OpReconcile)
}

// read runs fn over a reconciled session. A maturity pass that changed
// state must be persisted before fn's answer is returned.
func (b *Bank) read(ctx context.Context, fn func(s *session) error) error {
	b.mu.Lock()
	var events []core.Event
	var err error
	for attempt := 1; ; attempt++ {
		s := b.begin()
		if err = b.reconcile(ctx, s); err != nil {
			break
		}
		events, err = b.commit(ctx, s, log.OpReconcile)
		if err == nil {
			err = fn(s)
			break
		}
		if !retryable(err, attempt) {
			break
		}
	}
	b.mu.Unlock()
	b.publish(ctx, events)
	return err
}

// TransactionInput is what a caller supplies to AddTransaction.
type TransactionInput struct {
	Title    string
	Amount   core.Money
	Kind     core.TransactionKind
	Category core.Category
	// Secret is required for income, which only a guardian may record.
	Secret string
}

// AddTransaction appends a caller-entered income or expense.
func (b *Bank) AddTransaction(ctx context.Context, in TransactionInput) (core.Transaction, error) {
	if err := in.Kind.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if in.Category == "" {
		in.Category = core.CategoryOther
		if in.Kind == core.Income {
			in.Category = core.CategoryPocketMoney
		}
	}
	if !in.Category.IsUserSelectable() {
		return core.Transaction{}, fmt.Errorf("%w: %s", core.ErrInvalidCategory, in.Category)
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" && in.Kind == core.Income {
		in.Title = DefaultIncomeTitle
	}

	var guard *string
	if in.Kind == core.Income {
		guard = &in.Secret
	}

	var tx core.Transaction
	err := b.mutate(ctx, log.OpAddTransaction, guard, func(s *session) error {
		tx = core.Transaction{
			ID:         b.newID(),
			Title:      in.Title,
			Amount:     in.Amount,
			Kind:       in.Kind,
			Category:   in.Category,
			OccurredAt: s.now,
		}
		if err := s.ledger.Append(tx); err != nil {
			return err
		}
		s.emit(core.Event{Type: core.EventTransactionAdded, TransactionID: tx.ID, Amount: tx.Signed()})
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}
	b.logger.InfoContext(ctx, "Transaction added",
		log.FieldTxID, tx.ID,
		log.FieldKind, tx.Kind,
		log.FieldCategory, tx.Category,
		log.FieldAmount, tx.Amount.String())
	return tx, nil
}

// CreateDeposit locks amount for termMonths at the current rate.
func (b *Bank) CreateDeposit(ctx context.Context, amount core.Money, termMonths int) (core.Deposit, error) {
	var d core.Deposit
	err := b.mutate(ctx, log.OpCreateDeposit, nil, func(s *session) error {
		var err error
		d, err = s.engine.Create(amount, termMonths, s.now)
		if err != nil {
			return err
		}
		s.emit(core.Event{Type: core.EventDepositCreated, DepositID: d.ID, Amount: d.Principal})
		return nil
	})
	if err != nil {
		return core.Deposit{}, err
	}
	b.logger.InfoContext(ctx, "Deposit created",
		log.FieldDepositID, d.ID,
		log.FieldAmount, d.Principal.String(),
		log.FieldTermMonths, d.TermMonths,
		log.FieldRate, d.AnnualRatePercent.String(),
		log.FieldMaturityAt, d.MaturityAt.Format(time.RFC3339))
	return d, nil
}

// WithdrawDeposit closes an active deposit early and returns its principal.
// A deposit whose term has ended is credited by the maturity pass first, so
// it reports ErrNotActive here.
func (b *Bank) WithdrawDeposit(ctx context.Context, id, secret string) (core.Deposit, error) {
	var d core.Deposit
	err := b.mutate(ctx, log.OpWithdraw, &secret, func(s *session) error {
		var err error
		d, err = s.engine.WithdrawEarly(id, s.now)
		if err != nil {
			return err
		}
		s.emit(core.Event{Type: core.EventDepositWithdrawn, DepositID: d.ID, Amount: d.Principal})
		return nil
	})
	if err != nil {
		return core.Deposit{}, err
	}
	b.logger.InfoContext(ctx, "Deposit withdrawn early",
		log.FieldDepositID, d.ID,
		log.FieldAmount, d.Principal.String())
	return d, nil
}

// ClearTransactions empties the ledger. Deposits stay, but none of them is
// funded from the ledger any more.
func (b *Bank) ClearTransactions(ctx context.Context, secret string) error {
	var removed int
	err := b.mutate(ctx, log.OpClear, &secret, func(s *session) error {
		removed = s.ledger.Clear()
		s.engine.Release()
		s.emit(core.Event{Type: core.EventLedgerCleared})
		return nil
	})
	if err != nil {
		return err
	}
	b.logger.InfoContext(ctx, "Ledger cleared", "removed", removed)
	return nil
}

// UpdateTermInterestRates merges table into the configured rates. Every rate
// must lie in [0, 20]. Existing deposits keep the rate they were created with.
func (b *Bank) UpdateTermInterestRates(ctx context.Context, table core.RateTable, secret string) error {
	err := b.mutate(ctx, log.OpUpdateRates, &secret, func(s *session) error {
		if err := s.profile.UpdateRates(table, secret); err != nil {
			return err
		}
		s.emit(core.Event{Type: core.EventRatesUpdated})
		return nil
	})
	if err != nil {
		return err
	}
	b.logger.InfoContext(ctx, "Interest rates updated", "terms", len(table))
	return nil
}

func (b *Bank) UpdateProfile(ctx context.Context, parentName, childName, secret string) error {
	return b.mutate(ctx, log.OpUpdateProfile, &secret, func(s *session) error {
		return s.profile.UpdateNames(parentName, childName, secret)
	})
}

func (b *Bank) ChangeSecret(ctx context.Context, current, next string) error {
	err := b.mutate(ctx, log.OpChangeSecret, &current, func(s *session) error {
		return s.profile.ChangeSecret(current, next)
	})
	if err == nil {
		b.logger.InfoContext(ctx, "Guardian secret changed")
	}
	return err
}

// Reconcile picks up changes from other writers, runs one maturity pass and
// returns the deposits it settled.
func (b *Bank) Reconcile(ctx context.Context) ([]core.Deposit, error) {
	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}
	var matured []core.Deposit
	err := b.read(ctx, func(s *session) error {
		matured = s.matured
		return nil
	})
	return matured, err
}

func (b *Bank) AvailableBalance(ctx context.Context) (core.Money, error) {
	var m core.Money
	err := b.read(ctx, func(s *session) error {
		var err error
		m, err = s.projector(nil).AvailableBalance()
		return err
	})
	return m, err
}

func (b *Bank) TotalSavings(ctx context.Context) (core.Money, error) {
	var m core.Money
	err := b.read(ctx, func(s *session) error {
		var err error
		m, err = s.projector(nil).TotalSavings()
		return err
	})
	return m, err
}

// Summary returns both balance figures and deposit counts, plus the ids the
// maturity pass of this very call credited.
func (b *Bank) Summary(ctx context.Context) (core.Summary, error) {
	var sum core.Summary
	err := b.read(ctx, func(s *session) error {
		available, savings, err := s.projector(nil).Figures()
		if err != nil {
			return err
		}
		sum = core.Summary{
			AvailableBalance: available,
			TotalSavings:     savings,
			ActiveDeposits:   s.engine.Count(core.DepositActive),
			MaturedDeposits:  s.engine.Count(core.DepositMatured),
		}
		for _, d := range s.matured {
			sum.JustMatured = append(sum.JustMatured, d.ID)
		}
		return nil
	})
	return sum, err
}

// Transactions returns the ledger newest first.
func (b *Bank) Transactions(ctx context.Context) ([]core.Transaction, error) {
	var txs []core.Transaction
	err := b.read(ctx, func(s *session) error {
		txs = s.ledger.Recent()
		return nil
	})
	return txs, err
}

// Deposits returns active deposits by maturity, then matured, then withdrawn.
func (b *Bank) Deposits(ctx context.Context) ([]core.Deposit, error) {
	var deps []core.Deposit
	err := b.read(ctx, func(s *session) error {
		deps = s.engine.Sorted()
		return nil
	})
	return deps, err
}

func (b *Bank) Deposit(ctx context.Context, id string) (core.Deposit, error) {
	var d core.Deposit
	err := b.read(ctx, func(s *session) error {
		var err error
		d, err = s.engine.Get(id)
		return err
	})
	return d, err
}

// QuoteDeposit previews a deposit without creating it.
func (b *Bank) QuoteDeposit(ctx context.Context, amount core.Money, termMonths int) (core.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.begin()
	return s.engine.Quote(amount, termMonths, s.now)
}

func (b *Bank) InterestRateForTerm(ctx context.Context, termMonths int) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return profile.New(b.state.Profile, b.auth).Rate(termMonths)
}

func (b *Bank) Rates(ctx context.Context) core.RateTable {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Profile.Rates.Clone()
}

// Profile returns the profile with the secret removed.
func (b *Bank) Profile(ctx context.Context) core.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return profile.New(b.state.Profile, b.auth).Redacted()
}

// Authorize reports whether secret opens the guardian gate.
func (b *Bank) Authorize(ctx context.Context, secret string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.guard(ctx, "authorize", secret) == nil
}

// Version is the version of the committed snapshot.
func (b *Bank) Version() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Version
}

func (b *Bank) Close() error {
	if err := b.store.Close(); err != nil {
		return fmt.Errorf("close snapshot store: %w", err)
	}
	return nil
}

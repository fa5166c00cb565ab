package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"piggybank/internal/core"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// SQLiteRepository stores the snapshot across a handful of tables and
// rewrites all of them in one transaction on Save.
type SQLiteRepository struct {
	db *sql.DB
}

var _ SnapshotStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if _, err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Load(ctx context.Context) (core.Snapshot, error) {
	snap := core.NewSnapshot()

	var savedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT version, saved_at, parent_name, child_name, secret FROM snapshot_meta WHERE id = 1`).
		Scan(&snap.Version, &savedAt, &snap.Profile.ParentName, &snap.Profile.ChildName, &snap.Profile.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("load snapshot meta: %w", err)
	}
	if snap.SavedAt, err = parseTime(savedAt); err != nil {
		return core.Snapshot{}, fmt.Errorf("parse saved_at: %w", err)
	}

	if snap.Profile.Rates, err = r.loadRates(ctx); err != nil {
		return core.Snapshot{}, err
	}
	if snap.Transactions, err = r.loadTransactions(ctx); err != nil {
		return core.Snapshot{}, err
	}
	if snap.Deposits, err = r.loadDeposits(ctx); err != nil {
		return core.Snapshot{}, err
	}

	snap.Normalize()
	return snap, nil
}

func (r *SQLiteRepository) loadRates(ctx context.Context) (core.RateTable, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT term_months, rate_percent FROM term_rates`)
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	defer rows.Close()

	rates := core.RateTable{}
	for rows.Next() {
		var term int
		var raw string
		if err := rows.Scan(&term, &raw); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse rate for term %d: %w", term, err)
		}
		rates[term] = rate
	}
	return rates, rows.Err()
}

func (r *SQLiteRepository) loadTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, amount_cents, kind, category, occurred_at, deposit_id
		FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()

	txs := []core.Transaction{}
	for rows.Next() {
		var tx core.Transaction
		var occurredAt string
		if err := rows.Scan(&tx.ID, &tx.Title, &tx.Amount.Cents, &tx.Kind, &tx.Category, &occurredAt, &tx.DepositID); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if tx.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at of %s: %w", tx.ID, err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (r *SQLiteRepository) loadDeposits(ctx context.Context) ([]core.Deposit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal_cents, term_months, rate_percent, created_at, maturity_at,
		       total_return_cents, status, settled_at, debited
		FROM deposits ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load deposits: %w", err)
	}
	defer rows.Close()

	deps := []core.Deposit{}
	for rows.Next() {
		var d core.Deposit
		var rate, createdAt, maturityAt, settledAt string
		err := rows.Scan(&d.ID, &d.Principal.Cents, &d.TermMonths, &rate, &createdAt, &maturityAt,
			&d.TotalReturn.Cents, &d.Status, &settledAt, &d.Debited)
		if err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		if d.AnnualRatePercent, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("parse rate of %s: %w", d.ID, err)
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", d.ID, err)
		}
		if d.MaturityAt, err = parseTime(maturityAt); err != nil {
			return nil, fmt.Errorf("parse maturity_at of %s: %w", d.ID, err)
		}
		if d.SettledAt, err = parseTime(settledAt); err != nil {
			return nil, fmt.Errorf("parse settled_at of %s: %w", d.ID, err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// Save rewrites every table inside a single transaction. The meta row is
// written first so the transaction holds the write lock before anything
// else is touched.
func (r *SQLiteRepository) Save(ctx context.Context, s core.Snapshot) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.writeMeta(ctx, tx, s); err != nil {
		return err
	}

	for _, table := range []string{"transactions", "deposits", "term_rates"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for term, rate := range s.Profile.Rates {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO term_rates (term_months, rate_percent) VALUES (?, ?)`, term, rate.String()); err != nil {
			return fmt.Errorf("write rate for term %d: %w", term, err)
		}
	}

	for _, t := range s.Transactions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (id, title, amount_cents, kind, category, occurred_at, deposit_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Amount.Cents, string(t.Kind), string(t.Category), formatTime(t.OccurredAt), t.DepositID)
		if err != nil {
			return fmt.Errorf("write transaction %s: %w", t.ID, err)
		}
	}

	for _, d := range s.Deposits {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deposits (id, principal_cents, term_months, rate_percent, created_at, maturity_at,
			                      total_return_cents, status, settled_at, debited)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Principal.Cents, d.TermMonths, d.AnnualRatePercent.String(),
			formatTime(d.CreatedAt), formatTime(d.MaturityAt), d.TotalReturn.Cents,
			string(d.Status), formatTime(d.SettledAt), d.Debited)
		if err != nil {
			return fmt.Errorf("write deposit %s: %w", d.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// writeMeta advances the meta row from s.Version-1 to s.Version, inserting
// it on first save.
func (r *SQLiteRepository) writeMeta(ctx context.Context, tx *sql.Tx, s core.Snapshot) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE snapshot_meta
		SET version = ?, saved_at = ?, parent_name = ?, child_name = ?, secret = ?
		WHERE id = 1 AND version = ?`,
		s.Version, formatTime(s.SavedAt), s.Profile.ParentName, s.Profile.ChildName, s.Profile.Secret, s.Version-1)
	if err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}
	if n == 1 {
		return nil
	}

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM snapshot_meta WHERE id = 1`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := core.CheckVersion(0, s.Version); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("read snapshot version: %w", err)
	default:
		return core.CheckVersion(stored, s.Version)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (id, version, saved_at, parent_name, child_name, secret)
		VALUES (1, ?, ?, ?, ?, ?)`,
		s.Version, formatTime(s.SavedAt), s.Profile.ParentName, s.Profile.ChildName, s.Profile.Secret)
	if err != nil {
		return fmt.Errorf("insert snapshot meta: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

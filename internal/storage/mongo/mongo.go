// Package mongo keeps the snapshot as a single MongoDB document.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"piggybank/internal/core"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// snapshotID is the _id of the only document the store writes.
const snapshotID = "piggybank"

type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// New connects to uri and pings the server before returning.
func New(ctx context.Context, uri, dbName, collName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return &Store{
		client:     client,
		collection: client.Database(dbName).Collection(collName),
	}, nil
}

func (s *Store) Load(ctx context.Context) (core.Snapshot, error) {
	var doc snapshotDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": snapshotID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.NewSnapshot(), nil
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("find snapshot: %w", err)
	}
	snap, err := doc.toSnapshot()
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Save inserts the document on first save and afterwards replaces it only
// while it still holds the previous version.
func (s *Store) Save(ctx context.Context, snap core.Snapshot) error {
	doc := fromSnapshot(snap)
	if snap.Version == 1 {
		_, err := s.collection.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: snapshot already exists", core.ErrVersionConflict)
		}
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	}

	filter := bson.M{"_id": snapshotID, "version": snap.Version - 1}
	res, err := s.collection.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: no snapshot at version %d", core.ErrVersionConflict, snap.Version-1)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Document shapes. Amounts are stored in cents and rates as decimal strings
// so nothing passes through float64.
type (
	snapshotDoc struct {
		ID           string            `bson:"_id"`
		Version      int64             `bson:"version"`
		SavedAt      time.Time         `bson:"saved_at"`
		ParentName   string            `bson:"parent_name"`
		ChildName    string            `bson:"child_name"`
		Secret       string            `bson:"secret"`
		Rates        map[string]string `bson:"rates"`
		Transactions []transactionDoc  `bson:"transactions"`
		Deposits     []depositDoc      `bson:"deposits"`
	}

	transactionDoc struct {
		ID          string    `bson:"id"`
		Title       string    `bson:"title"`
		AmountCents int64     `bson:"amount_cents"`
		Kind        string    `bson:"kind"`
		Category    string    `bson:"category"`
		OccurredAt  time.Time `bson:"occurred_at"`
		DepositID   string    `bson:"deposit_id,omitempty"`
	}

	depositDoc struct {
		ID               string    `bson:"id"`
		PrincipalCents   int64     `bson:"principal_cents"`
		TermMonths       int       `bson:"term_months"`
		RatePercent      string    `bson:"rate_percent"`
		CreatedAt        time.Time `bson:"created_at"`
		MaturityAt       time.Time `bson:"maturity_at"`
		TotalReturnCents int64     `bson:"total_return_cents"`
		Status           string    `bson:"status"`
		SettledAt        time.Time `bson:"settled_at,omitempty"`
		Debited          bool      `bson:"debited"`
	}
)

func fromSnapshot(s core.Snapshot) snapshotDoc {
	doc := snapshotDoc{
		ID:           snapshotID,
		Version:      s.Version,
		SavedAt:      s.SavedAt,
		ParentName:   s.Profile.ParentName,
		ChildName:    s.Profile.ChildName,
		Secret:       s.Profile.Secret,
		Rates:        make(map[string]string, len(s.Profile.Rates)),
		Transactions: make([]transactionDoc, 0, len(s.Transactions)),
		Deposits:     make([]depositDoc, 0, len(s.Deposits)),
	}
	for term, r := range s.Profile.Rates {
		doc.Rates[strconv.Itoa(term)] = r.String()
	}
	for _, t := range s.Transactions {
		doc.Transactions = append(doc.Transactions, transactionDoc{
			ID:          t.ID,
			Title:       t.Title,
			AmountCents: t.Amount.Cents,
			Kind:        string(t.Kind),
			Category:    string(t.Category),
			OccurredAt:  t.OccurredAt,
			DepositID:   t.DepositID,
		})
	}
	for _, d := range s.Deposits {
		doc.Deposits = append(doc.Deposits, depositDoc{
			ID:               d.ID,
			PrincipalCents:   d.Principal.Cents,
			TermMonths:       d.TermMonths,
			RatePercent:      d.AnnualRatePercent.String(),
			CreatedAt:        d.CreatedAt,
			MaturityAt:       d.MaturityAt,
			TotalReturnCents: d.TotalReturn.Cents,
			Status:           string(d.Status),
			SettledAt:        d.SettledAt,
			Debited:          d.Debited,
		})
	}
	return doc
}

func (doc snapshotDoc) toSnapshot() (core.Snapshot, error) {
	s := core.Snapshot{
		Version: doc.Version,
		SavedAt: doc.SavedAt,
		Profile: core.Profile{
			ParentName: doc.ParentName,
			ChildName:  doc.ChildName,
			Secret:     doc.Secret,
			Rates:      core.RateTable{},
		},
		Transactions: make([]core.Transaction, 0, len(doc.Transactions)),
		Deposits:     make([]core.Deposit, 0, len(doc.Deposits)),
	}
	for k, v := range doc.Rates {
		term, err := strconv.Atoi(k)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("rate term %q: %w", k, err)
		}
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("rate for term %d: %w", term, err)
		}
		s.Profile.Rates[term] = rate
	}
	for _, t := range doc.Transactions {
		s.Transactions = append(s.Transactions, core.Transaction{
			ID:         t.ID,
			Title:      t.Title,
			Amount:     core.Cents(t.AmountCents),
			Kind:       core.TransactionKind(t.Kind),
			Category:   core.Category(t.Category),
			OccurredAt: t.OccurredAt.UTC(),
			DepositID:  t.DepositID,
		})
	}
	for _, d := range doc.Deposits {
		rate, err := decimal.NewFromString(d.RatePercent)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("rate of deposit %s: %w", d.ID, err)
		}
		settled := d.SettledAt
		if !settled.IsZero() {
			settled = settled.UTC()
		}
		s.Deposits = append(s.Deposits, core.Deposit{
			ID:                d.ID,
			Principal:         core.Cents(d.PrincipalCents),
			TermMonths:        d.TermMonths,
			AnnualRatePercent: rate,
			CreatedAt:         d.CreatedAt.UTC(),
			MaturityAt:        d.MaturityAt.UTC(),
			TotalReturn:       core.Cents(d.TotalReturnCents),
			Status:            core.DepositStatus(d.Status),
			SettledAt:         settled,
			Debited:           d.Debited,
		})
	}
	s.Normalize()
	return s, nil
}

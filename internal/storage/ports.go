// Package storage defines the snapshot persistence port and its SQLite
// implementation. Other backends live in subpackages.
package storage

import (
	"context"

	"piggybank/internal/core"
)

// SnapshotStore persists the whole bank state as one unit.
//
// Load returns core.NewSnapshot() when nothing has been saved yet. Save
// replaces the stored snapshot atomically: after an error the previously
// saved snapshot is still the one Load returns.
//
// Save is conditional: s.Version must be exactly one above the stored
// version (zero when nothing is stored), otherwise it returns an error
// wrapping core.ErrVersionConflict and writes nothing.
type SnapshotStore interface {
	Load(ctx context.Context) (core.Snapshot, error)
	Save(ctx context.Context, s core.Snapshot) error
	Close() error
}

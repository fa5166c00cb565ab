// Package memory is a process-local SnapshotStore for tests and demos.
package memory

import (
	"context"
	"sync"

	"piggybank/internal/core"
)

type Store struct {
	mu    sync.Mutex
	snap  core.Snapshot
	saves int
}

func New() *Store {
	return &Store{snap: core.NewSnapshot()}
}

func (s *Store) Load(ctx context.Context) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone(), nil
}

func (s *Store) Save(ctx context.Context, snap core.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := core.CheckVersion(s.snap.Version, snap.Version); err != nil {
		return err
	}
	s.snap = snap.Clone()
	s.saves++
	return nil
}

// Saves reports how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *Store) Close() error { return nil }

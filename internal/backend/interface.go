package backend

import (
	"context"

	"piggybank/internal/storage"
)

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// BackendResult contains the snapshot store and its cleanup function.
type BackendResult struct {
	Store   storage.SnapshotStore
	Cleanup CleanupFunc
}

// Factory creates snapshot stores based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// File specific
	SnapshotFilePath string

	// MongoDB specific
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	FileBackend   BackendType = "file"
	SQLiteBackend BackendType = "sqlite"
	MongoBackend  BackendType = "mongo"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, FileBackend, SQLiteBackend, MongoBackend:
		return true
	default:
		return false
	}
}

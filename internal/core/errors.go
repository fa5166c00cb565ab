package core

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the parent of every validation failure; test with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrInvalidAmount   = fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	ErrInvalidTerm     = fmt.Errorf("%w: unsupported deposit term", ErrInvalidInput)
	ErrInvalidRate     = fmt.Errorf("%w: interest rate must be between 0 and 20 percent", ErrInvalidInput)
	ErrInvalidKind     = fmt.Errorf("%w: unknown transaction kind", ErrInvalidInput)
	ErrInvalidCategory = fmt.Errorf("%w: unknown category", ErrInvalidInput)
	ErrEmptyTitle      = fmt.Errorf("%w: empty title", ErrInvalidInput)
	ErrInvalidSecret   = fmt.Errorf("%w: secret must be at least 4 characters", ErrInvalidInput)
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotActive         = errors.New("deposit is not active")
	ErrAlreadyMatured    = errors.New("deposit has already matured")
	ErrNotFound          = errors.New("not found")
)

// ErrVersionConflict means another writer saved a newer snapshot since this
// one was loaded. Reload and retry.
var ErrVersionConflict = errors.New("snapshot version conflict")

// PersistenceError reports that a snapshot could not be written. The
// mutation that produced the snapshot was not committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist snapshot after %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// CheckVersion reports ErrVersionConflict unless next directly follows stored.
func CheckVersion(stored, next int64) error {
	if next != stored+1 {
		return fmt.Errorf("%w: stored version %d, saving %d", ErrVersionConflict, stored, next)
	}
	return nil
}

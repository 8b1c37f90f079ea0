package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested run does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a write would overwrite stored data.
	// Bars, runs and run artifacts are write-once.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned for empty keys or batches.
	ErrInvalidInput = errors.New("invalid input")
)

// KeyError names the record a storage error refers to.
// It unwraps to one of the sentinel errors above.
type KeyError struct {
	Entity string // bar, run, trade, snapshot, violation
	Key    string
	Err    error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// Duplicate reports that entity key is already stored.
func Duplicate(entity, key string) error {
	return &KeyError{Entity: entity, Key: key, Err: ErrDuplicateKey}
}

// NotFound reports that entity key does not exist.
func NotFound(entity, key string) error {
	return &KeyError{Entity: entity, Key: key, Err: ErrNotFound}
}

// BarKey formats the (symbol, timestamp) key of a bar.
func BarKey(symbol string, ts int64) string {
	return fmt.Sprintf("%s@%d", symbol, ts)
}

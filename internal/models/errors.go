package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected data-quality conditions. Callers routinely
// probe "can I build a centroid yet?", so these are returned, not panicked.
var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrResourceExceeded    = errors.New("input exceeds resource budget")
	ErrDuplicateSuggestion = errors.New("pending suggestion already exists")
	ErrBuildInProgress     = errors.New("centroid build already in progress")
	ErrVersionConflict     = errors.New("record modified concurrently")
	ErrNotFound            = errors.New("not found")
)

// StoreName identifies which side of a dual write failed.
type StoreName string

const (
	StoreRecord StoreName = "record"
	StoreIndex  StoreName = "index"
)

// StoreWriteError reports a failed write to one of the two stores. The
// relational record is authoritative; an index-side failure after a
// successful record write is recoverable through reconciliation.
type StoreWriteError struct {
	Store StoreName
	Op    string
	Err   error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("%s store write failed during %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// StaleReferenceError reports an operation against a centroid or prototype
// whose source face set or version parameters have changed since it was
// computed.
type StaleReferenceError struct {
	Kind   string
	Reason string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stale %s reference: %s", e.Kind, e.Reason)
}

// InconsistentStateError reports divergence between the record store and the
// vector index detected during reconciliation.
type InconsistentStateError struct {
	Detail string
}

func (e *InconsistentStateError) Error() string {
	return "inconsistent state: " + e.Detail
}

// Outcome is the explicit completion status every engine operation reports,
// so callers never infer success from the absence of an error.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeReconcilePending Outcome = "reconcile_pending"
	OutcomeFailed           Outcome = "failed"
)

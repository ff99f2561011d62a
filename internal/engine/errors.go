package engine

import (
	"errors"
	"fmt"

	"github.com/BuildWithDuke/bugsbugger/internal/recurrence"
)

// ConfigurationError reports a reference to an unknown escalation profile.
// The engine recovers by using the catalog default.
type ConfigurationError struct {
	Profile  string
	Fallback string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown escalation profile %q (using %q)", e.Profile, e.Fallback)
}

// TransportError wraps a failed delivery. The obligation is retried on the
// next cycle.
type TransportError struct {
	ObligationID int64
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("deliver obligation %d: %v", e.ObligationID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError wraps a failed read or write. It aborts the current item only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// RecurrenceError is re-exported so callers can match on one package.
type RecurrenceError = recurrence.Error

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

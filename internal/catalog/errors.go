package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a local edit rejected before any remote call.
	ErrValidation = errors.New("validation failed")

	// ErrConsistency marks an object that claims to exist remotely but does not.
	// Callers must resync; it is never retried or papered over.
	ErrConsistency = errors.New("catalog out of sync")

	// ErrLocalStoreDivergence marks a local write failure after the remote
	// accepted the change. Local and remote state now differ.
	ErrLocalStoreDivergence = errors.New("local store diverged from remote")

	ErrNotFound = errors.New("catalog object not found")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type ConsistencyError struct {
	ObjectID string
	Reason   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s %s: %s; run a full sync before editing", ErrConsistency.Error(), e.ObjectID, e.Reason)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

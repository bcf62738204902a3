package ledger

import (
	"errors"
	"fmt"

	"github.com/mmynk/tally/internal/models"
)

var (
	// ErrNotFound is wrapped by every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is wrapped by the ValidationError returned for an
	// illegal subscription lifecycle change.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("ledger: store is closed")
)

// NotFoundError reports a command or query that references an unknown ID.
type NotFoundError struct {
	Kind models.Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind models.Kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// missingRef is the ValidationError for an entity pointing at an unknown ID.
// It unwraps to the NotFoundError.
func missingRef(field string, kind models.Kind, id string) error {
	return &models.ValidationError{
		Field:   field,
		Message: fmt.Sprintf("references unknown %s %s", kind, id),
		Err:     notFound(kind, id),
	}
}

func invalidTransition(from, to models.LifecycleState) error {
	return &models.ValidationError{
		Field:   "state",
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
		Err:     ErrInvalidTransition,
	}
}

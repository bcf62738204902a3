package models

import "fmt"

// Kind identifies an entity type.
type Kind string

const (
	KindPerson             Kind = "person"
	KindGroup              Kind = "group"
	KindGroupExpense       Kind = "groupExpense"
	KindSubscription       Kind = "subscription"
	KindSharedSubscription Kind = "sharedSubscription"
	KindTransaction        Kind = "transaction"
	KindPriceChange        Kind = "priceChange"
)

// AllKinds lists every entity kind in dependency order (referenced kinds first).
func AllKinds() []Kind {
	return []Kind{
		KindPerson,
		KindGroup,
		KindGroupExpense,
		KindSubscription,
		KindSharedSubscription,
		KindTransaction,
		KindPriceChange,
	}
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Entity is implemented by every stored model.
type Entity interface {
	EntityKind() Kind
	EntityID() string
}

// ValidationError reports a malformed entity or an illegal command.
// The store is left unchanged when one is returned.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

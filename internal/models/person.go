package models

import (
	"strings"
	"time"
)

// Person is someone the user shares money with.
type Person struct {
	// ID is the unique identifier for the person (UUID format).
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Balance is derived by the ledger: positive means this person is owed money,
	// negative means they owe. Values supplied on create/update are ignored.
	Balance Money `json:"balance"`

	CreatedAt time.Time `json:"created_at"`
}

func (p Person) EntityKind() Kind { return KindPerson }
func (p Person) EntityID() string { return p.ID }

// Validate checks the person's own fields.
func (p Person) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return Invalid("name", "must not be empty")
	}
	return nil
}

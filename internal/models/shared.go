package models

// SharedSubscription splits a subscription's price between people.
// The owner pays the provider and receives every other member's cost.
type SharedSubscription struct {
	ID             string      `json:"id"`
	SubscriptionID string      `json:"subscription_id"`
	OwnerID        string      `json:"owner_id"`
	Policy         SplitPolicy `json:"policy"`

	// Members includes the owner. Invariant: member amounts sum to the
	// subscription price; leftover cents are assigned to the owner.
	Members []Share `json:"members"`
}

func (s SharedSubscription) EntityKind() Kind { return KindSharedSubscription }
func (s SharedSubscription) EntityID() string { return s.ID }

// MemberIDs returns the member person IDs in order.
func (s SharedSubscription) MemberIDs() []string {
	ids := make([]string, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.PersonID
	}
	return ids
}

// Validate checks fields that do not depend on other entities.
func (s SharedSubscription) Validate() error {
	if s.SubscriptionID == "" {
		return Invalid("subscription_id", "must not be empty")
	}
	if s.OwnerID == "" {
		return Invalid("owner_id", "must not be empty")
	}
	if !s.Policy.Valid() {
		return Invalid("policy", "unknown split policy %q", s.Policy)
	}
	if len(s.Members) == 0 {
		return Invalid("members", "must have at least one member")
	}
	owner := false
	seen := make(map[string]bool, len(s.Members))
	for _, m := range s.Members {
		if m.PersonID == "" {
			return Invalid("members", "person id must not be empty")
		}
		if seen[m.PersonID] {
			return Invalid("members", "duplicate member %s", m.PersonID)
		}
		seen[m.PersonID] = true
		if m.PersonID == s.OwnerID {
			owner = true
		}
	}
	if !owner {
		return Invalid("owner_id", "owner %s must be a member", s.OwnerID)
	}
	return nil
}

// Clone returns a deep copy.
func (s SharedSubscription) Clone() SharedSubscription {
	s.Members = append([]Share(nil), s.Members...)
	return s
}

// Package morsel implements the producer's unit of resumable progress and
// the ordered, identity-deduplicated queue that holds them.
package morsel

import "dupmill/internal/policy"

// Identity is the tuple that determines whether two Morsels refer to the
// same unit of work: (account, spaceId, storePolicy). A morsel may not
// appear twice in a Queue under the same Identity.
type Identity struct {
	Account string
	SpaceID string
	Policy  policy.StorePolicy
}

// Morsel is the producer's unit of resumable progress: how far into one
// (account, space, storePolicy) content listing the producer has gotten.
// A nil Marker means "space scan has not yet begun and the deletion
// sweep has not yet run".
type Morsel struct {
	Account string             `json:"account"`
	SpaceID string             `json:"spaceId"`
	Marker  *string            `json:"marker"`
	Policy  policy.StorePolicy `json:"storePolicy"`
}

// New creates a fresh, unstarted morsel (Marker == nil).
func New(account, spaceID string, p policy.StorePolicy) Morsel {
	return Morsel{Account: account, SpaceID: spaceID, Policy: p}
}

// Identity returns m's dedup key.
func (m Morsel) Identity() Identity {
	return Identity{Account: m.Account, SpaceID: m.SpaceID, Policy: m.Policy}
}

// AtStart reports whether m has not yet begun its content listing pass
// (and therefore its deletion sweep has not yet run either).
func (m Morsel) AtStart() bool {
	return m.Marker == nil
}

// WithMarker returns a copy of m with Marker advanced to id.
func (m Morsel) WithMarker(id string) Morsel {
	m.Marker = &id
	return m
}

// Reset returns a copy of m with Marker cleared back to the start state.
func (m Morsel) Reset() Morsel {
	m.Marker = nil
	return m
}

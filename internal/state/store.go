// Package state persists a producer's in-flight morsel list so a
// restart resumes rather than rescans from scratch.
package state

import (
	"context"

	"dupmill/internal/morsel"
)

// Store holds exactly one durable blob per producer identity: the full
// set of in-flight morsels as of the last Save. Save fully replaces
// whatever blob existed before, all-or-nothing.
type Store interface {
	// Load returns the persisted morsels for producerID, or (nil, nil)
	// if nothing has been saved yet.
	Load(ctx context.Context, producerID string) ([]morsel.Morsel, error)

	// Save replaces producerID's persisted morsel set with morsels in a
	// single durable write.
	Save(ctx context.Context, producerID string, morsels []morsel.Morsel) error
}

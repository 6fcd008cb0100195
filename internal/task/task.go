// Package task defines the duplication task envelope that flows through
// the TaskQueue between the producer and the workers.
package task

import "encoding/json"

// Kind identifies the type of work a Task represents. The core only ever
// produces DUPLICATE tasks; the field is carried so the queue payload is
// self-describing and future task kinds don't require a schema change.
type Kind string

// KindDuplicate is the only Kind this core emits.
const KindDuplicate Kind = "DUPLICATE"

// Task is the queue envelope for one unit of duplication work: bring
// (SpaceID, ContentID) on DstStoreID into agreement with SrcStoreID for
// Account. A ContentID of "" denotes a space-level operation.
//
// StoreID mirrors SrcStoreID: the original DuraCloud envelope carries both
// a legacy "storeId" field and a "sourceStoreId" field with the same
// value, and downstream consumers of the wire format may still expect
// "storeId" to be populated.
type Task struct {
	Kind       Kind   `json:"task-type"`
	Account    string `json:"account"`
	SpaceID    string `json:"spaceId"`
	ContentID  string `json:"contentId"`
	StoreID    string `json:"storeId"`
	SrcStoreID string `json:"sourceStoreId"`
	DstStoreID string `json:"destStoreId"`
	Attempts   int    `json:"attempts"`
}

// Identity is the tuple that determines Task equality for dedup purposes.
// Two tasks with equal identity are considered the same unit of work.
type Identity struct {
	Account    string
	SpaceID    string
	ContentID  string
	SrcStoreID string
	DstStoreID string
}

// Identity returns t's dedup key.
func (t Task) Identity() Identity {
	return Identity{
		Account:    t.Account,
		SpaceID:    t.SpaceID,
		ContentID:  t.ContentID,
		SrcStoreID: t.SrcStoreID,
		DstStoreID: t.DstStoreID,
	}
}

// New builds a DUPLICATE task for the given identity.
func New(account, spaceID, contentID, srcStoreID, dstStoreID string) Task {
	return Task{
		Kind:       KindDuplicate,
		Account:    account,
		SpaceID:    spaceID,
		ContentID:  contentID,
		StoreID:    srcStoreID,
		SrcStoreID: srcStoreID,
		DstStoreID: dstStoreID,
	}
}

// WriteEnvelope serializes t to the wire format stored on the queue.
func WriteEnvelope(t Task) ([]byte, error) {
	return json.Marshal(t)
}

// ReadEnvelope deserializes a queue payload back into a Task.
func ReadEnvelope(data []byte) (Task, error) {
	var t Task
	err := json.Unmarshal(data, &t)
	return t, err
}

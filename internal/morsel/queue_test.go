package morsel

import (
	"testing"

	"dupmill/internal/policy"
)

func pol(src, dst string) policy.StorePolicy {
	return policy.StorePolicy{SrcStoreID: src, DstStoreID: dst}
}

func TestQueueDedupOnPush(t *testing.T) {
	q := NewQueue()
	q.Push(New("acct", "space1", pol("s1", "d1")))
	q.Push(New("acct", "space1", pol("s1", "d1")))

	if q.Len() != 1 {
		t.Fatalf("expected dedup to keep queue length at 1, got %d", q.Len())
	}
}

func TestQueueFairnessInsertionOrder(t *testing.T) {
	q := NewQueue()
	q.Push(New("acctA", "space1", pol("s1", "d1")))
	q.Push(New("acctB", "space1", pol("s1", "d1")))
	q.Push(New("acctA", "space2", pol("s1", "d1")))

	first, ok := q.Poll()
	if !ok || first.Account != "acctA" || first.SpaceID != "space1" {
		t.Fatalf("expected first poll to be acctA/space1, got %+v", first)
	}
	second, ok := q.Poll()
	if !ok || second.Account != "acctB" {
		t.Fatalf("expected second poll to be acctB, got %+v", second)
	}
}

func TestQueuePushPreferringOverwritesMarker(t *testing.T) {
	q := NewQueue()
	q.Push(New("acct", "space1", pol("s1", "d1")))

	advanced := New("acct", "space1", pol("s1", "d1")).WithMarker("item_05")
	q.PushPreferring(advanced)

	if q.Len() != 1 {
		t.Fatalf("expected single entry after preferring overwrite, got %d", q.Len())
	}
	m, ok := q.Poll()
	if !ok || m.Marker == nil || *m.Marker != "item_05" {
		t.Fatalf("expected persisted marker to win, got %+v", m)
	}
}

func TestQueuePollEmpty(t *testing.T) {
	q := NewQueue()
	if !q.IsEmpty() {
		t.Fatalf("expected new queue to be empty")
	}
	if _, ok := q.Poll(); ok {
		t.Fatalf("expected Poll on empty queue to return ok=false")
	}
}

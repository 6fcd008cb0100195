package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dupmill/internal/task"
)

func newTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := NewSQLiteQueue(path)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestPutBatchAndTake(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	tasks := []task.Task{
		task.New("acct", "space1", "obj1", "s1", "d1"),
		task.New("acct", "space1", "obj2", "s1", "d1"),
	}
	if err := q.PutBatch(ctx, tasks); err != nil {
		t.Fatalf("PutBatch failed: %v", err)
	}

	n, err := q.Size(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected size 2, got %d err %v", n, err)
	}

	deliveries, err := q.Take(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliveries))
	}
}

func TestTakeHidesUntilVisibilityElapses(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.PutBatch(ctx, []task.Task{task.New("acct", "space1", "obj1", "s1", "d1")}); err != nil {
		t.Fatalf("PutBatch failed: %v", err)
	}

	first, err := q.Take(ctx, 10, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected 1 delivery, got %d err %v", len(first), err)
	}

	second, err := q.Take(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected task to be hidden after take, got %d deliveries", len(second))
	}
}

func TestDeleteRemovesTaskPermanently(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.PutBatch(ctx, []task.Task{task.New("acct", "space1", "obj1", "s1", "d1")}); err != nil {
		t.Fatalf("PutBatch failed: %v", err)
	}

	deliveries, err := q.Take(ctx, 10, time.Minute)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("Take failed: %v", err)
	}

	if err := q.Delete(ctx, deliveries[0].Handle); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	n, err := q.Size(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected size 0 after delete, got %d err %v", n, err)
	}
}

func TestExtendVisibilityKeepsTaskHidden(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.PutBatch(ctx, []task.Task{task.New("acct", "space1", "obj1", "s1", "d1")}); err != nil {
		t.Fatalf("PutBatch failed: %v", err)
	}

	deliveries, err := q.Take(ctx, 10, 10*time.Millisecond)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("Take failed: %v", err)
	}

	if err := q.ExtendVisibility(ctx, deliveries[0].Handle, time.Minute); err != nil {
		t.Fatalf("ExtendVisibility failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	again, err := q.Take(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected extended task to remain hidden, got %d deliveries", len(again))
	}
}

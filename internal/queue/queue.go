// Package queue defines the durable task queue contract the producer
// writes to and workers read from.
package queue

import (
	"context"
	"time"

	"dupmill/internal/task"
)

// TaskQueue is a durable, at-least-once delivery queue with
// visibility-timeout semantics: Take hides returned tasks from further
// Take calls until the timeout elapses or Delete removes them, so a
// worker that dies mid-processing does not lose the task, only delays
// it.
type TaskQueue interface {
	// PutBatch enqueues tasks, each newly visible immediately.
	PutBatch(ctx context.Context, tasks []task.Task) error

	// Take returns up to max currently-visible tasks and hides them for
	// visibility. Each returned task carries a Handle to use with
	// ExtendVisibility/Delete. Returns fewer than max (possibly zero)
	// tasks if fewer are available; it does not block waiting for more.
	Take(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error)

	// ExtendVisibility pushes handle's hidden-until deadline out by
	// visibility from now. Used by long-running task processing to
	// avoid a task reappearing to another worker mid-flight.
	ExtendVisibility(ctx context.Context, handle string, visibility time.Duration) error

	// Delete permanently removes the task behind handle. Called after
	// successful processing.
	Delete(ctx context.Context, handle string) error

	// Size returns the number of tasks currently enqueued, visible or
	// not.
	Size(ctx context.Context) (int, error)
}

// Delivery is one task handed out by Take, paired with the opaque
// handle needed to extend or delete it.
type Delivery struct {
	Task   task.Task
	Handle string
}

package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"dupmill/internal/metrics"
	"dupmill/internal/processor"
	"dupmill/internal/producer"
	"dupmill/internal/queue"
	"dupmill/internal/retrier"
	"dupmill/internal/task"
)

// taskHandler dequeues one task from queue at a time and reconciles it
// through a processor.Processor built on demand for the task's store pair.
type taskHandler struct {
	queue     queue.TaskQueue
	providers producer.ProviderResolver
	retrier   retrier.Config
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// pollOnce takes at most one delivery from the queue and processes it. A
// task that reconciles successfully is deleted; a task that fails, fatally
// or transiently, is left in place for the queue's own redrive policy.
func (h *taskHandler) pollOnce(ctx context.Context, visibility time.Duration) {
	deliveries, err := h.queue.Take(ctx, 1, visibility)
	if err != nil {
		h.logger.Error("failed to take task from queue", zap.Error(err))
		return
	}
	if len(deliveries) == 0 {
		return
	}

	h.process(ctx, deliveries[0], visibility)
}

func (h *taskHandler) process(ctx context.Context, d queue.Delivery, visibility time.Duration) {
	t := d.Task
	fields := []zap.Field{
		zap.String("account", t.Account),
		zap.String("spaceId", t.SpaceID),
		zap.String("contentId", t.ContentID),
	}

	start := time.Now()

	proc, err := h.processorFor(t)
	if err != nil {
		h.logger.Error("failed to resolve storage providers for task", append(fields, zap.Error(err))...)
		return
	}

	stopHeartbeat := h.extendVisibilityWhileRunning(ctx, d.Handle, visibility)
	bytesCopied, err := proc.Process(ctx, t)
	stopHeartbeat()
	h.metrics.ObserveDuration(time.Since(start))

	if err == nil {
		if delErr := h.queue.Delete(ctx, d.Handle); delErr != nil {
			h.logger.Error("failed to delete completed task", append(fields, zap.Error(delErr))...)
			return
		}
		h.metrics.IncSuccess(bytesCopied)
		h.logger.Info("task completed", append(fields, zap.Duration("duration", time.Since(start)))...)
		return
	}

	h.metrics.IncFailed()

	var fatal *processor.FatalError
	if errors.As(err, &fatal) {
		h.logger.Error("task failed fatally, leaving for redrive", append(fields, zap.Error(err))...)
		return
	}
	h.logger.Warn("task attempt failed, leaving for redrive", append(fields, zap.Error(err))...)
}

// extendVisibilityWhileRunning renews handle's visibility deadline at
// half the visibility window until the returned stop function is
// called, so a copy that runs longer than one visibility window is not
// redelivered to a second worker mid-flight.
func (h *taskHandler) extendVisibilityWhileRunning(ctx context.Context, handle string, visibility time.Duration) func() {
	interval := visibility / 2
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := h.queue.ExtendVisibility(ctx, handle, visibility); err != nil {
					h.logger.Warn("failed to extend task visibility", zap.Error(err))
				}
			}
		}
	}()

	return func() { close(done) }
}

func (h *taskHandler) processorFor(t task.Task) (*processor.Processor, error) {
	src, err := h.providers.Provider(t.Account, t.SrcStoreID)
	if err != nil {
		return nil, err
	}
	dst, err := h.providers.Provider(t.Account, t.DstStoreID)
	if err != nil {
		return nil, err
	}

	return &processor.Processor{
		Source:        src,
		Dest:          dst,
		RetrierConfig: h.retrier,
		Logger:        h.logger,
	}, nil
}

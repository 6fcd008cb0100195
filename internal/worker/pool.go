// Package worker drains the task queue with a fixed number of concurrent
// goroutines, each reconciling one task at a time through a
// processor.Processor built on demand for the task's store pair.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dupmill/internal/metrics"
	"dupmill/internal/producer"
	"dupmill/internal/queue"
	"dupmill/internal/retrier"
)

// Config configures a worker Pool.
type Config struct {
	Concurrency       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	Retrier           retrier.Config
}

// Pool manages a pool of workers draining a shared queue.TaskQueue.
type Pool struct {
	size      int
	config    Config
	queue     queue.TaskQueue
	providers producer.ProviderResolver
	metrics   *metrics.Collector
	logger    *zap.Logger

	inflight atomic.Int32
}

// NewPool creates a new worker pool.
func NewPool(size int, config Config, taskQueue queue.TaskQueue, providers producer.ProviderResolver, metricsCollector *metrics.Collector, logger *zap.Logger) *Pool {
	return &Pool{
		size:      size,
		config:    config,
		queue:     taskQueue,
		providers: providers,
		metrics:   metricsCollector,
		logger:    logger,
	}
}

// Start starts the worker pool. Callers wait on wg and cancel ctx to stop it.
func (p *Pool) Start(ctx context.Context, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Info("Worker started")

	handler := &taskHandler{
		queue:     p.queue,
		providers: p.providers,
		retrier:   p.config.Retrier,
		metrics:   p.metrics,
		logger:    logger,
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker stopped - context cancelled")
			return
		case <-ticker.C:
			p.metrics.SetInflightWorkers(int(p.inflight.Add(1)))
			handler.pollOnce(ctx, p.config.VisibilityTimeout)
			p.metrics.SetInflightWorkers(int(p.inflight.Add(-1)))
		}
	}
}

// Package producer implements the looping enumerator that walks every
// tenant's duplication policy and fills the task queue with work,
// picking up where a previous run left off.
package producer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dupmill/internal/metrics"
	"dupmill/internal/morsel"
	"dupmill/internal/policy"
	"dupmill/internal/queue"
	"dupmill/internal/state"
	"dupmill/internal/storage"
	"dupmill/internal/task"
)

// contentIDsPerNibble bounds how many content ids one nibble pulls from
// the source provider per morsel per pass.
const contentIDsPerNibble = 1000

// taskBatchSize is how many tasks accumulate before a PutBatch call.
const taskBatchSize = 10

// ProviderResolver resolves the storage.Provider backing one
// (account, storeId) pair. storage.Factory satisfies this.
type ProviderResolver interface {
	Provider(account, storeID string) (storage.Provider, error)
}

// Producer fills a TaskQueue by walking every account/space/store-policy
// combination in Policy, resuming from whatever morsels State has
// persisted from a prior run.
type Producer struct {
	ProducerID       string
	Policy           policy.Provider
	Filter           *policy.Filter
	Providers        ProviderResolver
	Queue            queue.TaskQueue
	State            state.Store
	MaxTaskQueueSize int
	Logger           *zap.Logger

	// ScratchDir is where the deletion sweep's scratch membership
	// database is created and removed for each space it processes.
	ScratchDir string

	// Metrics is optional; when set, Run reports queue depth and
	// in-memory morsel backlog to it on every iteration.
	Metrics *metrics.Collector
}

// Run performs one pass: it loads (or expands) the morsel queue, works
// through it nibble by nibble until either the queue is exhausted or
// the task queue has reached MaxTaskQueueSize, persists whatever
// remains, and returns. It checks ctx between iterations so a canceled
// context stops the run after the in-flight nibble finishes.
func (p *Producer) Run(ctx context.Context) error {
	p.Logger.Info("producer run starting", zap.String("producerId", p.ProducerID))

	morselQueue, err := p.loadMorselQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to load morsel queue: %w", err)
	}

	var morselsToReload []morsel.Morsel
	queuedTasks := make(map[task.Identity]struct{})

	for {
		if ctx.Err() != nil {
			p.Logger.Info("producer run canceled, persisting and stopping")
			break
		}

		size, err := p.Queue.Size(ctx)
		if err != nil {
			return fmt.Errorf("failed to check task queue size: %w", err)
		}
		if p.Metrics != nil {
			p.Metrics.SetQueueDepth(size)
			p.Metrics.SetMorselsPending(morselQueue.Len())
		}
		if size >= p.MaxTaskQueueSize {
			p.Logger.Info("task queue at or above max size, stopping run",
				zap.Int("size", size), zap.Int("max", p.MaxTaskQueueSize))
			break
		}

		if morselQueue.IsEmpty() {
			morselQueue = morsel.NewQueue()
			morselQueue.PushAll(morselsToReload)
			morselsToReload = nil
			if morselQueue.IsEmpty() {
				break
			}
		}

		m, _ := morselQueue.Poll()
		if err := p.nibble(ctx, &m, queuedTasks, &morselsToReload); err != nil {
			p.Logger.Error("nibble failed, will retry this morsel on the next reload",
				zap.String("account", m.Account), zap.String("spaceId", m.SpaceID), zap.Error(err))
			morselsToReload = append(morselsToReload, m)
		}

		if err := p.persistMorsels(ctx, morselQueue, morselsToReload); err != nil {
			return fmt.Errorf("failed to persist morsel state: %w", err)
		}
	}

	if err := p.persistMorsels(ctx, morselQueue, morselsToReload); err != nil {
		return fmt.Errorf("failed to persist final morsel state: %w", err)
	}

	p.Logger.Info("producer run finished")
	return nil
}

// loadMorselQueue expands the current policy snapshot into fresh
// morsels and merges in whatever the state store has persisted.
// Persisted morsels take precedence over freshly expanded ones sharing
// the same identity: they carry a marker representing real progress, so
// they are loaded with PushPreferring, which always wins the identity,
// regardless of what order the loop below later pushes fresh duplicates.
func (p *Producer) loadMorselQueue(ctx context.Context) (*morsel.Queue, error) {
	q := morsel.NewQueue()

	persisted, err := p.State.Load(ctx, p.ProducerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted morsels: %w", err)
	}
	for _, m := range persisted {
		q.PushPreferring(m)
	}

	accounts, err := p.Policy.Accounts()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	for _, account := range accounts {
		tp, err := p.Policy.Policy(account)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy for account %s: %w", account, err)
		}
		for spaceID, policies := range tp.Spaces {
			if !p.Filter.Allowed(account, spaceID) {
				continue
			}
			for _, sp := range policies {
				q.Push(morsel.New(account, spaceID, sp))
			}
		}
	}

	return q, nil
}

func (p *Producer) persistMorsels(ctx context.Context, q *morsel.Queue, reload []morsel.Morsel) error {
	all := append(q.All(), reload...)
	return p.State.Save(ctx, p.ProducerID, all)
}

// nibble processes one morsel: on the first pass over a space
// (Marker == nil) it runs the deletion sweep, then pulls up to
// contentIDsPerNibble content ids from the source and enqueues
// duplication tasks for them. If content remains after this pass, m is
// appended to morselsToReload for the next loop iteration.
func (p *Producer) nibble(ctx context.Context, m *morsel.Morsel, queuedTasks map[task.Identity]struct{}, morselsToReload *[]morsel.Morsel) error {
	src, err := p.Providers.Provider(m.Account, m.Policy.SrcStoreID)
	if err != nil {
		return fmt.Errorf("failed to resolve source provider: %w", err)
	}
	dst, err := p.Providers.Provider(m.Account, m.Policy.DstStoreID)
	if err != nil {
		return fmt.Errorf("failed to resolve destination provider: %w", err)
	}

	if m.AtStart() {
		if err := p.sweep(ctx, m.Account, m.SpaceID, m.Policy, src, dst, queuedTasks); err != nil {
			return fmt.Errorf("deletion sweep failed: %w", err)
		}
	}

	exhausted, err := p.addDuplicationTasksFromSource(ctx, m, src, queuedTasks)
	if err != nil {
		return err
	}

	if exhausted {
		p.Logger.Info("morsel exhausted for this run",
			zap.String("account", m.Account), zap.String("spaceId", m.SpaceID))
		return nil
	}

	*morselsToReload = append(*morselsToReload, *m)
	return nil
}

// addDuplicationTasksFromSource pulls the next chunk of content ids
// from src starting at m's marker, enqueues duplication tasks for them,
// and advances m's marker to the last id seen. It reports whether the
// morsel is exhausted for this run: either the source had nothing left
// to list, or the chunk it read produced zero *new* tasks (every id in
// it was already queued this run).
func (p *Producer) addDuplicationTasksFromSource(ctx context.Context, m *morsel.Morsel, src storage.Provider, queuedTasks map[task.Identity]struct{}) (exhausted bool, err error) {
	marker := ""
	if m.Marker != nil {
		marker = *m.Marker
	}

	contentIDs, err := src.ListSpaceChunk(ctx, m.SpaceID, marker, contentIDsPerNibble)
	if err != nil {
		return false, fmt.Errorf("failed to list source space %s: %w", m.SpaceID, err)
	}

	if len(contentIDs) == 0 {
		*m = m.Reset()
		return true, nil
	}

	added, err := p.addToTaskQueue(ctx, m.Account, m.SpaceID, m.Policy, contentIDs, queuedTasks)
	if err != nil {
		return false, err
	}
	if added == 0 {
		return true, nil
	}

	*m = m.WithMarker(contentIDs[len(contentIDs)-1])
	return false, nil
}

// addToTaskQueue enqueues one duplication task per contentId not
// already queued this run, in batches of taskBatchSize, and returns how
// many new tasks it added.
func (p *Producer) addToTaskQueue(ctx context.Context, account, spaceID string, sp policy.StorePolicy, contentIDs []string, queuedTasks map[task.Identity]struct{}) (int, error) {
	var batch []task.Task
	added := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.Queue.PutBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to enqueue task batch: %w", err)
		}
		batch = nil
		return nil
	}

	for _, contentID := range contentIDs {
		t := task.New(account, spaceID, contentID, sp.SrcStoreID, sp.DstStoreID)
		id := t.Identity()
		if _, exists := queuedTasks[id]; exists {
			continue
		}

		batch = append(batch, t)
		queuedTasks[id] = struct{}{}
		added++

		if len(batch) == taskBatchSize {
			if err := flush(); err != nil {
				return added, err
			}
		}
	}

	if err := flush(); err != nil {
		return added, err
	}

	return added, nil
}

package producer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"dupmill/internal/morsel"
	"dupmill/internal/policy"
	"dupmill/internal/queue"
	"dupmill/internal/storage"
	"dupmill/internal/task"
)

// fakeProvider is an in-memory storage.Provider for one store.
type fakeProvider struct {
	spaces map[string][]string // spaceID -> sorted content ids
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{spaces: make(map[string][]string)}
}

func (f *fakeProvider) SpaceExists(ctx context.Context, spaceID string) (bool, error) {
	_, ok := f.spaces[spaceID]
	return ok, nil
}

func (f *fakeProvider) CreateSpace(ctx context.Context, spaceID string) error {
	if _, ok := f.spaces[spaceID]; !ok {
		f.spaces[spaceID] = nil
	}
	return nil
}

func (f *fakeProvider) DeleteSpace(ctx context.Context, spaceID string) error {
	delete(f.spaces, spaceID)
	return nil
}

func (f *fakeProvider) ListSpace(ctx context.Context, spaceID, marker string) (<-chan storage.ContentID, <-chan error) {
	idCh := make(chan storage.ContentID)
	errCh := make(chan error, 1)
	go func() {
		defer close(idCh)
		defer close(errCh)
		for _, id := range f.spaces[spaceID] {
			if id <= marker {
				continue
			}
			idCh <- id
		}
	}()
	return idCh, errCh
}

func (f *fakeProvider) ListSpaceChunk(ctx context.Context, spaceID, marker string, limit int) ([]storage.ContentID, error) {
	var out []storage.ContentID
	for _, id := range f.spaces[spaceID] {
		if id <= marker {
			continue
		}
		out = append(out, id)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeProvider) GetContentProperties(ctx context.Context, spaceID, contentID string) (map[string]string, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeProvider) GetContent(ctx context.Context, spaceID, contentID string) (storage.Object, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeProvider) PutContent(ctx context.Context, spaceID, contentID, mimetype string, props map[string]string, length int64, expectedChecksum string, body storage.Object) (string, error) {
	return "", nil
}

func (f *fakeProvider) SetContentProperties(ctx context.Context, spaceID, contentID string, props map[string]string) error {
	return storage.ErrNotFound
}

func (f *fakeProvider) DeleteContent(ctx context.Context, spaceID, contentID string) error {
	ids := f.spaces[spaceID]
	for i, id := range ids {
		if id == contentID {
			f.spaces[spaceID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

// fakeResolver hands out fakeProviders by store id, standing in for
// storage.Factory in tests.
type fakeResolver struct {
	byStoreID map[string]*fakeProvider
}

func (r *fakeResolver) Provider(account, storeID string) (storage.Provider, error) {
	p, ok := r.byStoreID[storeID]
	if !ok {
		return nil, fmt.Errorf("no fake provider registered for store %s", storeID)
	}
	return p, nil
}

// fakeQueue is an in-memory queue.TaskQueue that never hides tasks.
type fakeQueue struct {
	tasks []task.Task
}

func (q *fakeQueue) PutBatch(ctx context.Context, tasks []task.Task) error {
	q.tasks = append(q.tasks, tasks...)
	return nil
}

func (q *fakeQueue) Take(ctx context.Context, max int, visibility time.Duration) ([]queue.Delivery, error) {
	return nil, nil
}

func (q *fakeQueue) ExtendVisibility(ctx context.Context, handle string, visibility time.Duration) error {
	return nil
}

func (q *fakeQueue) Delete(ctx context.Context, handle string) error { return nil }

func (q *fakeQueue) Size(ctx context.Context) (int, error) { return len(q.tasks), nil }

// fakeState is an in-memory state.Store.
type fakeState struct {
	morsels map[string][]morsel.Morsel
}

func newFakeState() *fakeState {
	return &fakeState{morsels: make(map[string][]morsel.Morsel)}
}

func (s *fakeState) Load(ctx context.Context, producerID string) ([]morsel.Morsel, error) {
	return s.morsels[producerID], nil
}

func (s *fakeState) Save(ctx context.Context, producerID string, morsels []morsel.Morsel) error {
	s.morsels[producerID] = morsels
	return nil
}

// fakePolicy is a static policy.Provider.
type fakePolicy struct {
	tenants map[string]policy.TenantPolicy
}

func (p *fakePolicy) Accounts() ([]string, error) {
	var out []string
	for a := range p.tenants {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func (p *fakePolicy) Policy(account string) (policy.TenantPolicy, error) {
	return p.tenants[account], nil
}

func newTestProducer(t *testing.T, providers map[string]*fakeProvider, tenants map[string]policy.TenantPolicy) (*Producer, *fakeQueue) {
	t.Helper()
	q := &fakeQueue{}
	p := &Producer{
		ProducerID:       "test-producer",
		Policy:           &fakePolicy{tenants: tenants},
		Filter:           mustFilter(t, "", ""),
		Providers:        &fakeResolver{byStoreID: providers},
		Queue:            q,
		State:            newFakeState(),
		MaxTaskQueueSize: 1000,
		Logger:           zap.NewNop(),
		ScratchDir:       t.TempDir(),
	}
	return p, q
}

func mustFilter(t *testing.T, inclusion, exclusion string) *policy.Filter {
	t.Helper()
	var incPath, excPath string
	if inclusion != "" {
		incPath = writeListFile(t, "inclusion", inclusion)
	}
	if exclusion != "" {
		excPath = writeListFile(t, "exclusion", exclusion)
	}
	f, err := policy.NewFilter(incPath, excPath)
	if err != nil {
		t.Fatalf("failed to build filter: %v", err)
	}
	return f
}

func mustFilterExcluding(t *testing.T, pattern string) *policy.Filter {
	return mustFilter(t, "", pattern)
}

func writeListFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".txt")
	if err := os.WriteFile(path, []byte(content+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write %s list: %v", name, err)
	}
	return path
}

func TestProducerEnqueuesAllSourceContentOnFirstRun(t *testing.T) {
	ctx := context.Background()

	src := newFakeProvider()
	src.spaces["space1"] = []string{"a", "b", "c"}
	dst := newFakeProvider()
	dst.spaces["space1"] = nil

	p, q := newTestProducer(t, map[string]*fakeProvider{"s1": src, "d1": dst},
		map[string]policy.TenantPolicy{
			"acct": {Account: "acct", Spaces: map[string][]policy.StorePolicy{
				"space1": {{SrcStoreID: "s1", DstStoreID: "d1"}},
			}},
		})

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(q.tasks) != 3 {
		t.Fatalf("expected 3 tasks enqueued, got %d: %+v", len(q.tasks), q.tasks)
	}
}

func TestProducerSkipsDeletionSweepWhenDestSpaceAbsent(t *testing.T) {
	ctx := context.Background()

	src := newFakeProvider()
	src.spaces["space1"] = []string{"a"}
	dst := newFakeProvider() // space1 not created

	p, q := newTestProducer(t, map[string]*fakeProvider{"s1": src, "d1": dst},
		map[string]policy.TenantPolicy{
			"acct": {Account: "acct", Spaces: map[string][]policy.StorePolicy{
				"space1": {{SrcStoreID: "s1", DstStoreID: "d1"}},
			}},
		})

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(q.tasks) != 1 {
		t.Fatalf("expected only the duplication task, got %d: %+v", len(q.tasks), q.tasks)
	}
}

func TestProducerFilterExcludesSpace(t *testing.T) {
	ctx := context.Background()

	src := newFakeProvider()
	src.spaces["space1"] = []string{"a"}
	dst := newFakeProvider()
	dst.spaces["space1"] = nil

	p, q := newTestProducer(t, map[string]*fakeProvider{"s1": src, "d1": dst},
		map[string]policy.TenantPolicy{
			"acct": {Account: "acct", Spaces: map[string][]policy.StorePolicy{
				"space1": {{SrcStoreID: "s1", DstStoreID: "d1"}},
			}},
		})
	p.Filter = mustFilterExcluding(t, "acct/space1")

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(q.tasks) != 0 {
		t.Fatalf("expected excluded space to produce no tasks, got %d", len(q.tasks))
	}
}

func TestProducerDeletionSweepEnqueuesContentAbsentFromSource(t *testing.T) {
	ctx := context.Background()

	src := newFakeProvider()
	src.spaces["space1"] = []string{"a"}
	dst := newFakeProvider()
	dst.spaces["space1"] = []string{"a", "orphan"}

	p, q := newTestProducer(t, map[string]*fakeProvider{"s1": src, "d1": dst},
		map[string]policy.TenantPolicy{
			"acct": {Account: "acct", Spaces: map[string][]policy.StorePolicy{
				"space1": {{SrcStoreID: "s1", DstStoreID: "d1"}},
			}},
		})

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	found := false
	for _, tk := range q.tasks {
		if tk.ContentID == "orphan" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a task for the orphaned destination-only content id, got %+v", q.tasks)
	}
}

func TestProducerResumesFromPersistedMarker(t *testing.T) {
	ctx := context.Background()

	src := newFakeProvider()
	src.spaces["space1"] = []string{"a", "b", "c"}
	dst := newFakeProvider()
	dst.spaces["space1"] = nil

	p, q := newTestProducer(t, map[string]*fakeProvider{"s1": src, "d1": dst},
		map[string]policy.TenantPolicy{
			"acct": {Account: "acct", Spaces: map[string][]policy.StorePolicy{
				"space1": {{SrcStoreID: "s1", DstStoreID: "d1"}},
			}},
		})

	marker := "a"
	persisted := morsel.New("acct", "space1", policy.StorePolicy{SrcStoreID: "s1", DstStoreID: "d1"}).WithMarker(marker)
	p.State.Save(ctx, p.ProducerID, []morsel.Morsel{persisted})

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(q.tasks) != 2 {
		t.Fatalf("expected resuming past marker %q to enqueue 2 tasks, got %d: %+v", marker, len(q.tasks), q.tasks)
	}
}

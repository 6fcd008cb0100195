package processor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/zap"

	"dupmill/internal/retrier"
	"dupmill/internal/storage"
	"dupmill/internal/task"
)

// fakeObject adapts a bytes.Reader to storage.Object.
type fakeObject struct {
	*bytes.Reader
}

func (f *fakeObject) Close() error { return nil }

type fakeItem struct {
	body  []byte
	props map[string]string
}

// fakeStore is an in-memory storage.Provider keyed by space/content.
type fakeStore struct {
	spaces  map[string]bool
	content map[string]map[string]*fakeItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{spaces: map[string]bool{}, content: map[string]map[string]*fakeItem{}}
}

func (s *fakeStore) SpaceExists(ctx context.Context, spaceID string) (bool, error) {
	return s.spaces[spaceID], nil
}

func (s *fakeStore) CreateSpace(ctx context.Context, spaceID string) error {
	s.spaces[spaceID] = true
	if s.content[spaceID] == nil {
		s.content[spaceID] = map[string]*fakeItem{}
	}
	return nil
}

func (s *fakeStore) DeleteSpace(ctx context.Context, spaceID string) error {
	delete(s.spaces, spaceID)
	delete(s.content, spaceID)
	return nil
}

func (s *fakeStore) ListSpace(ctx context.Context, spaceID, marker string) (<-chan storage.ContentID, <-chan error) {
	idCh := make(chan storage.ContentID)
	errCh := make(chan error, 1)
	go func() {
		defer close(idCh)
		defer close(errCh)
		for id := range s.content[spaceID] {
			idCh <- id
		}
	}()
	return idCh, errCh
}

func (s *fakeStore) ListSpaceChunk(ctx context.Context, spaceID, marker string, limit int) ([]storage.ContentID, error) {
	var out []storage.ContentID
	for id := range s.content[spaceID] {
		out = append(out, id)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) GetContentProperties(ctx context.Context, spaceID, contentID string) (map[string]string, error) {
	item, ok := s.content[spaceID][contentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return item.props, nil
}

func (s *fakeStore) GetContent(ctx context.Context, spaceID, contentID string) (storage.Object, error) {
	item, ok := s.content[spaceID][contentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &fakeObject{bytes.NewReader(item.body)}, nil
}

func (s *fakeStore) PutContent(ctx context.Context, spaceID, contentID, mimetype string, props map[string]string, length int64, expectedChecksum string, body storage.Object) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])

	stored := make(map[string]string, len(props)+1)
	for k, v := range props {
		stored[k] = v
	}
	stored[storage.PropContentChecksum] = checksum

	if s.content[spaceID] == nil {
		s.content[spaceID] = map[string]*fakeItem{}
	}
	s.content[spaceID][contentID] = &fakeItem{body: data, props: stored}
	return checksum, nil
}

func (s *fakeStore) SetContentProperties(ctx context.Context, spaceID, contentID string, props map[string]string) error {
	item, ok := s.content[spaceID][contentID]
	if !ok {
		return storage.ErrNotFound
	}
	merged := make(map[string]string, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged[storage.PropContentChecksum] = item.props[storage.PropContentChecksum]
	item.props = merged
	return nil
}

func (s *fakeStore) DeleteContent(ctx context.Context, spaceID, contentID string) error {
	if _, ok := s.content[spaceID][contentID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.content[spaceID], contentID)
	return nil
}

func (s *fakeStore) put(spaceID, contentID string, body []byte, extraProps map[string]string) {
	if s.spaces == nil {
		s.spaces = map[string]bool{}
	}
	s.spaces[spaceID] = true
	if s.content[spaceID] == nil {
		s.content[spaceID] = map[string]*fakeItem{}
	}
	sum := md5.Sum(body)
	props := map[string]string{storage.PropContentChecksum: hex.EncodeToString(sum[:])}
	for k, v := range extraProps {
		props[k] = v
	}
	s.content[spaceID][contentID] = &fakeItem{body: body, props: props}
}

func testProcessor(src, dst *fakeStore) *Processor {
	return &Processor{
		Source:        src,
		Dest:          dst,
		RetrierConfig: retrier.Config{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		Logger:        zap.NewNop(),
	}
}

func TestProcessCopiesContentAbsentFromDest(t *testing.T) {
	ctx := context.Background()
	src, dst := newFakeStore(), newFakeStore()
	src.put("space1", "obj1", []byte("hello world"), nil)

	p := testProcessor(src, dst)
	bytesCopied, err := p.Process(ctx, task.New("acct", "space1", "obj1", "s1", "d1"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if bytesCopied != int64(len("hello world")) {
		t.Fatalf("expected bytesCopied=%d, got %d", len("hello world"), bytesCopied)
	}

	item, ok := dst.content["space1"]["obj1"]
	if !ok || string(item.body) != "hello world" {
		t.Fatalf("expected content copied to destination, got %+v", item)
	}
}

func TestProcessDeletesContentAbsentFromSource(t *testing.T) {
	ctx := context.Background()
	src, dst := newFakeStore(), newFakeStore()
	dst.put("space1", "obj1", []byte("stale"), nil)

	p := testProcessor(src, dst)
	if _, err := p.Process(ctx, task.New("acct", "space1", "obj1", "s1", "d1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if _, ok := dst.content["space1"]["obj1"]; ok {
		t.Fatalf("expected destination content to be deleted")
	}
}

func TestProcessNoOpWhenChecksumsAndPropertiesMatch(t *testing.T) {
	ctx := context.Background()
	src, dst := newFakeStore(), newFakeStore()
	src.put("space1", "obj1", []byte("same"), map[string]string{"owner": "alice"})
	dst.put("space1", "obj1", []byte("same"), map[string]string{"owner": "alice"})

	p := testProcessor(src, dst)
	if _, err := p.Process(ctx, task.New("acct", "space1", "obj1", "s1", "d1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
}

func TestProcessDuplicatesPropertiesWhenChecksumsMatchButPropertiesDiffer(t *testing.T) {
	ctx := context.Background()
	src, dst := newFakeStore(), newFakeStore()
	src.put("space1", "obj1", []byte("same"), map[string]string{"owner": "alice"})
	dst.put("space1", "obj1", []byte("same"), map[string]string{"owner": "bob"})

	p := testProcessor(src, dst)
	if _, err := p.Process(ctx, task.New("acct", "space1", "obj1", "s1", "d1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if got := dst.content["space1"]["obj1"].props["owner"]; got != "alice" {
		t.Fatalf("expected duplicated property owner=alice, got %q", got)
	}
}

func TestProcessFailsWhenSourceHasNoChecksum(t *testing.T) {
	ctx := context.Background()
	src, dst := newFakeStore(), newFakeStore()
	src.spaces["space1"] = true
	src.content["space1"] = map[string]*fakeItem{"obj1": {body: []byte("x"), props: map[string]string{}}}

	p := testProcessor(src, dst)
	_, err := p.Process(ctx, task.New("acct", "space1", "obj1", "s1", "d1"))

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError for missing source checksum, got %v", err)
	}
}

func TestProcessSpaceLevelDeletesEmptyDestSpaceWhenSourceGone(t *testing.T) {
	ctx := context.Background()
	src, dst := newFakeStore(), newFakeStore()
	dst.spaces["space1"] = true
	dst.content["space1"] = map[string]*fakeItem{}

	p := testProcessor(src, dst)
	if _, err := p.Process(ctx, task.New("acct", "space1", "", "s1", "d1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if dst.spaces["space1"] {
		t.Fatalf("expected empty destination space to be deleted")
	}
}

func TestProcessSpaceLevelLeavesNonEmptyDestSpaceWhenSourceGone(t *testing.T) {
	ctx := context.Background()
	src, dst := newFakeStore(), newFakeStore()
	dst.put("space1", "obj1", []byte("still here"), nil)

	p := testProcessor(src, dst)
	if _, err := p.Process(ctx, task.New("acct", "space1", "", "s1", "d1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !dst.spaces["space1"] {
		t.Fatalf("expected non-empty destination space to be left alone")
	}
}

func TestProcessSpaceLevelEnsuresDestSpaceWhenSourceExists(t *testing.T) {
	ctx := context.Background()
	src, dst := newFakeStore(), newFakeStore()
	src.spaces["space1"] = true

	p := testProcessor(src, dst)
	if _, err := p.Process(ctx, task.New("acct", "space1", "", "s1", "d1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !dst.spaces["space1"] {
		t.Fatalf("expected destination space to be created")
	}
}

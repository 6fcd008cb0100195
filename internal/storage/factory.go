package storage

import (
	"fmt"
	"sync"
)

// CredentialLookup resolves the connection parameters for one
// (account, storeId) pair. Satisfied by credentials.Repo without this
// package importing it directly, avoiding an import cycle.
type CredentialLookup interface {
	Lookup(account, storeID string) (Config, error)
}

// Factory builds and caches Provider instances per (account, storeId),
// mirroring the teacher's pattern of constructing one MinIO client per
// distinct endpoint rather than reconnecting on every call.
type Factory struct {
	creds CredentialLookup

	mu        sync.Mutex
	providers map[string]Provider
}

// NewFactory returns a Factory resolving credentials through creds.
func NewFactory(creds CredentialLookup) *Factory {
	return &Factory{creds: creds, providers: make(map[string]Provider)}
}

// Provider returns the (cached) Provider for account/storeId.
func (f *Factory) Provider(account, storeID string) (Provider, error) {
	key := account + "/" + storeID

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[key]; ok {
		return p, nil
	}

	cfg, err := f.creds.Lookup(account, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials for %s: %w", key, err)
	}

	p, err := NewMinIOProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage provider for %s: %w", key, err)
	}

	f.providers[key] = p
	return p, nil
}

// Package policy loads and filters the per-tenant duplication policy: the
// mapping from account and space to the set of source/destination store
// pairs that should be kept in sync.
package policy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// StorePolicy names one source/destination store pair to duplicate
// between. A space may fan out to multiple StorePolicies.
type StorePolicy struct {
	SrcStoreID string `yaml:"srcStoreId" json:"srcStoreId"`
	DstStoreID string `yaml:"dstStoreId" json:"dstStoreId"`
}

// TenantPolicy maps a space id to the set of StorePolicies configured for
// it, for one account.
type TenantPolicy struct {
	Account string                   `yaml:"account"`
	Spaces  map[string][]StorePolicy `yaml:"spaces"`
}

// Provider returns the current duplication policy snapshot for every
// account under management. Implementations may re-read their backing
// store on every call so that policy edits take effect without a
// restart.
type Provider interface {
	Accounts() ([]string, error)
	Policy(account string) (TenantPolicy, error)
}

// file is the on-disk shape of the policy YAML: a list of TenantPolicy
// records, one per account.
type file struct {
	Tenants []TenantPolicy `yaml:"tenants"`
}

// YAMLProvider loads policy from a single YAML file, matching the
// teacher's own file-then-struct config loading convention
// (internal/config.Load).
type YAMLProvider struct {
	path string
}

// NewYAMLProvider returns a Provider backed by the YAML file at path.
func NewYAMLProvider(path string) *YAMLProvider {
	return &YAMLProvider{path: path}
}

func (p *YAMLProvider) load() (file, error) {
	var f file
	data, err := os.ReadFile(p.path)
	if err != nil {
		return f, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return f, nil
}

// Accounts returns every account with a policy entry, sorted for stable
// enumeration order across runs.
func (p *YAMLProvider) Accounts() ([]string, error) {
	f, err := p.load()
	if err != nil {
		return nil, err
	}
	accounts := make([]string, 0, len(f.Tenants))
	for _, t := range f.Tenants {
		accounts = append(accounts, t.Account)
	}
	sort.Strings(accounts)
	return accounts, nil
}

// Policy returns the TenantPolicy for account, or an empty policy if the
// account has no entry.
func (p *YAMLProvider) Policy(account string) (TenantPolicy, error) {
	f, err := p.load()
	if err != nil {
		return TenantPolicy{}, err
	}
	for _, t := range f.Tenants {
		if t.Account == account {
			return t, nil
		}
	}
	return TenantPolicy{Account: account}, nil
}

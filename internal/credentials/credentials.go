// Package credentials resolves per-tenant, per-store storage
// credentials, standing in for the vault/KMS-integrated repository a
// production deployment would use.
package credentials

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dupmill/internal/storage"
)

// entry is the on-disk shape of one credential record.
type entry struct {
	Account   string `yaml:"account"`
	StoreID   string `yaml:"storeId"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Secure    bool   `yaml:"secure"`
}

type file struct {
	Stores []entry `yaml:"stores"`
}

// Repo resolves storage.Config for an (account, storeId) pair.
type Repo interface {
	Lookup(account, storeID string) (storage.Config, error)
}

// FileRepo loads credentials from a single YAML file, keyed on
// (account, storeId). It re-reads the file on every lookup; note that
// storage.Factory caches the Provider it builds per (account, storeId)
// and does not call Lookup again for that pair.
type FileRepo struct {
	path string
}

// NewFileRepo returns a Repo backed by the YAML file at path.
func NewFileRepo(path string) *FileRepo {
	return &FileRepo{path: path}
}

// Lookup returns the storage.Config configured for (account, storeId).
func (r *FileRepo) Lookup(account, storeID string) (storage.Config, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return storage.Config{}, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return storage.Config{}, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	for _, e := range f.Stores {
		if e.Account == account && e.StoreID == storeID {
			return storage.Config{
				Endpoint:  e.Endpoint,
				AccessKey: e.AccessKey,
				SecretKey: e.SecretKey,
				Secure:    e.Secure,
			}, nil
		}
	}

	return storage.Config{}, fmt.Errorf("no credentials configured for account=%s storeId=%s", account, storeID)
}

// Package secrets reads per-project key material from the process
// environment.
package secrets

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/taskvault/internal/common"
)

// EnvStore resolves secrets named prefix+id from the environment.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore returns a store over os.LookupEnv.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

// NewMapStore returns a store over a fixed map, for tests and local runs.
func NewMapStore(values map[string]string) *EnvStore {
	return &EnvStore{lookup: func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}}
}

// GetEnvSecret returns the secret named prefix+id, or common.ErrorNotConfigured
// when it is unset or empty.
func (s *EnvStore) GetEnvSecret(ctx context.Context, prefix, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty secret id", common.ErrorNotConfigured)
	}
	v, ok := s.lookup(prefix + id)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: secret %s%s", common.ErrorNotConfigured, prefix, id)
	}
	return v, nil
}

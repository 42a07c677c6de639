// Package keys picks the encryption secret that applies to a project.
package keys

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dmitrijs2005/taskvault/internal/cryptox"
	"github.com/dmitrijs2005/taskvault/internal/server/config"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
)

// SecretStore returns per-project secrets.
type SecretStore interface {
	GetEnvSecret(ctx context.Context, prefix, id string) (string, error)
}

// Resolver maps a project to its active secret: a per-project secret when
// project.info declares a key id at the configured path, the shared file
// encryption key otherwise.
type Resolver struct {
	store      SecretStore
	sharedKey  []byte
	configPath []string
	prefix     string
}

func NewResolver(store SecretStore, cfg *config.Config) *Resolver {
	return &Resolver{
		store:      store,
		sharedKey:  []byte(cfg.FileEncryptionKey),
		configPath: cfg.EncryptionConfigPath,
		prefix:     cfg.SecretIDPrefix,
	}
}

// KeyID returns the per-project key id declared in project.info, if any.
func (r *Resolver) KeyID(project *models.Project) (string, bool) {
	if project == nil || len(r.configPath) == 0 {
		return "", false
	}
	v, ok := project.Info.Lookup(r.configPath...)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// SecretFor returns a copy of the project's secret that the caller may
// wipe. A declared but unavailable per-project secret fails with
// common.ErrorNotConfigured instead of falling back to the shared key.
func (r *Resolver) SecretFor(ctx context.Context, project *models.Project) ([]byte, error) {
	id, ok := r.KeyID(project)
	if !ok {
		return bytes.Clone(r.sharedKey), nil
	}

	secret, err := r.store.GetEnvSecret(ctx, r.prefix, id)
	if err != nil {
		return nil, fmt.Errorf("project %d key: %w", project.ID, err)
	}
	return []byte(secret), nil
}

// CodecFor returns a codec keyed with the project's secret.
func (r *Resolver) CodecFor(ctx context.Context, project *models.Project) (*cryptox.Codec, error) {
	secret, err := r.SecretFor(ctx, project)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(secret)

	return cryptox.NewCodec(secret)
}

package privatedata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/cryptox"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
	"github.com/dmitrijs2005/taskvault/internal/server/objectstore"
)

// ObjectReader downloads stored objects.
type ObjectReader interface {
	Download(ctx context.Context, bucket, key string, opts objectstore.DownloadOptions) (*objectstore.Object, error)
}

// SecretResolver returns the active encryption secret of a project.
type SecretResolver interface {
	SecretFor(ctx context.Context, project *models.Project) ([]byte, error)
}

// Reader turns file references and inline envelopes back into the JSON
// documents they hold, using the owning project's key.
type Reader struct {
	store   ObjectReader
	keys    SecretResolver
	profile string
}

func NewReader(store ObjectReader, keys SecretResolver, profile string) *Reader {
	return &Reader{store: store, keys: keys, profile: profile}
}

// ReadReference downloads, decrypts and decodes the object behind ref.
// A reference into another project fails with common.ErrorProjectMismatch.
func (r *Reader) ReadReference(ctx context.Context, project *models.Project, ref models.FileReference) (map[string]any, error) {
	if ref.ProjectID != project.ID {
		return nil, fmt.Errorf("%w: reference to project %d read for project %d",
			common.ErrorProjectMismatch, ref.ProjectID, project.ID)
	}

	secret, err := r.keys.SecretFor(ctx, project)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(secret)

	obj, err := r.store.Download(ctx, ref.Bucket, ref.Key(), objectstore.DownloadOptions{
		Decrypt: true,
		Secret:  secret,
		Profile: r.profile,
	})
	if err != nil {
		return nil, err
	}

	return decodeDocument(obj.Content, ref.Key())
}

// ReadInline decrypts an envelope stored directly in task.info.
func (r *Reader) ReadInline(ctx context.Context, project *models.Project, envelope string) (map[string]any, error) {
	secret, err := r.keys.SecretFor(ctx, project)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(secret)

	codec, err := cryptox.NewCodec(secret)
	if err != nil {
		return nil, err
	}

	plaintext, err := codec.Decrypt(envelope)
	if err != nil {
		return nil, fmt.Errorf("inline payload of project %d: %w", project.ID, err)
	}

	return decodeDocument(plaintext, models.InlinePayloadField)
}

func decodeDocument(raw []byte, source string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON object: %v", common.ErrorValidation, source, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

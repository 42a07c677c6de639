// Package checksum computes the duplicate-detection digest of a task: a
// hash over its logical content, independent of where private parts of
// that content are stored.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/logging"
	sc "github.com/dmitrijs2005/taskvault/internal/server/config"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
)

type ProjectReader interface {
	GetProjectData(ctx context.Context, projectID int64) (*models.Project, error)
}

// DocumentReader resolves externally stored and inline encrypted content.
type DocumentReader interface {
	ReadReference(ctx context.Context, project *models.Project, ref models.FileReference) (map[string]any, error)
	ReadInline(ctx context.Context, project *models.Project, envelope string) (map[string]any, error)
}

type Engine struct {
	projects ProjectReader
	docs     DocumentReader
	skip     map[string]struct{}
	private  bool
	logger   logging.Logger
}

func NewEngine(projects ProjectReader, docs DocumentReader, cfg *sc.Config, logger logging.Logger) *Engine {
	skip := make(map[string]struct{}, len(cfg.TaskReservedColumns)+len(cfg.ChecksumExcludedFields))
	for _, name := range cfg.TaskReservedColumns {
		skip[name] = struct{}{}
	}
	for _, name := range cfg.ChecksumExcludedFields {
		skip[name] = struct{}{}
	}

	return &Engine{
		projects: projects,
		docs:     docs,
		skip:     skip,
		private:  cfg.PrivateInstance,
		logger:   logger.With("module", "checksum"),
	}
}

// ComputeChecksum returns the task's digest. ok is false when there is
// nothing to hash: no task, no content, or an unknown project.
//
// Errors are reserved for content that exists but cannot be hashed
// faithfully: a reference into another project, undecryptable content,
// or a configured duplicate-check field that is missing.
func (e *Engine) ComputeChecksum(ctx context.Context, projectID int64, task *models.Task) (digest string, ok bool, err error) {
	if task == nil || task.Info == nil {
		return "", false, nil
	}

	project, err := e.projects.GetProjectData(ctx, projectID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			e.logger.Warn(ctx, "checksum skipped, unknown project", "project_id", projectID)
			return "", false, nil
		}
		return "", false, fmt.Errorf("project %d: %w", projectID, err)
	}

	content, err := e.flatten(ctx, project, task)
	if err != nil {
		return "", false, err
	}

	fields := project.DuplicateFields()
	if len(fields) == 0 {
		fields = slices.Sorted(maps.Keys(content))
	}

	selected := make(map[string]any, len(fields))
	var missing []string
	for _, name := range fields {
		v, ok := content[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		selected[name] = v
	}
	if len(missing) > 0 {
		e.logger.Error(ctx, "checksum fields missing", "project_id", projectID, "task_id", task.ID, "fields", missing)
		return "", false, fmt.Errorf("%w: missing %s", common.ErrorChecksumIncomplete, strings.Join(missing, ", "))
	}

	digest, err = Digest(selected)
	if err != nil {
		return "", false, err
	}
	return digest, true, nil
}

// flatten builds the resolved content map. Later sources override earlier
// ones: private fields first, then task.info.
func (e *Engine) flatten(ctx context.Context, project *models.Project, task *models.Task) (map[string]any, error) {
	content := make(map[string]any, len(task.PrivateFields)+len(task.Info))
	maps.Copy(content, task.PrivateFields)

	// sorted so that overlapping merges are deterministic
	for _, name := range slices.Sorted(maps.Keys(task.Info)) {
		if _, skip := e.skip[name]; skip {
			continue
		}
		value := task.Info[name]

		if !e.private {
			content[name] = value
			continue
		}

		field, err := models.ClassifyField(name, value)
		if err != nil {
			return nil, err
		}

		switch field.Kind {
		case models.FileReferenceField:
			doc, err := e.docs.ReadReference(ctx, project, *field.Ref)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			maps.Copy(content, doc)
		case models.InlineEncryptedPayload:
			doc, err := e.docs.ReadInline(ctx, project, field.Envelope)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			maps.Copy(content, doc)
		default:
			content[name] = field.Value
		}
	}

	return content, nil
}

// Digest is the hex SHA-256 of the sorted-key JSON encoding of fields.
func Digest(fields map[string]any) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("%w: checksum encoding: %v", common.ErrorValidation, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Package privatedata writes private task content (private fields, gold
// answers) to the object store as encrypted JSON and reads it back.
package privatedata

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/cryptox"
	"github.com/dmitrijs2005/taskvault/internal/logging"
	sc "github.com/dmitrijs2005/taskvault/internal/server/config"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
)

const (
	PrivateFieldsFileName = "task_private_data.json"
	GoldAnswersFileName   = "task_private_gold_answer.json"

	storeName = "s3"
)

// ObjectStore is the part of objectstore.Store used by the service.
type ObjectStore interface {
	ObjectReader
	UploadJSON(ctx context.Context, data any, directory, filename string,
		encrypt bool, profile, bucket string, secret []byte) (string, error)
	DefaultBucket() string
}

type ProjectReader interface {
	GetProjectData(ctx context.Context, projectID int64) (*models.Project, error)
}

type TaskWriter interface {
	UpdateGoldAnswers(ctx context.Context, task *models.Task) error
}

// Upload is where a private document landed: ExternalURL goes through the
// file proxy and is what tasks store; InternalURL is the object store URL.
type Upload struct {
	ExternalURL string
	InternalURL string
}

type Service struct {
	store    ObjectStore
	projects ProjectReader
	keys     SecretResolver
	tasks    TaskWriter
	reader   *Reader
	profile  string
	private  bool
	logger   logging.Logger
	now      func() time.Time
}

func NewService(store ObjectStore, projects ProjectReader, keys SecretResolver, tasks TaskWriter,
	cfg *sc.Config, logger logging.Logger) *Service {
	return &Service{
		store:    store,
		projects: projects,
		keys:     keys,
		tasks:    tasks,
		reader:   NewReader(store, keys, cfg.TaskRequestS3Profile),
		profile:  cfg.TaskRequestS3Profile,
		private:  cfg.PrivateInstance,
		logger:   logger.With("module", "privatedata"),
		now:      time.Now,
	}
}

// Reader returns the reader sharing this service's store and keys.
func (s *Service) Reader() *Reader {
	return s.reader
}

// UploadPrivate encrypts data with the project's key and stores it under
// {projectID}/{digest}/{fileName}. The digest covers the project, task
// info, data and the current time in microseconds, so every write gets a
// fresh path.
func (s *Service) UploadPrivate(ctx context.Context, projectID int64, info models.Info, data any, fileName string) (*Upload, error) {
	project, err := s.projects.GetProjectData(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("project %d: %w", projectID, err)
	}

	secret, err := s.keys.SecretFor(ctx, project)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(secret)

	digest, err := s.pathDigest(projectID, info, data)
	if err != nil {
		return nil, err
	}

	bucket := s.store.DefaultBucket()
	directory := fmt.Sprintf("%d/%s", projectID, digest)

	internal, err := s.store.UploadJSON(ctx, data, directory, fileName, true, s.profile, bucket, secret)
	if err != nil {
		return nil, err
	}

	ref := models.FileReference{
		Store:     storeName,
		Bucket:    bucket,
		ProjectID: projectID,
		Path:      digest + "/" + fileName,
	}

	s.logger.Info(ctx, "private data uploaded", "project_id", projectID, "file", fileName)

	return &Upload{ExternalURL: ref.ProxyPath(), InternalURL: internal}, nil
}

func (s *Service) pathDigest(projectID int64, info models.Info, data any) (string, error) {
	inputs := map[string]any{
		"project_id": projectID,
		"info":       info,
		"data":       data,
		"created":    s.now().UnixMicro(),
	}

	b, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("%w: hash inputs: %v", common.ErrorValidation, err)
	}

	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// StorePrivateFields moves task.PrivateFields into an encrypted object and
// records its proxy URL in task.Info. Outside a private instance, and for
// tasks without private fields, the task is left untouched.
func (s *Service) StorePrivateFields(ctx context.Context, task *models.Task) error {
	if !s.private || len(task.PrivateFields) == 0 {
		return nil
	}

	up, err := s.UploadPrivate(ctx, task.ProjectID, task.Info, task.PrivateFields, PrivateFieldsFileName)
	if err != nil {
		return err
	}

	if task.Info == nil {
		task.Info = models.Info{}
	}
	task.Info[models.PrivateDataURLField] = up.ExternalURL

	return nil
}

// SetGoldAnswers makes task a calibration task with answers. On a private
// instance the answers are stored encrypted and the task keeps only a
// reference to them. A completed task is reopened.
func (s *Service) SetGoldAnswers(ctx context.Context, task *models.Task, answers map[string]any) error {
	if len(answers) == 0 {
		return nil
	}

	gold := answers
	if s.private {
		up, err := s.UploadPrivate(ctx, task.ProjectID, task.Info, answers, GoldAnswersFileName)
		if err != nil {
			return err
		}
		gold = map[string]any{models.GoldAnswerURLKey: up.ExternalURL}
	}

	task.GoldAnswers = gold
	task.Calibration = 1
	task.Exported = true
	if task.State == models.TaskStateCompleted {
		task.State = models.TaskStateOngoing
	}

	if err := s.tasks.UpdateGoldAnswers(ctx, task); err != nil {
		return fmt.Errorf("task %d: %w", task.ID, err)
	}

	return nil
}

// GetGoldAnswers returns the task's answers, following the indirection to
// an encrypted object when present.
func (s *Service) GetGoldAnswers(ctx context.Context, task *models.Task) (map[string]any, error) {
	raw, ok := task.GoldAnswers[models.GoldAnswerURLKey]
	if !ok || len(task.GoldAnswers) != 1 {
		return task.GoldAnswers, nil
	}

	url, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: task %d gold answer reference", common.ErrorValidation, task.ID)
	}

	ref, err := models.ParseFileReference(url)
	if err != nil {
		return nil, err
	}

	project, err := s.projects.GetProjectData(ctx, task.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("project %d: %w", task.ProjectID, err)
	}

	return s.reader.ReadReference(ctx, project, ref)
}

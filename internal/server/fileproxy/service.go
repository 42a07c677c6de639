// Package fileproxy serves encrypted task content to authorized requesters
// holding a capability token. Every request walks the same pipeline:
// size check, signature verification, subject resolution, authorization,
// then decryption and streaming.
package fileproxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/cryptox"
	"github.com/dmitrijs2005/taskvault/internal/logging"
	"github.com/dmitrijs2005/taskvault/internal/server/capability"
	sc "github.com/dmitrijs2005/taskvault/internal/server/config"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
	"github.com/dmitrijs2005/taskvault/internal/server/objectstore"
)

const supportedStore = "s3"

type TaskReader interface {
	GetTask(ctx context.Context, taskID int64) (*models.Task, error)
}

type ProjectReader interface {
	GetProjectData(ctx context.Context, projectID int64) (*models.Project, error)
}

type LockManager interface {
	HasLock(ctx context.Context, taskID, userID int64, ttl time.Duration) (bool, error)
}

type ObjectReader interface {
	Download(ctx context.Context, bucket, key string, opts objectstore.DownloadOptions) (*objectstore.Object, error)
}

type SecretResolver interface {
	SecretFor(ctx context.Context, project *models.Project) ([]byte, error)
}

type Verifier interface {
	Verify(token string, maxAge time.Duration, salt string) (capability.Claims, error)
}

// Content is a decrypted response body with the headers stored alongside it.
type Content struct {
	Body    []byte
	Headers objectstore.Headers
}

type Service struct {
	tasks    TaskReader
	projects ProjectReader
	locks    LockManager
	store    ObjectReader
	keys     SecretResolver
	verifier Verifier
	cfg      *sc.Config
	logger   logging.Logger
}

func NewService(tasks TaskReader, projects ProjectReader, locks LockManager, store ObjectReader,
	keys SecretResolver, verifier Verifier, cfg *sc.Config, logger logging.Logger) *Service {
	return &Service{
		tasks:    tasks,
		projects: projects,
		locks:    locks,
		store:    store,
		keys:     keys,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With("module", "fileproxy"),
	}
}

func checkSignatureSize(signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature", common.ErrorForbidden)
	}
	if len(signature) > common.TaskSignatureMaxSize {
		return fmt.Errorf("%w: %d characters", common.ErrorSignatureTooLong, len(signature))
	}
	return nil
}

func (s *Service) verify(signature string, maxAge time.Duration, salt string) (capability.Claims, error) {
	claims, err := s.verifier.Verify(signature, maxAge, salt)
	if err != nil {
		return capability.Claims{}, fmt.Errorf("%w: %w", common.ErrorForbidden, err)
	}
	return claims, nil
}

func (s *Service) project(ctx context.Context, projectID int64) (*models.Project, error) {
	p, err := s.projects.GetProjectData(ctx, projectID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%w: unknown project %d", common.ErrorBadRequest, projectID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// task loads the task named by claims and checks it belongs to project.
func (s *Service) task(ctx context.Context, claims capability.Claims, project *models.Project) (*models.Task, error) {
	if claims.TaskID == 0 {
		return nil, fmt.Errorf("%w: token names no task", common.ErrorForbidden)
	}
	t, err := s.tasks.GetTask(ctx, claims.TaskID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%w: unknown task %d", common.ErrorBadRequest, claims.TaskID)
	}
	if err != nil {
		return nil, err
	}
	if t.ProjectID != project.ID {
		return nil, fmt.Errorf("%w: task %d is not in project %d", common.ErrorForbidden, t.ID, project.ID)
	}
	return t, nil
}

// authorize lets through admins, the user holding the task lease and
// project co-owners.
func (s *Service) authorize(ctx context.Context, user *models.User, task *models.Task, project *models.Project, ttl time.Duration) error {
	if user == nil {
		return fmt.Errorf("%w: anonymous", common.ErrorForbidden)
	}
	if user.Admin {
		return nil
	}

	locked, err := s.locks.HasLock(ctx, task.ID, user.ID, ttl)
	if err != nil {
		return err
	}
	if locked || project.IsCoOwner(user.ID) {
		return nil
	}

	return fmt.Errorf("%w: user %d on task %d", common.ErrorForbidden, user.ID, task.ID)
}

// EncryptedFile serves the object behind ref. requestPath is the URL path
// of the request; it must be one of the task's own content values, so a
// valid token for one task cannot be replayed against another object.
func (s *Service) EncryptedFile(ctx context.Context, user *models.User, ref models.FileReference,
	requestPath, signature string) (*Content, error) {

	if err := checkSignatureSize(signature); err != nil {
		return nil, err
	}

	if ref.Store != supportedStore {
		return nil, fmt.Errorf("%w: store %q", common.ErrorBadRequest, ref.Store)
	}
	if !s.cfg.BucketAllowed(ref.Bucket) {
		return nil, fmt.Errorf("%w: bucket %q", common.ErrorForbidden, ref.Bucket)
	}

	project, err := s.project(ctx, ref.ProjectID)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.TaskTimeout(project.TimeoutSeconds())

	claims, err := s.verify(signature, timeout, capability.TaskSalt)
	if err != nil {
		return nil, err
	}

	task, err := s.task(ctx, claims, project)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, user, task, project, timeout); err != nil {
		return nil, err
	}

	if !pathInInfo(task.Info, requestPath) {
		return nil, fmt.Errorf("%w: path not referenced by task %d", common.ErrorForbidden, task.ID)
	}

	secret, err := s.keys.SecretFor(ctx, project)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(secret)

	obj, err := s.store.Download(ctx, ref.Bucket, ref.Key(), objectstore.DownloadOptions{
		Decrypt: true,
		Secret:  secret,
		Profile: s.cfg.TaskRequestS3Profile,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "encrypted file served", "task_id", task.ID, "project_id", project.ID, "user_id", user.ID)

	return &Content{Body: obj.Content, Headers: obj.Headers}, nil
}

// TaskPayload decrypts the task's inline encrypted payload. A task without
// one yields an empty body.
func (s *Service) TaskPayload(ctx context.Context, user *models.User, projectID, taskID int64, signature string) ([]byte, error) {
	if err := checkSignatureSize(signature); err != nil {
		return nil, err
	}

	project, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.TaskTimeout(project.TimeoutSeconds())

	claims, err := s.verify(signature, timeout, capability.TaskSalt)
	if err != nil {
		return nil, err
	}
	if claims.TaskID != taskID {
		return nil, fmt.Errorf("%w: token for task %d used for task %d", common.ErrorForbidden, claims.TaskID, taskID)
	}

	task, err := s.task(ctx, claims, project)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, user, task, project, timeout); err != nil {
		return nil, err
	}

	envelope, ok := task.Info.String(models.InlinePayloadField)
	if !ok || envelope == "" {
		return []byte{}, nil
	}

	secret, err := s.keys.SecretFor(ctx, project)
	if err != nil {
		return nil, err
	}
	codec, err := cryptox.NewCodec(secret)
	cryptox.Wipe(secret)
	if err != nil {
		return nil, err
	}

	payload, err := codec.Decrypt(envelope)
	if err != nil {
		return nil, fmt.Errorf("task %d payload: %w", task.ID, err)
	}

	s.logger.Info(ctx, "task payload served", "task_id", task.ID, "user_id", user.ID)

	return payload, nil
}

// Attachment serves an email attachment. Admins, co-owners of the token's
// project and the admin or subadmin the token was issued to may read it.
// Without attachment storage configured the result is an empty
// octet-stream.
func (s *Service) Attachment(ctx context.Context, user *models.User, signature, path string) (*Content, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature", common.ErrorForbidden)
	}

	claims, err := s.verify(signature, s.cfg.AttachmentTokenMaxAge, capability.AttachmentSalt)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeAttachment(ctx, user, claims); err != nil {
		return nil, err
	}

	if s.cfg.AttachmentBucket == "" {
		s.logger.Warn(ctx, "attachment storage not configured", "path", path)
		return &Content{Body: []byte{}, Headers: objectstore.Headers{ContentType: "application/octet-stream"}}, nil
	}

	obj, err := s.store.Download(ctx, s.cfg.AttachmentBucket, path, objectstore.DownloadOptions{
		Decrypt: true,
		Profile: s.cfg.AttachmentS3Profile,
	})
	if err != nil {
		return nil, err
	}

	return &Content{Body: obj.Content, Headers: obj.Headers}, nil
}

func (s *Service) authorizeAttachment(ctx context.Context, user *models.User, claims capability.Claims) error {
	if user == nil {
		return fmt.Errorf("%w: anonymous", common.ErrorForbidden)
	}
	if user.Admin {
		return nil
	}

	// a project deleted since signing just grants no co-ownership
	if claims.ProjectID != 0 {
		project, err := s.projects.GetProjectData(ctx, claims.ProjectID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
		case err != nil:
			return err
		case project.IsCoOwner(user.ID):
			return nil
		}
	}

	if user.Subadmin && claims.UserEmail != "" && claims.UserEmail == user.Email {
		return nil
	}

	return fmt.Errorf("%w: attachment for %q requested by user %d", common.ErrorForbidden, claims.UserEmail, user.ID)
}

// pathInInfo reports whether requestPath is the path of one of info's
// string values.
func pathInInfo(info models.Info, requestPath string) bool {
	for _, v := range info {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		u, err := url.Parse(s)
		if err != nil {
			continue
		}
		if u.Path == requestPath {
			return true
		}
	}
	return false
}

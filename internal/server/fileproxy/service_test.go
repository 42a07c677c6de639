package fileproxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/cryptox"
	"github.com/dmitrijs2005/taskvault/internal/logging"
	"github.com/dmitrijs2005/taskvault/internal/server/capability"
	sc "github.com/dmitrijs2005/taskvault/internal/server/config"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
	"github.com/dmitrijs2005/taskvault/internal/server/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------- fakes --------

type fakeTasks struct {
	tasks map[int64]*models.Task
}

func (f *fakeTasks) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return t, nil
}

type fakeProjects struct {
	projects map[int64]*models.Project
}

func (f *fakeProjects) GetProjectData(ctx context.Context, id int64) (*models.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return p, nil
}

type lockCall struct {
	task, user int64
	ttl        time.Duration
}

type fakeLocks struct {
	held  map[[2]int64]bool
	calls []lockCall
	err   error
}

func (f *fakeLocks) HasLock(ctx context.Context, taskID, userID int64, ttl time.Duration) (bool, error) {
	f.calls = append(f.calls, lockCall{taskID, userID, ttl})
	if f.err != nil {
		return false, f.err
	}
	return f.held[[2]int64{taskID, userID}], nil
}

type fakeStore struct {
	objects   map[string][]byte
	headers   objectstore.Headers
	downloads int
	lastOpts  objectstore.DownloadOptions
}

func (f *fakeStore) Download(ctx context.Context, bucket, key string, opts objectstore.DownloadOptions) (*objectstore.Object, error) {
	f.downloads++
	f.lastOpts = opts
	raw, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := raw
	if opts.Decrypt {
		secret := opts.Secret
		if len(secret) == 0 {
			secret = []byte(sharedKey)
		}
		c, err := cryptox.NewCodec(secret)
		if err != nil {
			return nil, err
		}
		if out, err = c.Decrypt(string(raw)); err != nil {
			return nil, err
		}
	}
	return &objectstore.Object{Bucket: bucket, Key: key, Content: out, Headers: f.headers}, nil
}

type fakeKeys struct {
	secrets map[int64]string
}

func (f *fakeKeys) SecretFor(ctx context.Context, p *models.Project) ([]byte, error) {
	s, ok := f.secrets[p.ID]
	if !ok {
		return nil, common.ErrorNotConfigured
	}
	return []byte(s), nil
}

type countingVerifier struct {
	Verifier
	calls int
}

func (v *countingVerifier) Verify(token string, maxAge time.Duration, salt string) (capability.Claims, error) {
	v.calls++
	return v.Verifier.Verify(token, maxAge, salt)
}

// -------- fixture --------

const (
	sharedKey     = "shared-file-key"
	projectSecret = "project-3-secret"
	objectPath    = "/fileproxy/encrypted/s3/task-data/3/abc/photo.png"
)

type fixture struct {
	svc      *Service
	signer   *capability.JWTSigner
	verifier *countingVerifier
	locks    *fakeLocks
	store    *fakeStore
	cfg      *sc.Config
	task     *models.Task
}

func encrypt(t *testing.T, secret string, plaintext string) []byte {
	t.Helper()
	c, err := cryptox.NewCodec([]byte(secret))
	require.NoError(t, err)
	env, err := c.Encrypt([]byte(plaintext))
	require.NoError(t, err)
	return []byte(env)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &sc.Config{}
	cfg.LoadDefaults()
	cfg.AttachmentBucket = "attachments"

	task := &models.Task{ID: 10, ProjectID: 3, Info: models.Info{
		"image":                   "https://tasks.example.com" + objectPath,
		"question":                "what is it?",
		models.InlinePayloadField: string(encrypt(t, projectSecret, `{"secret":"s"}`)),
	}}

	tasks := &fakeTasks{tasks: map[int64]*models.Task{
		10: task,
		11: {ID: 11, ProjectID: 4, Info: models.Info{"image": objectPath}},
		12: {ID: 12, ProjectID: 3, Info: models.Info{}},
	}}
	projects := &fakeProjects{projects: map[int64]*models.Project{
		3: {ID: 3, Info: models.Info{"timeout": 120}, OwnersIDs: []int64{50}},
		4: {ID: 4},
	}}
	locks := &fakeLocks{held: map[[2]int64]bool{{10, 20}: true, {12, 20}: true}}
	store := &fakeStore{
		objects: map[string][]byte{
			"task-data/3/abc/photo.png":   encrypt(t, projectSecret, "PNGDATA"),
			"attachments/mail/report.pdf": encrypt(t, sharedKey, "PDFDATA"),
		},
		headers: objectstore.Headers{ContentType: "image/png"},
	}
	keys := &fakeKeys{secrets: map[int64]string{3: projectSecret}}

	signer := capability.NewJWTSigner("server-secret")
	verifier := &countingVerifier{Verifier: signer}

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := NewService(tasks, projects, locks, store, keys, verifier, cfg, logger)

	return &fixture{svc: svc, signer: signer, verifier: verifier, locks: locks, store: store, cfg: cfg, task: task}
}

func (f *fixture) sign(t *testing.T, claims capability.Claims, salt string) string {
	t.Helper()
	tok, err := f.signer.Sign(claims, salt)
	require.NoError(t, err)
	return tok
}

func objectRef(t *testing.T) models.FileReference {
	t.Helper()
	ref, err := models.ParseFileReference(objectPath)
	require.NoError(t, err)
	return ref
}

var (
	admin    = &models.User{ID: 1, Admin: true}
	worker   = &models.User{ID: 20, Email: "w@example.com"}
	coOwner  = &models.User{ID: 50}
	stranger = &models.User{ID: 99, Email: "s@example.com"}
)

// -------- encrypted file --------

func TestEncryptedFile_Authorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sig := f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt)

	for _, u := range []*models.User{admin, worker, coOwner} {
		content, err := f.svc.EncryptedFile(ctx, u, objectRef(t), objectPath, sig)
		require.NoError(t, err)
		assert.Equal(t, "PNGDATA", string(content.Body))
		assert.Equal(t, "image/png", content.Headers.ContentType)
	}

	assert.Equal(t, []byte(projectSecret), f.store.lastOpts.Secret)
	assert.Equal(t, f.cfg.TaskRequestS3Profile, f.store.lastOpts.Profile)
	assert.True(t, f.store.lastOpts.Decrypt)
}

func TestEncryptedFile_LeaseTTLIsProjectTimeout(t *testing.T) {
	f := newFixture(t)
	sig := f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt)

	_, err := f.svc.EncryptedFile(context.Background(), worker, objectRef(t), objectPath, sig)
	require.NoError(t, err)

	require.NotEmpty(t, f.locks.calls)
	assert.Equal(t, lockCall{10, 20, 120 * time.Second}, f.locks.calls[0])
}

func TestEncryptedFile_SignatureSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EncryptedFile(ctx, admin, objectRef(t), objectPath, strings.Repeat("a", 129))
	assert.ErrorIs(t, err, common.ErrorSignatureTooLong)
	assert.Equal(t, 0, f.verifier.calls, "oversized signature must not be verified")

	_, err = f.svc.EncryptedFile(ctx, admin, objectRef(t), objectPath, strings.Repeat("a", 128))
	assert.ErrorIs(t, err, common.ErrorForbidden)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	assert.Equal(t, 1, f.verifier.calls, "128 characters proceed to verification")

	_, err = f.svc.EncryptedFile(ctx, admin, objectRef(t), objectPath, "")
	assert.ErrorIs(t, err, common.ErrorForbidden)
}

func TestEncryptedFile_TokenShapes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// attachment tokens do not open task resources
	sig := f.sign(t, capability.Claims{TaskID: 10}, capability.AttachmentSalt)
	_, err := f.svc.EncryptedFile(ctx, admin, objectRef(t), objectPath, sig)
	assert.ErrorIs(t, err, common.ErrorForbidden)

	sig = f.sign(t, capability.Claims{UserEmail: "a@example.com"}, capability.TaskSalt)
	_, err = f.svc.EncryptedFile(ctx, admin, objectRef(t), objectPath, sig)
	assert.ErrorIs(t, err, common.ErrorForbidden)
}

func TestEncryptedFile_Expired(t *testing.T) {
	f := newFixture(t)
	sig := f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt)

	// project 3 has a 120s timeout
	issuedAt := time.Now().Add(-121 * time.Second)
	past := capability.NewJWTSignerWithClock("server-secret", func() time.Time { return issuedAt })
	old, err := past.Sign(capability.Claims{TaskID: 10}, capability.TaskSalt)
	require.NoError(t, err)

	_, err = f.svc.EncryptedFile(context.Background(), admin, objectRef(t), objectPath, old)
	assert.ErrorIs(t, err, common.ErrTokenExpired)

	_, err = f.svc.EncryptedFile(context.Background(), admin, objectRef(t), objectPath, sig)
	assert.NoError(t, err)
}

func TestEncryptedFile_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sig := f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt)
	ref := objectRef(t)

	tests := []struct {
		name    string
		user    *models.User
		ref     func() models.FileReference
		path    string
		sig     string
		wantErr error
	}{
		{"stranger", stranger, func() models.FileReference { return ref }, objectPath, sig, common.ErrorForbidden},
		{"anonymous", nil, func() models.FileReference { return ref }, objectPath, sig, common.ErrorForbidden},
		{"unsupported store", admin, func() models.FileReference { r := ref; r.Store = "gcs"; return r }, objectPath, sig, common.ErrorBadRequest},
		{"bucket not allowed", admin, func() models.FileReference { r := ref; r.Bucket = "other"; return r }, objectPath, sig, common.ErrorForbidden},
		{"unknown project", admin, func() models.FileReference { r := ref; r.ProjectID = 404; return r }, objectPath, sig, common.ErrorBadRequest},
		{"unknown task", admin, func() models.FileReference { return ref }, objectPath, f.sign(t, capability.Claims{TaskID: 404}, capability.TaskSalt), common.ErrorBadRequest},
		{"task of another project", admin, func() models.FileReference { return ref }, objectPath, f.sign(t, capability.Claims{TaskID: 11}, capability.TaskSalt), common.ErrorForbidden},
		{"path substituted", admin, func() models.FileReference { return ref }, "/fileproxy/encrypted/s3/task-data/3/abc/other.png", sig, common.ErrorForbidden},
		{"path not in task", worker, func() models.FileReference { return ref }, objectPath, f.sign(t, capability.Claims{TaskID: 12}, capability.TaskSalt), common.ErrorForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.store.downloads
			_, err := f.svc.EncryptedFile(ctx, tt.user, tt.ref(), tt.path, tt.sig)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, f.store.downloads, "nothing may be read on rejection")
		})
	}
}

func TestEncryptedFile_KeyResolutionFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.keys = &fakeKeys{}
	sig := f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt)

	_, err := f.svc.EncryptedFile(context.Background(), admin, objectRef(t), objectPath, sig)
	assert.ErrorIs(t, err, common.ErrorNotConfigured)
	assert.Equal(t, 500, StatusFor(err))
}

func TestEncryptedFile_LockError(t *testing.T) {
	f := newFixture(t)
	f.locks.err = errors.New("redis down")
	sig := f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt)

	_, err := f.svc.EncryptedFile(context.Background(), worker, objectRef(t), objectPath, sig)
	assert.ErrorContains(t, err, "redis down")
}

// -------- task payload --------

func TestTaskPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, err := f.svc.TaskPayload(ctx, worker, 3, 10, f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt))
	require.NoError(t, err)
	assert.JSONEq(t, `{"secret":"s"}`, string(payload))

	empty, err := f.svc.TaskPayload(ctx, worker, 3, 12, f.sign(t, capability.Claims{TaskID: 12}, capability.TaskSalt))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.svc.TaskPayload(ctx, worker, 3, 12, f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt))
	assert.ErrorIs(t, err, common.ErrorForbidden)

	_, err = f.svc.TaskPayload(ctx, stranger, 3, 10, f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt))
	assert.ErrorIs(t, err, common.ErrorForbidden)

	_, err = f.svc.TaskPayload(ctx, worker, 3, 10, strings.Repeat("x", 200))
	assert.ErrorIs(t, err, common.ErrorSignatureTooLong)
}

func TestTaskPayload_Tampered(t *testing.T) {
	f := newFixture(t)
	f.task.Info[models.InlinePayloadField] = string(encrypt(t, "another-key", `{}`))

	_, err := f.svc.TaskPayload(context.Background(), admin, 3, 10, f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt))
	assert.ErrorIs(t, err, common.ErrorIntegrity)
}

// -------- attachments --------

func TestAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withProject := f.sign(t, capability.Claims{ProjectID: 3, UserEmail: "w@example.com"}, capability.AttachmentSalt)
	noProject := f.sign(t, capability.Claims{UserEmail: "w@example.com"}, capability.AttachmentSalt)
	deletedProject := f.sign(t, capability.Claims{ProjectID: 99, UserEmail: "w@example.com"}, capability.AttachmentSalt)

	subadmin := &models.User{ID: 20, Email: "w@example.com", Subadmin: true}
	otherSubadmin := &models.User{ID: 21, Email: "x@example.com", Subadmin: true}

	tests := []struct {
		name    string
		user    *models.User
		sig     string
		wantErr error
	}{
		{"admin", admin, noProject, nil},
		{"co-owner", coOwner, withProject, nil},
		{"subadmin recipient", subadmin, noProject, nil},
		{"plain user recipient", worker, noProject, common.ErrorForbidden},
		{"other subadmin", otherSubadmin, withProject, common.ErrorForbidden},
		{"co-owner without project claim", coOwner, noProject, common.ErrorForbidden},
		{"subadmin recipient, deleted project", subadmin, deletedProject, nil},
		{"plain user, deleted project", worker, deletedProject, common.ErrorForbidden},
		{"task token", admin, f.sign(t, capability.Claims{TaskID: 10}, capability.TaskSalt), common.ErrorForbidden},
		{"missing", admin, "", common.ErrorForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := f.svc.Attachment(ctx, tt.user, tt.sig, "mail/report.pdf")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "PDFDATA", string(content.Body))
		})
	}

	assert.Equal(t, f.cfg.AttachmentS3Profile, f.store.lastOpts.Profile)
	assert.Empty(t, f.store.lastOpts.Secret)
}

func TestAttachment_LongSignatureAllowed(t *testing.T) {
	f := newFixture(t)
	sig := f.sign(t, capability.Claims{ProjectID: 3, UserEmail: strings.Repeat("long", 30) + "@example.com"}, capability.AttachmentSalt)
	require.Greater(t, len(sig), common.TaskSignatureMaxSize)

	_, err := f.svc.Attachment(context.Background(), admin, sig, "mail/report.pdf")
	assert.NoError(t, err)
}

func TestAttachment_StorageNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.cfg.AttachmentBucket = ""

	content, err := f.svc.Attachment(context.Background(), admin,
		f.sign(t, capability.Claims{UserEmail: "a@example.com"}, capability.AttachmentSalt), "mail/report.pdf")
	require.NoError(t, err)
	assert.Empty(t, content.Body)
	assert.Equal(t, "application/octet-stream", content.Headers.ContentType)
	assert.Equal(t, 0, f.store.downloads)
}

func TestPathInInfo(t *testing.T) {
	info := models.Info{
		"a": "https://host/fileproxy/encrypted/s3/b/1/x.png?task-signature=zzz",
		"b": 5,
		"c": "",
	}
	assert.True(t, pathInInfo(info, "/fileproxy/encrypted/s3/b/1/x.png"))
	assert.False(t, pathInInfo(info, "/fileproxy/encrypted/s3/b/1/y.png"))
	assert.False(t, pathInInfo(nil, "/"))
}

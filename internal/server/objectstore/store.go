// Package objectstore uploads and downloads task content to S3-compatible
// buckets, optionally routing it through the encryption codec.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/cryptox"
	"github.com/dmitrijs2005/taskvault/internal/logging"
	sc "github.com/dmitrijs2005/taskvault/internal/server/config"
)

const encryptedMetaKey = "encrypted"

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
)

// API is the subset of the S3 client the store calls.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner builds object URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type connection struct {
	api     API
	presign Presigner
}

// Headers are the HTTP attributes stored with an object and replayed when
// it is streamed back.
type Headers struct {
	ContentType        string
	ContentEncoding    string
	ContentDisposition string
}

// UploadOptions tune a single Upload call.
type UploadOptions struct {
	CheckContentType bool
	Encrypt          bool
	// ReturnKeyOnly returns the object key instead of its public URL.
	ReturnKeyOnly bool
	// Profile names the connection profile; empty means the default one.
	Profile string
	// RootDir overrides the configured upload root directory.
	RootDir string
	// SkipRootDir stores the object at directory/filename exactly.
	SkipRootDir bool
	// Secret replaces the shared file-encryption key when encrypting.
	Secret []byte
}

// DownloadOptions tune a single Download call.
type DownloadOptions struct {
	Decrypt bool
	// Secret replaces the shared file-encryption key when decrypting.
	Secret  []byte
	Profile string
}

// Object is a downloaded object.
type Object struct {
	Bucket    string
	Key       string
	Content   []byte
	Headers   Headers
	Encrypted bool
}

// Text returns the content as a string when it is valid UTF-8. Binary
// content is reported with ok == false and is still available in Content.
func (o *Object) Text() (string, bool) {
	if !utf8.Valid(o.Content) {
		return "", false
	}
	return string(o.Content), true
}

// Store is the object store client. It keeps no per-request state.
type Store struct {
	profiles       map[string]sc.S3Profile
	defaultProfile string
	defaultBucket  string
	rootDir        string
	internalMarker string
	codec          *cryptox.Codec
	logger         logging.Logger

	connect func(ctx context.Context, profile string) (*connection, error)
}

// NewStore wires a Store from configuration. codec is the shared
// file-encryption codec used when no per-call secret is given.
func NewStore(cfg *sc.Config, codec *cryptox.Codec, logger logging.Logger) *Store {
	s := &Store{
		profiles:       cfg.S3Profiles,
		defaultProfile: cfg.DefaultS3Profile,
		defaultBucket:  cfg.S3Bucket,
		rootDir:        cfg.UploadRootDir,
		internalMarker: cfg.InternalURLMarker,
		codec:          codec,
		logger:         logger.With("module", "objectstore"),
	}
	s.connect = s.dial
	return s
}

// DefaultBucket returns the project-wide bucket.
func (s *Store) DefaultBucket() string {
	return s.defaultBucket
}

func (s *Store) dial(ctx context.Context, name string) (*connection, error) {
	if name == "" {
		name = s.defaultProfile
	}
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: connection profile %q", common.ErrorNotConfigured, name)
	}

	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(p.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			p.User,
			p.Password,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if p.Endpoint != "" {
			o.BaseEndpoint = aws.String(p.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &connection{api: client, presign: newS3PresignClient(client)}, nil
}

// Upload stores content under rootDir/directory/sanitized(filename) and
// returns the object's public URL, or its key with ReturnKeyOnly.
// Validation and key composition happen before any network call.
func (s *Store) Upload(ctx context.Context, bucket string, content []byte, filename string,
	headers Headers, directory string, opts UploadOptions) (string, error) {

	if bucket == "" {
		bucket = s.defaultBucket
	}

	if err := ValidateDirectory(directory); err != nil {
		return "", err
	}

	name := SanitizeFilename(filename)
	if name == "" {
		return "", fmt.Errorf("%w: empty file name", common.ErrorValidation)
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = s.rootDir
	}
	if opts.SkipRootDir {
		rootDir = ""
	}

	key, err := ComposeKey(rootDir, directory, name)
	if err != nil {
		return "", err
	}

	if opts.CheckContentType {
		if err := ValidateContentType(content); err != nil {
			return "", err
		}
	}

	body := content
	if opts.Encrypt {
		codec, err := s.codecFor(opts.Secret)
		if err != nil {
			return "", err
		}
		envelope, err := codec.Encrypt(content)
		if err != nil {
			return "", fmt.Errorf("encrypt %s: %w", key, err)
		}
		body = []byte(envelope)
	}

	conn, err := s.connect(ctx, opts.Profile)
	if err != nil {
		return "", err
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
		ACL:    types.ObjectCannedACLBucketOwnerFullControl,
	}
	if headers.ContentType != "" {
		in.ContentType = aws.String(headers.ContentType)
	}
	if headers.ContentEncoding != "" {
		in.ContentEncoding = aws.String(headers.ContentEncoding)
	}
	if headers.ContentDisposition != "" {
		in.ContentDisposition = aws.String(headers.ContentDisposition)
	}
	if opts.Encrypt {
		in.Metadata = map[string]string{encryptedMetaKey: "true"}
	}

	if _, err := conn.api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("%w: put %s/%s: %v", common.ErrorProvider, bucket, key, err)
	}

	s.logger.Info(ctx, "object uploaded", "bucket", bucket, "key", key, "encrypted", opts.Encrypt)

	if opts.ReturnKeyOnly {
		return key, nil
	}

	req, err := conn.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(time.Minute))
	if err != nil {
		return "", fmt.Errorf("%w: url for %s/%s: %v", common.ErrorProvider, bucket, key, err)
	}

	return s.publicURL(req.URL)
}

// publicURL drops query and auth parameters and rewrites an internal host
// marker to the externally reachable host.
func (s *Store) publicURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil

	return ExternalURL(u.String(), s.internalMarker), nil
}

// ExternalURL removes marker from the host of rawURL. URLs whose host does
// not carry the marker are returned unchanged.
func ExternalURL(rawURL, marker string) string {
	if marker == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || !strings.Contains(u.Host, marker) {
		return rawURL
	}
	u.Host = strings.Replace(u.Host, marker, "", 1)
	return u.String()
}

// UploadJSON serialises data without HTML escaping and uploads it as
// application/json under directory/filename. These documents are addressed
// through the file proxy by project id, so the upload root directory is not
// applied. An empty bucket means the default bucket; a nil secret
// means the shared file-encryption key.
func (s *Store) UploadJSON(ctx context.Context, data any, directory, filename string,
	encrypt bool, profile, bucket string, secret []byte) (string, error) {

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return "", fmt.Errorf("encode %s: %w", filename, err)
	}

	return s.Upload(ctx, bucket, bytes.TrimRight(buf.Bytes(), "\n"), filename,
		Headers{ContentType: "application/json"}, directory,
		UploadOptions{Encrypt: encrypt, Profile: profile, Secret: secret, SkipRootDir: true})
}

// Download fetches bucket/key and optionally decrypts it, with opts.Secret
// when given or the shared codec otherwise.
func (s *Store) Download(ctx context.Context, bucket, key string, opts DownloadOptions) (*Object, error) {
	conn, err := s.connect(ctx, opts.Profile)
	if err != nil {
		return nil, err
	}

	out, err := conn.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s/%s", common.ErrorNotFound, bucket, key)
		}
		return nil, fmt.Errorf("%w: get %s/%s: %v", common.ErrorProvider, bucket, key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s/%s: %v", common.ErrorProvider, bucket, key, err)
	}

	obj := &Object{
		Bucket:  bucket,
		Key:     key,
		Content: raw,
		Headers: Headers{
			ContentType:        aws.ToString(out.ContentType),
			ContentEncoding:    aws.ToString(out.ContentEncoding),
			ContentDisposition: aws.ToString(out.ContentDisposition),
		},
		Encrypted: out.Metadata[encryptedMetaKey] == "true",
	}

	if !opts.Decrypt {
		return obj, nil
	}

	codec, err := s.codecFor(opts.Secret)
	if err != nil {
		return nil, err
	}

	plaintext, err := codec.Decrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decrypt %s/%s: %w", bucket, key, err)
	}
	obj.Content = plaintext

	return obj, nil
}

func (s *Store) codecFor(secret []byte) (*cryptox.Codec, error) {
	if len(secret) == 0 {
		return s.codec, nil
	}
	return cryptox.NewCodec(secret)
}

// Delete removes the object addressed by rawURL (a URL or a bare key).
// Failures are logged and swallowed: deletion is advisory cleanup.
func (s *Store) Delete(ctx context.Context, bucket, rawURL string) {
	key := KeyFromURL(bucket, rawURL)
	if key == "" {
		s.logger.Warn(ctx, "delete skipped, empty key", "bucket", bucket, "url", rawURL)
		return
	}

	conn, err := s.connect(ctx, "")
	if err != nil {
		s.logger.Error(ctx, "delete failed", "bucket", bucket, "key", key, "error", err)
		return
	}

	if _, err := conn.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		s.logger.Error(ctx, "delete failed", "bucket", bucket, "key", key, "error", err)
		return
	}

	s.logger.Info(ctx, "object deleted", "bucket", bucket, "key", key)
}

// KeyFromURL resolves an object URL (virtual-host or path style) or a bare
// key to the key inside bucket.
func KeyFromURL(bucket, rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		p = u.Path
	}
	p = strings.TrimPrefix(p, "/")
	return strings.TrimPrefix(p, bucket+"/")
}

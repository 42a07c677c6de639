package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/taskvault/internal/common"
)

const (
	// FileReferenceSuffix marks task.info fields whose value is a proxied
	// URL to an encrypted JSON object.
	FileReferenceSuffix = "__upload_url"
	// InlinePayloadField holds an encrypted JSON payload inside task.info.
	InlinePayloadField = "private_json__encrypted_payload"
	// PrivateDataURLField is where private fields are referenced after upload.
	PrivateDataURLField = "private_json" + FileReferenceSuffix
	// GoldAnswerURLKey is the single key of an externally stored gold answer.
	GoldAnswerURLKey = "gold_ans" + FileReferenceSuffix

	workflowSegment = "workflow_request"
	proxyPrefix     = "/fileproxy/encrypted/"
)

// FieldKind tags a task.info field.
type FieldKind int

const (
	PlainField FieldKind = iota
	FileReferenceField
	InlineEncryptedPayload
)

func (k FieldKind) String() string {
	switch k {
	case FileReferenceField:
		return "file_reference"
	case InlineEncryptedPayload:
		return "inline_encrypted_payload"
	default:
		return "plain"
	}
}

// Field is a task.info entry classified once, so resolution code switches
// on Kind instead of re-inspecting names.
type Field struct {
	Name  string
	Kind  FieldKind
	Value any
	// Ref is set for FileReferenceField.
	Ref *FileReference
	// Envelope is set for InlineEncryptedPayload.
	Envelope string
}

// ClassifyField tags name/value. A marker field whose value cannot be
// interpreted returns an error rather than degrading to a plain field.
func ClassifyField(name string, value any) (Field, error) {
	f := Field{Name: name, Kind: PlainField, Value: value}

	switch {
	case name == InlinePayloadField:
		s, ok := value.(string)
		if !ok {
			return f, fmt.Errorf("%w: %s is not a string", common.ErrorValidation, name)
		}
		f.Kind = InlineEncryptedPayload
		f.Envelope = s

	case strings.HasSuffix(name, FileReferenceSuffix):
		s, ok := value.(string)
		if !ok {
			return f, fmt.Errorf("%w: %s is not a string", common.ErrorValidation, name)
		}
		ref, err := ParseFileReference(s)
		if err != nil {
			return f, fmt.Errorf("field %s: %w", name, err)
		}
		f.Kind = FileReferenceField
		f.Ref = &ref
	}

	return f, nil
}

// FileReference addresses an encrypted object behind the file proxy.
type FileReference struct {
	Store      string
	Bucket     string
	WorkflowID string
	ProjectID  int64
	Path       string
}

// Key is the object key inside Bucket.
func (r FileReference) Key() string {
	if r.WorkflowID != "" {
		return fmt.Sprintf("%s/%s/%d/%s", workflowSegment, r.WorkflowID, r.ProjectID, r.Path)
	}
	return fmt.Sprintf("%d/%s", r.ProjectID, r.Path)
}

// ProxyPath is the file-proxy URL path serving this reference.
func (r FileReference) ProxyPath() string {
	if r.WorkflowID != "" {
		return fmt.Sprintf("%s%s/%s/%s/%s/%d/%s", proxyPrefix, r.Store, r.Bucket, workflowSegment, r.WorkflowID, r.ProjectID, r.Path)
	}
	return fmt.Sprintf("%s%s/%s/%d/%s", proxyPrefix, r.Store, r.Bucket, r.ProjectID, r.Path)
}

// ParseFileReference accepts an absolute or relative file-proxy URL:
//
//	.../fileproxy/encrypted/{store}/{bucket}/{projectId}/{path...}
//	.../fileproxy/encrypted/{store}/{bucket}/workflow_request/{workflowId}/{projectId}/{path...}
func ParseFileReference(raw string) (FileReference, error) {
	var ref FileReference

	u, err := url.Parse(raw)
	if err != nil {
		return ref, fmt.Errorf("%w: invalid file reference: %v", common.ErrorValidation, err)
	}

	idx := strings.Index(u.Path, proxyPrefix)
	if idx < 0 {
		return ref, fmt.Errorf("%w: not a file proxy url", common.ErrorValidation)
	}

	return ParseProxyPath(u.Path[idx+len(proxyPrefix):])
}

// ParseProxyPath parses the part of a proxy path following "/fileproxy/encrypted/".
func ParseProxyPath(rest string) (FileReference, error) {
	var ref FileReference

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 4 {
		return ref, fmt.Errorf("%w: file reference too short", common.ErrorValidation)
	}

	ref.Store, ref.Bucket = parts[0], parts[1]
	parts = parts[2:]

	if parts[0] == workflowSegment {
		if len(parts) < 4 {
			return ref, fmt.Errorf("%w: workflow file reference too short", common.ErrorValidation)
		}
		ref.WorkflowID = parts[1]
		parts = parts[2:]
	}

	pid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ref, fmt.Errorf("%w: invalid project id %q", common.ErrorValidation, parts[0])
	}
	ref.ProjectID = pid
	ref.Path = strings.Join(parts[1:], "/")

	if ref.Store == "" || ref.Bucket == "" || ref.Path == "" {
		return ref, fmt.Errorf("%w: incomplete file reference", common.ErrorValidation)
	}

	return ref, nil
}

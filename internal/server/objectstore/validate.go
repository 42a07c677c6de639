package objectstore

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxKeyLength is the exclusive upper bound on composed object keys.
const MaxKeyLength = 256

var (
	directoryPattern    = regexp.MustCompile(`^[A-Za-z0-9_/]*$`)
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// allowedMimeTypes is the upload allow-list matched against sniffed content.
var allowedMimeTypes = mimeSet(
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.oasis.opendocument.spreadsheet",
	"application/rtf",
	"text/rtf",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/tiff",
	"image/webp",
	"image/svg+xml",
	"audio/mpeg",
	"audio/wav",
	"audio/x-wav",
	"audio/ogg",
	"audio/mp4",
	"audio/flac",
	"video/mp4",
	"application/zip",
	"application/gzip",
	"application/x-tar",
	"application/x-7z-compressed",
	"application/json",
	"text/csv",
	"text/xml",
	"application/xml",
	"text/plain",
)

func mimeSet(types ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// ValidateDirectory accepts letters, digits, underscores and slashes only.
// The empty directory is valid.
func ValidateDirectory(path string) error {
	if !directoryPattern.MatchString(path) {
		return fmt.Errorf("%w: invalid directory %q", common.ErrorValidation, path)
	}
	return nil
}

// ValidateContentType sniffs content and rejects types outside the allow-list.
func ValidateContentType(content []byte) error {
	return checkMime(mimetype.Detect(content))
}

// ValidateContentTypeFile sniffs the file at path.
func ValidateContentTypeFile(path string) error {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return err
	}
	return checkMime(m)
}

func checkMime(m *mimetype.MIME) error {
	for ; m != nil; m = m.Parent() {
		// strip parameters such as "; charset=utf-8"
		base, _, _ := strings.Cut(m.String(), ";")
		if _, ok := allowedMimeTypes[strings.TrimSpace(base)]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w", common.ErrorUnsupportedMediaType)
}

// SanitizeFilename reduces name to a safe ASCII file name: accents are
// folded, path separators and unsafe characters become underscores and
// leading dots are dropped, so the result can never climb directories.
func SanitizeFilename(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	folded = strings.Join(strings.Fields(strings.NewReplacer("/", " ", "\\", " ").Replace(folded)), "_")
	folded = unsafeFilenameChars.ReplaceAllString(folded, "")
	folded = strings.TrimLeft(folded, "._")

	return folded
}

// ComposeKey joins non-empty parts with "/" and enforces MaxKeyLength.
func ComposeKey(parts ...string) (string, error) {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	key := strings.Join(kept, "/")

	if len(key) >= MaxKeyLength {
		return "", fmt.Errorf("%w: key length %d exceeds limit", common.ErrorValidation, len(key))
	}
	return key, nil
}

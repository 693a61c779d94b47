package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldKind selects the extension allow-list for an uploaded field.
type FieldKind string

const (
	FieldManuscript FieldKind = "manuscript"
	FieldImage      FieldKind = "image"
)

// ErrUnsupportedFileType is returned before any network call when the
// extension is outside the field's allow-list.
var ErrUnsupportedFileType = errors.New("unsupported file type")

var allowedExtensions = map[FieldKind]map[string]struct{}{
	FieldManuscript: {".pdf": {}, ".epub": {}, ".mobi": {}},
	FieldImage:      {".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}},
}

// UploadResult is the explicit two-outcome result of the pipeline: a remote
// object URL, or a local fallback path when the remote write failed.
type UploadResult struct {
	Remote bool
	Ref    string
}

// Uploader buffers file content, attempts a remote object-store write, and
// degrades to the local file store when the remote write fails. The fallback
// never surfaces as an error to the caller.
type Uploader struct {
	objects ObjectStore
	files   *FileStore
}

// NewUploader wires the remote store (may be nil to force local writes) and
// the mandatory local fallback store.
func NewUploader(objects ObjectStore, files *FileStore) (*Uploader, error) {
	if files == nil {
		return nil, errors.New("uploader requires a local file store")
	}
	return &Uploader{objects: objects, files: files}, nil
}

// Upload runs one field through the pipeline. Content must already be fully
// buffered; the allow-list check happens before any network call.
func (u *Uploader) Upload(ctx context.Context, kind FieldKind, filename string, data []byte) (UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed, ok := allowedExtensions[kind]
	if !ok {
		return UploadResult{}, fmt.Errorf("unknown upload field kind %q", kind)
	}
	if _, ok := allowed[ext]; !ok {
		return UploadResult{}, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}

	name := objectName(ext)
	if u.objects != nil {
		contentType := mime.TypeByExtension(ext)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		url, err := u.objects.Put(ctx, name, bytes.NewReader(data), int64(len(data)), contentType)
		if err == nil {
			return UploadResult{Remote: true, Ref: url}, nil
		}
		slog.Warn("remote upload failed, falling back to local disk",
			"field", string(kind), "object", name, "err", err)
	}

	ref, err := u.files.Save(name, bytes.NewReader(data))
	if err != nil {
		return UploadResult{}, fmt.Errorf("local fallback write: %w", err)
	}
	return UploadResult{Remote: false, Ref: ref}, nil
}

// objectName builds a collision-resistant blob name: time-based prefix,
// random component, original extension.
func objectName(ext string) string {
	rand := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s%s", time.Now().UTC().UnixNano(), rand, ext)
}

package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type fakeObjectStore struct {
	puts    int
	failPut bool
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	f.puts++
	if f.failPut {
		return "", errors.New("connection refused")
	}
	return "http://blobs.test/covers/" + key, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, _ string) error { return nil }

func newTestUploader(t *testing.T, objects ObjectStore) *Uploader {
	t.Helper()
	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	u, err := NewUploader(objects, files)
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	return u
}

func TestUploadRejectsDisallowedExtensionBeforeNetwork(t *testing.T) {
	objects := &fakeObjectStore{}
	u := newTestUploader(t, objects)

	_, err := u.Upload(context.Background(), FieldManuscript, "malware.exe", []byte("MZ"))
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}
	if objects.puts != 0 {
		t.Fatalf("remote store must not be called for rejected extension, got %d puts", objects.puts)
	}

	if _, err := u.Upload(context.Background(), FieldImage, "cover.pdf", []byte("%PDF")); !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("pdf is not a valid cover image, got %v", err)
	}
}

func TestUploadRemoteSuccessReturnsTaggedURL(t *testing.T) {
	u := newTestUploader(t, &fakeObjectStore{})

	res, err := u.Upload(context.Background(), FieldManuscript, "novel.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !res.Remote {
		t.Fatalf("expected remote result")
	}
	if !strings.HasPrefix(res.Ref, "http://") {
		t.Fatalf("remote ref should be an absolute URL, got %q", res.Ref)
	}
	if !strings.HasSuffix(res.Ref, ".pdf") {
		t.Fatalf("ref should keep the original extension, got %q", res.Ref)
	}
}

func TestUploadFallsBackToLocalOnRemoteFailure(t *testing.T) {
	u := newTestUploader(t, &fakeObjectStore{failPut: true})

	res, err := u.Upload(context.Background(), FieldImage, "cover.png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("fallback upload should not error: %v", err)
	}
	if res.Remote {
		t.Fatalf("expected local fallback result")
	}
	if strings.HasPrefix(res.Ref, "http") {
		t.Fatalf("local ref must be a relative path, got %q", res.Ref)
	}
	if !strings.HasSuffix(res.Ref, ".png") {
		t.Fatalf("local ref should keep the original extension, got %q", res.Ref)
	}
}

func TestUploadWithoutRemoteStoreWritesLocally(t *testing.T) {
	u := newTestUploader(t, nil)

	res, err := u.Upload(context.Background(), FieldManuscript, "novel.epub", []byte("zip-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Remote {
		t.Fatalf("no remote store configured, result must be local")
	}
}

func TestObjectNamesAreUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		name := objectName(".pdf")
		if _, dup := seen[name]; dup {
			t.Fatalf("duplicate object name %q", name)
		}
		seen[name] = struct{}{}
	}
}

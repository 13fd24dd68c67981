package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"strings"
	"testing"
	"time"

	"coffer/internal/compress"
	"coffer/internal/core"
	"coffer/internal/server/audit"
)

type fileFixture struct {
	files  *memFileStore
	shares *memShareStore
	blobs  *memBlobStore
	sink   *memSink
	clock  *core.FakeClock
	svc    *FileService
	shsvc  *ShareService
}

func newFileFixture(t *testing.T, maxSize int64) *fileFixture {
	t.Helper()
	f := &fileFixture{
		files:  newMemFileStore(),
		shares: newMemShareStore(),
		blobs:  newMemBlobStore(),
		sink:   &memSink{},
		clock:  core.NewFakeClock(shareNow),
	}
	f.shsvc = NewShareService(f.shares, f.files, f.sink, f.clock)
	f.svc = NewFileService(f.files, f.blobs, compress.NewPipeline(2), f.shsvc, f.sink, f.clock, maxSize)
	return f
}

// largeJPEG builds a maximum-quality JPEG well over the compression floor.
func largeJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 512, 512))
	if _, err := rand.Read(img.Pix); err != nil {
		t.Fatalf("failed to fill image: %v", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("compressed image records both sizes", func(t *testing.T) {
		f := newFileFixture(t, 10*1024*1024)
		original := largeJPEG(t)

		file, err := f.svc.Upload(ctx, "alice", "photo.jpg", "image/jpeg", bytes.NewReader(original), testOrigin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !file.Compressed {
			t.Fatal("quality-100 jpeg should have been compressed")
		}
		if file.Size >= int64(len(original)) {
			t.Errorf("stored size must be strictly smaller: %d vs %d", file.Size, len(original))
		}
		if file.OriginalSize == nil || *file.OriginalSize != int64(len(original)) {
			t.Error("pre-transform size must be recorded on a kept transform")
		}

		stored, _ := f.blobs.Open(ctx, file.StoragePath)
		data, _ := io.ReadAll(stored)
		if int64(len(data)) != file.Size {
			t.Errorf("blob size %d disagrees with record %d", len(data), file.Size)
		}

		events := f.sink.byAction(audit.ActionUpload)
		if len(events) != 1 {
			t.Fatalf("expected exactly one upload audit entry, got %d", len(events))
		}
		if events[0].FileID != file.ID {
			t.Error("upload event must reference the file")
		}
	})

	t.Run("pass-through keeps sizes equal and original size unset", func(t *testing.T) {
		f := newFileFixture(t, 10*1024*1024)
		data := []byte("tiny file")

		file, err := f.svc.Upload(ctx, "alice", "note.txt", "text/plain", bytes.NewReader(data), testOrigin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if file.Compressed || file.OriginalSize != nil {
			t.Error("pass-through upload must not be marked compressed")
		}
		if file.Size != int64(len(data)) {
			t.Errorf("expected size %d, got %d", len(data), file.Size)
		}
	})

	t.Run("rejects oversized uploads", func(t *testing.T) {
		f := newFileFixture(t, 16)
		_, err := f.svc.Upload(ctx, "alice", "big.bin", "application/octet-stream",
			strings.NewReader("seventeen bytes!!"), testOrigin)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("rejects anonymous uploads", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		_, err := f.svc.Upload(ctx, "", "a.txt", "text/plain", strings.NewReader("x"), testOrigin)
		if !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("sanitizes path-tainted filenames", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		file, err := f.svc.Upload(ctx, "alice", "../../etc/passwd", "text/plain", strings.NewReader("x"), testOrigin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if file.Name != "passwd" {
			t.Errorf("expected sanitized name, got %q", file.Name)
		}
	})
}

func TestDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("gzip-archived text expands to the original bytes", func(t *testing.T) {
		f := newFileFixture(t, 10*1024*1024)
		original := []byte(strings.Repeat("all work and no play makes jack a dull boy\n", 5000))

		file, err := f.svc.Upload(ctx, "alice", "novel.txt", "text/plain", bytes.NewReader(original), testOrigin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if file.Encoding != compress.EncodingGzip {
			t.Fatalf("expected gzip encoding, got %s", file.Encoding)
		}

		rc, got, err := f.svc.Download(ctx, "alice", file.ID, testOrigin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("failed to read download: %v", err)
		}
		if !bytes.Equal(data, original) {
			t.Error("download must return the original representation")
		}
		if got.ID != file.ID {
			t.Error("download returned wrong file metadata")
		}
	})

	t.Run("view-only grant cannot download", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		file, _ := f.svc.Upload(ctx, "alice", "a.txt", "text/plain", strings.NewReader("hello"), testOrigin)
		f.shsvc.GrantToUser(ctx, "alice", file.ID, "bob", GrantOptions{Permission: permPtr(core.PermissionView)}, testOrigin)

		_, _, err := f.svc.Download(ctx, "bob", file.ID, testOrigin)
		if !errors.Is(err, ErrInsufficientPermission) {
			t.Errorf("expected ErrInsufficientPermission, got %v", err)
		}
	})

	t.Run("download grant works and audits", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		file, _ := f.svc.Upload(ctx, "alice", "a.txt", "text/plain", strings.NewReader("hello"), testOrigin)
		f.shsvc.GrantToUser(ctx, "alice", file.ID, "bob", GrantOptions{Permission: permPtr(core.PermissionDownload)}, testOrigin)

		rc, _, err := f.svc.Download(ctx, "bob", file.ID, testOrigin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rc.Close()

		events := f.sink.byAction(audit.ActionDownload)
		if len(events) != 1 || events[0].Actor != "bob" {
			t.Error("download must land on the trail under the acting principal")
		}
	})

	t.Run("download via link serves the file", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		file, _ := f.svc.Upload(ctx, "alice", "a.txt", "text/plain", strings.NewReader("hello"), testOrigin)
		share, _ := f.shsvc.GrantViaLink(ctx, "alice", file.ID, GrantOptions{Permission: permPtr(core.PermissionDownload)}, testOrigin)

		rc, got, err := f.svc.DownloadViaLink(ctx, "bob", *share.LinkToken, testOrigin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		data, _ := io.ReadAll(rc)
		if string(data) != "hello" {
			t.Errorf("expected file contents, got %q", data)
		}
		if got.ID != file.ID {
			t.Error("wrong file resolved via link")
		}
		if events := f.sink.byAction(audit.ActionLinkAccess); len(events) != 1 {
			t.Errorf("expected 1 link_access event, got %d", len(events))
		}
	})
}

func TestGetMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("non-owner view is audited", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		file, _ := f.svc.Upload(ctx, "alice", "a.txt", "text/plain", strings.NewReader("hello"), testOrigin)
		f.shsvc.GrantToUser(ctx, "alice", file.ID, "bob", GrantOptions{}, testOrigin)

		got, err := f.svc.Get(ctx, "bob", file.ID, testOrigin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Name != "a.txt" {
			t.Errorf("unexpected name %q", got.Name)
		}
		if events := f.sink.byAction(audit.ActionView); len(events) != 1 {
			t.Errorf("expected 1 view event, got %d", len(events))
		}
	})

	t.Run("owner view is not audited", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		file, _ := f.svc.Upload(ctx, "alice", "a.txt", "text/plain", strings.NewReader("hello"), testOrigin)

		if _, err := f.svc.Get(ctx, "alice", file.ID, testOrigin); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if events := f.sink.byAction(audit.ActionView); len(events) != 0 {
			t.Errorf("owner metadata reads should not audit, got %d events", len(events))
		}
	})
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()

	t.Run("owner delete removes blob and record", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		file, _ := f.svc.Upload(ctx, "alice", "a.txt", "text/plain", strings.NewReader("hello"), testOrigin)

		if err := f.svc.Delete(ctx, "alice", file.ID, testOrigin); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if exists, _ := f.blobs.Exists(ctx, file.StoragePath); exists {
			t.Error("blob must be removed")
		}
		if _, err := f.files.GetByID(ctx, file.ID); err == nil {
			t.Error("record must be removed")
		}
		if events := f.sink.byAction(audit.ActionDelete); len(events) != 1 {
			t.Errorf("expected 1 delete event, got %d", len(events))
		}
	})

	t.Run("non-owner cannot delete", func(t *testing.T) {
		f := newFileFixture(t, 1024)
		file, _ := f.svc.Upload(ctx, "alice", "a.txt", "text/plain", strings.NewReader("hello"), testOrigin)

		if err := f.svc.Delete(ctx, "bob", file.ID, testOrigin); !errors.Is(err, ErrNotOwner) {
			t.Errorf("expected ErrNotOwner, got %v", err)
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple name", "photo.jpg", "photo.jpg"},
		{"strips directories", "dir/sub/file.txt", "file.txt"},
		{"windows separators", `C:\Users\me\file.txt`, "file.txt"},
		{"empty name", "", "unnamed"},
		{"dot only", ".", "unnamed"},
		{
			"long name keeps extension",
			strings.Repeat("a", 300) + ".txt",
			strings.Repeat("a", 251) + ".txt",
		},
		{
			"oversized dot-led tail truncated bytewise",
			"a." + strings.Repeat("x", 300),
			"a." + strings.Repeat("x", 253),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

// Exercising the fake clock against the auth flow keeps token expiry
// deterministic.
func TestAuthService(t *testing.T) {
	ctx := context.Background()

	newAuth := func(t *testing.T) (*AuthService, *memPrincipalStore, *core.FakeClock) {
		t.Helper()
		store := newMemPrincipalStore()
		clock := core.NewFakeClock(shareNow)
		return NewAuthService(store, clock, "test-secret", time.Hour), store, clock
	}

	t.Run("register and login round-trip", func(t *testing.T) {
		svc, _, _ := newAuth(t)

		p, err := svc.Register(ctx, "alice", "hunter2hunter2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		token, err := svc.Login(ctx, "alice", "hunter2hunter2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		id, err := svc.Verify(token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != p.ID {
			t.Errorf("token names %s, want %s", id, p.ID)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		svc, _, _ := newAuth(t)
		svc.Register(ctx, "alice", "hunter2hunter2")

		if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		svc, _, _ := newAuth(t)
		svc.Register(ctx, "alice", "hunter2hunter2")

		if _, err := svc.Register(ctx, "alice", "other-password"); !errors.Is(err, ErrUsernameTaken) {
			t.Errorf("expected ErrUsernameTaken, got %v", err)
		}
	})

	t.Run("expired session token rejected", func(t *testing.T) {
		svc, _, clock := newAuth(t)
		svc.Register(ctx, "alice", "hunter2hunter2")
		token, _ := svc.Login(ctx, "alice", "hunter2hunter2")

		clock.Advance(2 * time.Hour)
		if _, err := svc.Verify(token); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated for expired token, got %v", err)
		}
	})
}

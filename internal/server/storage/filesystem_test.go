package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) (*FileSystemStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileSystemStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, dir
}

func TestFileSystemStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("saves blob to disk", func(t *testing.T) {
		store, dir := newTestStore(t)

		data := bytes.NewReader([]byte("test content"))
		n, err := store.Save(ctx, "abc123", data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		// Verify file exists on disk
		content, err := os.ReadFile(filepath.Join(dir, "abc123"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		store, _ := newTestStore(t)

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		data := bytes.NewReader([]byte(largeContent))
		n, err := store.Save(ctx, "large", data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), n)
		}
	})

	t.Run("rejects path-escaping keys", func(t *testing.T) {
		store, _ := newTestStore(t)

		if _, err := store.Save(ctx, "../escape", bytes.NewReader([]byte("x"))); err == nil {
			t.Error("expected error for key with path components")
		}
		if _, err := store.Save(ctx, "", bytes.NewReader([]byte("x"))); err == nil {
			t.Error("expected error for empty key")
		}
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("reads back stored blob", func(t *testing.T) {
		store, _ := newTestStore(t)

		if _, err := store.Save(ctx, "test123", bytes.NewReader([]byte("data"))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rc, err := store.Open(ctx, "test123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		content, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("failed to read blob: %v", err)
		}
		if string(content) != "data" {
			t.Errorf("expected 'data', got %q", content)
		}
	})

	t.Run("returns error for missing blob", func(t *testing.T) {
		store, _ := newTestStore(t)

		if _, err := store.Open(ctx, "nonexistent"); err == nil {
			t.Error("expected error for nonexistent blob")
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes existing blob", func(t *testing.T) {
		store, dir := newTestStore(t)

		filePath := filepath.Join(dir, "del123")
		os.WriteFile(filePath, []byte("data"), 0644)

		if err := store.Delete(ctx, "del123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Verify file is gone
		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing blob", func(t *testing.T) {
		store, _ := newTestStore(t)

		if err := store.Delete(ctx, "nonexistent"); err != nil {
			t.Errorf("expected no error for missing blob, got: %v", err)
		}
	})
}

func TestFileSystemStore_Exists(t *testing.T) {
	ctx := context.Background()

	t.Run("reports stored blob", func(t *testing.T) {
		store, _ := newTestStore(t)
		store.Save(ctx, "here", bytes.NewReader([]byte("x")))

		ok, err := store.Exists(ctx, "here")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Error("expected blob to exist")
		}
	})

	t.Run("reports missing blob", func(t *testing.T) {
		store, _ := newTestStore(t)

		ok, err := store.Exists(ctx, "gone")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected blob to be missing")
		}
	})
}

func TestNewFileSystemStore(t *testing.T) {
	t.Run("creates nested directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")

		if _, err := NewFileSystemStore(dir); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})
}

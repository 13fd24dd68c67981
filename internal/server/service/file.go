package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"coffer/internal/compress"
	"coffer/internal/core"
	"coffer/internal/server/audit"
	"coffer/internal/server/database"
)

// FileStore is the persistence seam for file records;
// *database.FileRepository satisfies it.
type FileStore interface {
	Create(ctx context.Context, file *database.File) error
	GetByID(ctx context.Context, id string) (*database.File, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*database.File, error)
	Delete(ctx context.Context, id string) error
}

// BlobStore is the opaque blob collaborator keyed by storage path.
type BlobStore interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// FileService owns ingestion, download and deletion of files. Ingestion
// runs the compression decision before the file record is committed, so
// size and the compression flag are fixed at creation.
type FileService struct {
	files    FileStore
	blobs    BlobStore
	pipeline *compress.Pipeline
	shares   *ShareService
	sink     AuditRecorder
	clock    core.Clock
	maxSize  int64
}

// NewFileService creates a new file service.
func NewFileService(files FileStore, blobs BlobStore, pipeline *compress.Pipeline, shares *ShareService, sink AuditRecorder, clock core.Clock, maxSize int64) *FileService {
	return &FileService{
		files:    files,
		blobs:    blobs,
		pipeline: pipeline,
		shares:   shares,
		sink:     sink,
		clock:    clock,
		maxSize:  maxSize,
	}
}

// Upload ingests one file: runs the compression decision, stores the
// winning bytes, and commits the file record. The blob is cleaned up if
// the record cannot be written, so a transform is never left as the file
// of record without its row.
func (s *FileService) Upload(ctx context.Context, ownerID, filename, contentType string, data io.Reader, origin audit.Origin) (*database.File, error) {
	if ownerID == "" {
		return nil, ErrNotAuthenticated
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(data, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload data: %w", err)
	}
	if n > s.maxSize {
		return nil, ErrFileTooLarge
	}

	result := s.pipeline.Process(ctx, buf.Bytes(), contentType)

	fileID := uuid.NewString()
	storagePath := fileID

	if _, err := s.blobs.Save(ctx, storagePath, bytes.NewReader(result.Data)); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	file := &database.File{
		ID:          fileID,
		OwnerID:     ownerID,
		Name:        sanitizeFilename(filename),
		ContentType: contentType,
		Size:        result.FinalSize,
		Encoding:    result.Encoding,
		StoragePath: storagePath,
		Compressed:  result.Compressed,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if result.Compressed {
		file.OriginalSize = &result.OriginalSize
	}

	if err := s.files.Create(ctx, file); err != nil {
		// Clean up the stored blob on DB failure
		if derr := s.blobs.Delete(ctx, storagePath); derr != nil {
			slog.Error("failed to clean up blob after DB failure", "path", storagePath, "error", derr)
		}
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	s.sink.Record(ctx, audit.Event{
		Actor:  ownerID,
		Action: audit.ActionUpload,
		FileID: file.ID,
		Detail: fmt.Sprintf("stored %d bytes (original %d, compressed=%t)", result.FinalSize, result.OriginalSize, result.Compressed),
		Origin: origin,
	})
	return file, nil
}

// Get returns file metadata when principalID holds at least view access,
// and records a view on the trail.
func (s *FileService) Get(ctx context.Context, principalID, fileID string, origin audit.Origin) (*database.File, error) {
	file, decision, err := s.shares.ResolveAccess(ctx, principalID, fileID, core.PermissionView)
	if err != nil {
		return nil, err
	}

	if decision.Via != core.GrantOwner {
		s.sink.Record(ctx, audit.Event{
			Actor:  principalID,
			Action: audit.ActionView,
			FileID: file.ID,
			Detail: fmt.Sprintf("via %s", decision.Via),
			Origin: origin,
		})
	}
	return file, nil
}

// Download returns the file's original representation: gzip-archived blobs
// are expanded transparently.
func (s *FileService) Download(ctx context.Context, principalID, fileID string, origin audit.Origin) (io.ReadCloser, *database.File, error) {
	file, decision, err := s.shares.ResolveAccess(ctx, principalID, fileID, core.PermissionDownload)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.openBlob(ctx, file)
	if err != nil {
		return nil, nil, err
	}

	s.sink.Record(ctx, audit.Event{
		Actor:  principalID,
		Action: audit.ActionDownload,
		FileID: file.ID,
		Detail: fmt.Sprintf("via %s", decision.Via),
		Origin: origin,
	})
	return rc, file, nil
}

// DownloadViaLink serves a file through a bearer-link share. The link
// resolution itself audits the access.
func (s *FileService) DownloadViaLink(ctx context.Context, principalID, token string, origin audit.Origin) (io.ReadCloser, *database.File, error) {
	_, file, err := s.shares.ResolveLinkDownload(ctx, principalID, token, origin)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.openBlob(ctx, file)
	if err != nil {
		return nil, nil, err
	}
	return rc, file, nil
}

// GetViaLink returns file metadata through a bearer-link share.
func (s *FileService) GetViaLink(ctx context.Context, principalID, token string, origin audit.Origin) (*database.File, error) {
	_, file, err := s.shares.ResolveLinkAccess(ctx, principalID, token, origin)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ListByOwner returns a page of the owner's files.
func (s *FileService) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*database.File, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.files.ListByOwner(ctx, ownerID, limit, offset)
}

// Delete removes a file and, by cascade, all its shares. Owner only.
// Orphaned blobs are preferred over orphaned records, so the blob delete
// is best-effort.
func (s *FileService) Delete(ctx context.Context, ownerID, fileID string, origin audit.Origin) error {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load file: %w", err)
	}
	if file.OwnerID != ownerID {
		return ErrNotOwner
	}

	if err := s.blobs.Delete(ctx, file.StoragePath); err != nil {
		slog.Error("failed to delete blob", "path", file.StoragePath, "error", err)
	}

	if err := s.files.Delete(ctx, file.ID); err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	s.sink.Record(ctx, audit.Event{
		Actor:  ownerID,
		Action: audit.ActionDelete,
		FileID: file.ID,
		Detail: file.Name,
		Origin: origin,
	})
	return nil
}

func (s *FileService) openBlob(ctx context.Context, file *database.File) (io.ReadCloser, error) {
	rc, err := s.blobs.Open(ctx, file.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	expanded, err := compress.Expand(rc, file.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to expand blob: %w", err)
	}
	return expanded, nil
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes before calling filepath.Base,
	// which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		// A dot-led tail can be arbitrarily long and is then not a real
		// extension; plain byte truncation applies instead.
		if len(ext) > 32 {
			ext = ""
		}
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}

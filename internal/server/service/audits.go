package service

import (
	"context"
	"errors"
	"fmt"

	"coffer/internal/server/database"
)

// AuditReader is the read side of the trail; *database.AuditRepository
// satisfies it.
type AuditReader interface {
	ListByFile(ctx context.Context, fileID string, limit, offset int) ([]*database.AuditEntry, error)
	ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*database.AuditEntry, error)
}

// AuditQueryService serves read access to the audit trail. File trails
// are owner-only; principal trails cover only the caller's own actions.
type AuditQueryService struct {
	audits AuditReader
	files  FileGetter
}

// NewAuditQueryService creates a new audit query service.
func NewAuditQueryService(audits AuditReader, files FileGetter) *AuditQueryService {
	return &AuditQueryService{audits: audits, files: files}
}

// FileTrail returns a page of a file's audit trail, newest first.
func (s *AuditQueryService) FileTrail(ctx context.Context, principalID, fileID string, limit, offset int) ([]*database.AuditEntry, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	if file.OwnerID != principalID {
		return nil, ErrNotOwner
	}

	limit, offset = clampPage(limit, offset)
	return s.audits.ListByFile(ctx, fileID, limit, offset)
}

// ActorTrail returns a page of the caller's own trail, newest first.
func (s *AuditQueryService) ActorTrail(ctx context.Context, principalID string, limit, offset int) ([]*database.AuditEntry, error) {
	if principalID == "" {
		return nil, ErrNotAuthenticated
	}
	limit, offset = clampPage(limit, offset)
	return s.audits.ListByActor(ctx, principalID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

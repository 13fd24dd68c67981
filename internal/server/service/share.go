package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"coffer/internal/core"
	"coffer/internal/server/audit"
	"coffer/internal/server/database"
)

// maxTokenAttempts bounds the collision-retry loop on link creation. The
// token space is 128 bits; hitting this limit means something is badly
// wrong with the random source, not bad luck.
const maxTokenAttempts = 5

// ShareStore is the persistence seam for share records;
// *database.ShareRepository satisfies it.
type ShareStore interface {
	Create(ctx context.Context, share *database.Share) error
	UpsertUserShare(ctx context.Context, share *database.Share, permSupplied, expirySupplied bool) (*database.Share, error)
	GetByID(ctx context.Context, id string) (*database.Share, error)
	GetUserShare(ctx context.Context, fileID, targetID string) (*database.Share, error)
	GetByToken(ctx context.Context, token string) (*database.Share, error)
	ListByFile(ctx context.Context, fileID string) ([]*database.Share, error)
	Deactivate(ctx context.Context, id string) error
	SetExpiration(ctx context.Context, id string, expiresAt *time.Time) error
}

// FileGetter is the slice of the file store the lifecycle manager needs.
type FileGetter interface {
	GetByID(ctx context.Context, id string) (*database.File, error)
}

// AuditRecorder is the fire-and-continue audit seam; *audit.Sink
// satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Event)
}

// GrantOptions carries the optional parts of a grant. A nil Permission
// means "view" on a fresh grant and "keep the current level" on a
// re-grant; a nil ExpiresAt means "never expires" on a fresh grant and
// "keep the current expiry" on a re-grant (UpdateExpiration clears one
// explicitly).
type GrantOptions struct {
	Permission *core.Permission
	ExpiresAt  *time.Time
}

// ShareService owns the share lifecycle: creation, idempotent re-grant,
// revocation, expiration updates, and access resolution. Every mutating
// action lands on the audit trail; audit failures never block the
// mutation.
type ShareService struct {
	shares ShareStore
	files  FileGetter
	sink   AuditRecorder
	clock  core.Clock
}

// NewShareService creates a new share lifecycle manager.
func NewShareService(shares ShareStore, files FileGetter, sink AuditRecorder, clock core.Clock) *ShareService {
	return &ShareService{shares: shares, files: files, sink: sink, clock: clock}
}

// GrantToUser grants or re-grants targetID access to a file. Re-granting
// updates the existing share in place and reactivates it; two concurrent
// grants collapse onto one row via the store's upsert.
func (s *ShareService) GrantToUser(ctx context.Context, ownerID, fileID, targetID string, opts GrantOptions, origin audit.Origin) (*database.Share, error) {
	file, err := s.ownedFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	if targetID == ownerID {
		return nil, ErrSelfShare
	}

	perm := core.PermissionView
	if opts.Permission != nil {
		perm = *opts.Permission
	}

	now := s.clock.Now().UTC()
	share := &database.Share{
		ID:         uuid.NewString(),
		FileID:     file.ID,
		OwnerID:    ownerID,
		Kind:       string(core.ShareKindUser),
		TargetID:   &targetID,
		Permission: perm.String(),
		ExpiresAt:  opts.ExpiresAt,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	result, err := s.shares.UpsertUserShare(ctx, share, opts.Permission != nil, opts.ExpiresAt != nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user share: %w", err)
	}

	s.sink.Record(ctx, audit.Event{
		Actor:   ownerID,
		Action:  audit.ActionShareUser,
		FileID:  file.ID,
		ShareID: result.ID,
		Detail:  fmt.Sprintf("granted %s to %s", result.Permission, targetID),
		Origin:  origin,
	})
	return result, nil
}

// GrantViaLink creates a new bearer-link share. Links are never
// deduplicated: every call mints an independent share with a fresh token.
// A store-level token collision is retried with a new token, never
// surfaced.
func (s *ShareService) GrantViaLink(ctx context.Context, ownerID, fileID string, opts GrantOptions, origin audit.Origin) (*database.Share, error) {
	file, err := s.ownedFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	perm := core.PermissionView
	if opts.Permission != nil {
		perm = *opts.Permission
	}

	var share *database.Share
	for attempt := 0; ; attempt++ {
		token, err := core.IssueLinkToken()
		if err != nil {
			return nil, fmt.Errorf("failed to issue link token: %w", err)
		}

		now := s.clock.Now().UTC()
		share = &database.Share{
			ID:         uuid.NewString(),
			FileID:     file.ID,
			OwnerID:    ownerID,
			Kind:       string(core.ShareKindLink),
			LinkToken:  &token,
			Permission: perm.String(),
			ExpiresAt:  opts.ExpiresAt,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = s.shares.Create(ctx, share)
		if err == nil {
			break
		}
		if database.IsUniqueViolation(err) && attempt < maxTokenAttempts-1 {
			slog.Warn("link token collision, reissuing", "file_id", file.ID, "attempt", attempt+1)
			continue
		}
		return nil, fmt.Errorf("failed to create link share: %w", err)
	}

	s.sink.Record(ctx, audit.Event{
		Actor:   ownerID,
		Action:  audit.ActionShareLink,
		FileID:  file.ID,
		ShareID: share.ID,
		Detail:  fmt.Sprintf("created %s link", share.Permission),
		Origin:  origin,
	})
	return share, nil
}

// Revoke deactivates a share. Immediate and irreversible: only a fresh
// grant restores access. Idempotent for already-inactive shares.
func (s *ShareService) Revoke(ctx context.Context, ownerID, shareID string, origin audit.Origin) error {
	share, err := s.ownedShare(ctx, ownerID, shareID)
	if err != nil {
		return err
	}

	if err := s.shares.Deactivate(ctx, share.ID); err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to revoke share: %w", err)
	}

	s.sink.Record(ctx, audit.Event{
		Actor:   ownerID,
		Action:  audit.ActionRevoke,
		FileID:  share.FileID,
		ShareID: share.ID,
		Origin:  origin,
	})
	return nil
}

// UpdateExpiration replaces a share's expiration instant. nil means the
// share never expires. The active flag is not touched.
func (s *ShareService) UpdateExpiration(ctx context.Context, ownerID, shareID string, expiresAt *time.Time) error {
	share, err := s.ownedShare(ctx, ownerID, shareID)
	if err != nil {
		return err
	}

	if err := s.shares.SetExpiration(ctx, share.ID, expiresAt); err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update expiration: %w", err)
	}
	return nil
}

// ListForFile returns all shares on a file. Owner only.
func (s *ShareService) ListForFile(ctx context.Context, ownerID, fileID string) ([]*database.Share, error) {
	file, err := s.ownedFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	shares, err := s.shares.ListByFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	return shares, nil
}

// ResolveAccess computes the effective permission for principalID on
// fileID and checks it against the requested level. Liveness (active flag
// and expiry) is decided here at read time; physical deletion of expired
// rows is a detached concern this path never relies on. The error reports
// why access was denied: ErrNotFound for no live grant, ErrExpired when
// the only grant has lapsed, ErrInsufficientPermission when a live grant
// is too low. Download requests against view grants are denied, never
// downgraded.
func (s *ShareService) ResolveAccess(ctx context.Context, principalID, fileID string, requested core.Permission) (*database.File, core.Decision, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, core.Decision{}, ErrNotFound
		}
		return nil, core.Decision{}, fmt.Errorf("failed to load file: %w", err)
	}

	if principalID != "" && principalID == file.OwnerID {
		return file, core.Decision{Permission: core.PermissionDownload, Via: core.GrantOwner}, nil
	}
	if principalID == "" {
		return nil, core.Decision{}, ErrNotAuthenticated
	}

	share, err := s.shares.GetUserShare(ctx, file.ID, principalID)
	if err != nil && !errors.Is(err, database.ErrShareNotFound) {
		return nil, core.Decision{}, fmt.Errorf("failed to load share: %w", err)
	}

	var grant *core.ShareGrant
	if share != nil {
		grant = share.Grant()
	}

	now := s.clock.Now()
	decision := core.Resolve(principalID, file.OwnerID, grant, now)
	if decision.Permission == core.PermissionNone {
		if grant != nil && grant.Active && grant.Expired(now) {
			return nil, core.Decision{}, ErrExpired
		}
		return nil, core.Decision{}, ErrNotFound
	}
	if !decision.Permission.Allows(requested) {
		return nil, core.Decision{}, ErrInsufficientPermission
	}
	return file, decision, nil
}

// ResolveLinkAccess redeems a bearer token for view-level access. The
// token alone is insufficient: an authenticated principal is required.
// Each successful resolution lands on the audit trail.
func (s *ShareService) ResolveLinkAccess(ctx context.Context, principalID, token string, origin audit.Origin) (*database.Share, *database.File, error) {
	return s.resolveLink(ctx, principalID, token, core.PermissionView, origin)
}

// ResolveLinkDownload is ResolveLinkAccess with a download requirement:
// a view-only link yields ErrInsufficientPermission.
func (s *ShareService) ResolveLinkDownload(ctx context.Context, principalID, token string, origin audit.Origin) (*database.Share, *database.File, error) {
	return s.resolveLink(ctx, principalID, token, core.PermissionDownload, origin)
}

func (s *ShareService) resolveLink(ctx context.Context, principalID, token string, requested core.Permission, origin audit.Origin) (*database.Share, *database.File, error) {
	if principalID == "" {
		return nil, nil, ErrNotAuthenticated
	}
	if token == "" {
		return nil, nil, ErrNotFound
	}

	share, err := s.shares.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to load share: %w", err)
	}

	grant := share.Grant()
	now := s.clock.Now()
	if !share.Active {
		return nil, nil, ErrNotFound
	}
	if grant.Expired(now) {
		return nil, nil, ErrExpired
	}
	if !grant.Permission.Allows(requested) {
		return nil, nil, ErrInsufficientPermission
	}

	file, err := s.files.GetByID(ctx, share.FileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to load file: %w", err)
	}

	s.sink.Record(ctx, audit.Event{
		Actor:   principalID,
		Action:  audit.ActionLinkAccess,
		FileID:  file.ID,
		ShareID: share.ID,
		Detail:  fmt.Sprintf("redeemed %s link", share.Permission),
		Origin:  origin,
	})
	return share, file, nil
}

func (s *ShareService) ownedFile(ctx context.Context, ownerID, fileID string) (*database.File, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	if file.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return file, nil
}

func (s *ShareService) ownedShare(ctx context.Context, ownerID, shareID string) (*database.Share, error) {
	share, err := s.shares.GetByID(ctx, shareID)
	if err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load share: %w", err)
	}
	if share.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return share, nil
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrShareNotFound = errors.New("share not found")

// ShareRepository provides operations on share records. The two unique
// indexes declared in the migrations make UpsertUserShare and Create
// race-safe: concurrent re-grants collapse onto one row, and a token
// collision surfaces as a unique violation for the caller to retry.
type ShareRepository struct {
	db *DB
}

// NewShareRepository creates a new ShareRepository.
func NewShareRepository(db *DB) *ShareRepository {
	return &ShareRepository{db: db}
}

const shareColumns = `id, file_id, owner_id, kind, target_id, link_token,
	permission, expires_at, active, created_at, updated_at`

func scanShare(row pgx.Row) (*Share, error) {
	share := &Share{}
	err := row.Scan(
		&share.ID,
		&share.FileID,
		&share.OwnerID,
		&share.Kind,
		&share.TargetID,
		&share.LinkToken,
		&share.Permission,
		&share.ExpiresAt,
		&share.Active,
		&share.CreatedAt,
		&share.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to scan share: %w", err)
	}
	return share, nil
}

// Create inserts a new share record. A unique violation on the link token
// index is returned as-is so the caller can reissue and retry.
func (r *ShareRepository) Create(ctx context.Context, share *Share) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO shares (
			id, file_id, owner_id, kind, target_id, link_token,
			permission, expires_at, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		share.ID,
		share.FileID,
		share.OwnerID,
		share.Kind,
		share.TargetID,
		share.LinkToken,
		share.Permission,
		share.ExpiresAt,
		share.Active,
		share.CreatedAt,
		share.UpdatedAt,
	)
	return err
}

// UpsertUserShare atomically creates or re-grants a user share for
// (file, target). The partial unique index is the conflict target, so two
// concurrent grants can never produce two rows. When permSupplied or
// expirySupplied is false, the existing value survives a re-grant; the
// active flag is always forced back to true. Returns the resulting row.
func (r *ShareRepository) UpsertUserShare(ctx context.Context, share *Share, permSupplied, expirySupplied bool) (*Share, error) {
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO shares (
			id, file_id, owner_id, kind, target_id, link_token,
			permission, expires_at, active, created_at, updated_at
		) VALUES ($1, $2, $3, 'user', $4, NULL, $5, $6, TRUE, $7, $7)
		ON CONFLICT (file_id, target_id) WHERE kind = 'user'
		DO UPDATE SET
			permission = CASE WHEN $8 THEN EXCLUDED.permission ELSE shares.permission END,
			expires_at = CASE WHEN $9 THEN EXCLUDED.expires_at ELSE shares.expires_at END,
			active     = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING `+shareColumns,
		share.ID,
		share.FileID,
		share.OwnerID,
		share.TargetID,
		share.Permission,
		share.ExpiresAt,
		share.UpdatedAt,
		permSupplied,
		expirySupplied,
	)
	return scanShare(row)
}

// GetByID retrieves a share by its ID.
func (r *ShareRepository) GetByID(ctx context.Context, id string) (*Share, error) {
	return scanShare(r.db.Pool.QueryRow(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE id = $1", id))
}

// GetUserShare retrieves the unique user-kind share for (file, target),
// regardless of active flag or expiry; liveness is decided at read time by
// the resolver, never by physical presence.
func (r *ShareRepository) GetUserShare(ctx context.Context, fileID, targetID string) (*Share, error) {
	return scanShare(r.db.Pool.QueryRow(ctx,
		"SELECT "+shareColumns+` FROM shares
		WHERE file_id = $1 AND target_id = $2 AND kind = 'user'`,
		fileID, targetID))
}

// GetByToken retrieves a link-kind share by its bearer token.
func (r *ShareRepository) GetByToken(ctx context.Context, token string) (*Share, error) {
	return scanShare(r.db.Pool.QueryRow(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE link_token = $1 AND kind = 'link'",
		token))
}

// ListByFile returns all shares on a file, newest first.
func (r *ShareRepository) ListByFile(ctx context.Context, fileID string) ([]*Share, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+shareColumns+" FROM shares WHERE file_id = $1 ORDER BY created_at DESC",
		fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	var shares []*Share
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

// Deactivate sets active=false. Idempotent: deactivating an already
// inactive share succeeds.
func (r *ShareRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE shares SET active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

// SetExpiration replaces the expiration instant. A nil value means the
// share never expires. The active flag is untouched.
func (r *ShareRepository) SetExpiration(ctx context.Context, id string, expiresAt *time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE shares SET expires_at = $2, updated_at = NOW() WHERE id = $1",
		id, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set expiration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

// DeleteExpiredBefore physically removes shares whose expiry passed before
// cutoff. Purely a hygiene operation for the background sweep; access
// control never depends on these rows being gone.
func (r *ShareRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		"DELETE FROM shares WHERE expires_at IS NOT NULL AND expires_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired shares: %w", err)
	}
	return tag.RowsAffected(), nil
}

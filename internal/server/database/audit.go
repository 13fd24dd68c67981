package database

import (
	"context"
	"fmt"
)

// AuditRepository is the insert-only store behind the audit sink. Entries
// are never updated or deleted; reads are paginated reverse-chronological
// with the row sequence breaking timestamp ties.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `id, actor_id, action, file_id, share_id, detail, ip,
	user_agent, recorded_at`

// Insert appends one entry.
func (r *AuditRepository) Insert(ctx context.Context, entry *AuditEntry) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO audit_log (
			actor_id, action, file_id, share_id, detail, ip, user_agent, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		entry.ActorID,
		entry.Action,
		entry.FileID,
		entry.ShareID,
		entry.Detail,
		entry.IP,
		entry.UserAgent,
		entry.RecordedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListByFile returns a page of a file's trail, newest first.
func (r *AuditRepository) ListByFile(ctx context.Context, fileID string, limit, offset int) ([]*AuditEntry, error) {
	return r.list(ctx,
		"SELECT "+auditColumns+` FROM audit_log
		WHERE file_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		fileID, limit, offset)
}

// ListByActor returns a page of a principal's trail, newest first.
func (r *AuditRepository) ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*AuditEntry, error) {
	return r.list(ctx,
		"SELECT "+auditColumns+` FROM audit_log
		WHERE actor_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		actorID, limit, offset)
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]*AuditEntry, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.ActorID,
			&entry.Action,
			&entry.FileID,
			&entry.ShareID,
			&entry.Detail,
			&entry.IP,
			&entry.UserAgent,
			&entry.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

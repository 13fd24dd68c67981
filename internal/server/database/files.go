package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrFileNotFound = errors.New("file not found")

// FileRepository provides CRUD operations for file records.
type FileRepository struct {
	db *DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, owner_id, name, content_type, size, original_size,
	encoding, storage_path, compressed, created_at`

// Create inserts a new file record.
func (r *FileRepository) Create(ctx context.Context, file *File) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO files (
			id, owner_id, name, content_type, size, original_size,
			encoding, storage_path, compressed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		file.ID,
		file.OwnerID,
		file.Name,
		file.ContentType,
		file.Size,
		file.OriginalSize,
		file.Encoding,
		file.StoragePath,
		file.Compressed,
		file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetByID retrieves a file by its ID.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*File, error) {
	file := &File{}
	err := r.db.Pool.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id = $1", id,
	).Scan(
		&file.ID,
		&file.OwnerID,
		&file.Name,
		&file.ContentType,
		&file.Size,
		&file.OriginalSize,
		&file.Encoding,
		&file.StoragePath,
		&file.Compressed,
		&file.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

// ListByOwner returns a page of an owner's files, newest first.
func (r *FileRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*File, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+fileColumns+` FROM files
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file := &File{}
		if err := rows.Scan(
			&file.ID,
			&file.OwnerID,
			&file.Name,
			&file.ContentType,
			&file.Size,
			&file.OriginalSize,
			&file.Encoding,
			&file.StoragePath,
			&file.Compressed,
			&file.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// Delete removes a file record; associated shares cascade.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM files WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

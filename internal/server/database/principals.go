package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var ErrPrincipalNotFound = errors.New("principal not found")

// PrincipalRepository provides CRUD operations for principals.
type PrincipalRepository struct {
	db *DB
}

// NewPrincipalRepository creates a new PrincipalRepository.
func NewPrincipalRepository(db *DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// Create inserts a new principal. A unique violation on username is
// returned as-is for the caller to map.
func (r *PrincipalRepository) Create(ctx context.Context, p *Principal) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO principals (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, p.ID, p.Username, p.PasswordHash, p.CreatedAt)
	return err
}

// GetByID retrieves a principal by ID.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*Principal, error) {
	return r.get(ctx, "SELECT id, username, password_hash, created_at FROM principals WHERE id = $1", id)
}

// GetByUsername retrieves a principal by username.
func (r *PrincipalRepository) GetByUsername(ctx context.Context, username string) (*Principal, error) {
	return r.get(ctx, "SELECT id, username, password_hash, created_at FROM principals WHERE username = $1", username)
}

func (r *PrincipalRepository) get(ctx context.Context, query string, arg any) (*Principal, error) {
	p := &Principal{}
	err := r.db.Pool.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Username, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}

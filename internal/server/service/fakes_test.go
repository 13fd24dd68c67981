package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"coffer/internal/server/audit"
	"coffer/internal/server/database"
)

// uniqueViolation mimics the Postgres error the repositories surface on
// constraint conflicts, so IsUniqueViolation-based retry paths are
// exercised for real.
func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

// memShareStore is an in-memory ShareStore enforcing the same uniqueness
// constraints the migrations declare.
type memShareStore struct {
	mu     sync.Mutex
	shares map[string]*database.Share

	// forceCollisions makes the next N Create calls fail with a unique
	// violation, to exercise the token retry loop.
	forceCollisions int
}

func newMemShareStore() *memShareStore {
	return &memShareStore{shares: make(map[string]*database.Share)}
}

func (m *memShareStore) clone(s *database.Share) *database.Share {
	c := *s
	return &c
}

func (m *memShareStore) Create(ctx context.Context, share *database.Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.forceCollisions > 0 {
		m.forceCollisions--
		return uniqueViolation()
	}
	for _, existing := range m.shares {
		if share.LinkToken != nil && existing.LinkToken != nil && *existing.LinkToken == *share.LinkToken {
			return uniqueViolation()
		}
		if share.Kind == "user" && existing.Kind == "user" &&
			existing.FileID == share.FileID && *existing.TargetID == *share.TargetID {
			return uniqueViolation()
		}
	}
	m.shares[share.ID] = m.clone(share)
	return nil
}

func (m *memShareStore) UpsertUserShare(ctx context.Context, share *database.Share, permSupplied, expirySupplied bool) (*database.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.shares {
		if existing.Kind == "user" && existing.FileID == share.FileID && *existing.TargetID == *share.TargetID {
			if permSupplied {
				existing.Permission = share.Permission
			}
			if expirySupplied {
				existing.ExpiresAt = share.ExpiresAt
			}
			existing.Active = true
			existing.UpdatedAt = share.UpdatedAt
			return m.clone(existing), nil
		}
	}
	m.shares[share.ID] = m.clone(share)
	return m.clone(share), nil
}

func (m *memShareStore) GetByID(ctx context.Context, id string) (*database.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shares[id]; ok {
		return m.clone(s), nil
	}
	return nil, database.ErrShareNotFound
}

func (m *memShareStore) GetUserShare(ctx context.Context, fileID, targetID string) (*database.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shares {
		if s.Kind == "user" && s.FileID == fileID && s.TargetID != nil && *s.TargetID == targetID {
			return m.clone(s), nil
		}
	}
	return nil, database.ErrShareNotFound
}

func (m *memShareStore) GetByToken(ctx context.Context, token string) (*database.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shares {
		if s.Kind == "link" && s.LinkToken != nil && *s.LinkToken == token {
			return m.clone(s), nil
		}
	}
	return nil, database.ErrShareNotFound
}

func (m *memShareStore) ListByFile(ctx context.Context, fileID string) ([]*database.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Share
	for _, s := range m.shares {
		if s.FileID == fileID {
			out = append(out, m.clone(s))
		}
	}
	return out, nil
}

func (m *memShareStore) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[id]
	if !ok {
		return database.ErrShareNotFound
	}
	s.Active = false
	return nil
}

func (m *memShareStore) SetExpiration(ctx context.Context, id string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[id]
	if !ok {
		return database.ErrShareNotFound
	}
	s.ExpiresAt = expiresAt
	return nil
}

func (m *memShareStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, s := range m.shares {
		if s.ExpiresAt != nil && s.ExpiresAt.Before(cutoff) {
			delete(m.shares, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memShareStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shares)
}

// memFileStore is an in-memory FileStore.
type memFileStore struct {
	mu    sync.Mutex
	files map[string]*database.File
}

func newMemFileStore() *memFileStore {
	return &memFileStore{files: make(map[string]*database.File)}
}

func (m *memFileStore) Create(ctx context.Context, file *database.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *file
	m.files[file.ID] = &c
	return nil
}

func (m *memFileStore) GetByID(ctx context.Context, id string) (*database.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		c := *f
		return &c, nil
	}
	return nil, database.ErrFileNotFound
}

func (m *memFileStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*database.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.File
	for _, f := range m.files {
		if f.OwnerID == ownerID {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memFileStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return database.ErrFileNotFound
	}
	delete(m.files, id)
	return nil
}

// memSink records events in order for assertions.
type memSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memSink) Record(ctx context.Context, e audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memSink) byAction(action audit.Action) []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Event
	for _, e := range m.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// memBlobStore is an in-memory BlobStore.
type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Save(ctx context.Context, key string, data io.Reader) (int64, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = buf
	return int64(len(buf)), nil
}

func (m *memBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *memBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// memPrincipalStore is an in-memory PrincipalStore that enforces the
// username unique constraint.
type memPrincipalStore struct {
	mu         sync.Mutex
	principals map[string]*database.Principal
}

func newMemPrincipalStore() *memPrincipalStore {
	return &memPrincipalStore{principals: make(map[string]*database.Principal)}
}

func (m *memPrincipalStore) Create(ctx context.Context, p *database.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.Username == p.Username {
			return uniqueViolation()
		}
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *memPrincipalStore) GetByID(ctx context.Context, id string) (*database.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, database.ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipalStore) GetByUsername(ctx context.Context, username string) (*database.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, database.ErrPrincipalNotFound
}

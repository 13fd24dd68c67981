package database

import (
	"time"

	"coffer/internal/core"
)

// Principal is an authenticated identity that can own files and receive
// shares.
type Principal struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// File represents one stored object. Size, encoding and the compression
// flag are fixed at ingestion and never mutated afterward.
type File struct {
	ID           string
	OwnerID      string
	Name         string
	ContentType  string
	Size         int64
	OriginalSize *int64 // set only when a compression transform was kept
	Encoding     string // "identity" or "gzip"
	StoragePath  string
	Compressed   bool
	CreatedAt    time.Time
}

// Share is one grant of access to a file. Kind "user" targets a principal;
// kind "link" is redeemed by bearer token. Active and expiry are
// independent axes: both must hold for a share to confer access.
type Share struct {
	ID         string
	FileID     string
	OwnerID    string
	Kind       string
	TargetID   *string // present iff kind = user
	LinkToken  *string // present iff kind = link
	Permission string
	ExpiresAt  *time.Time // nil means never expires
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Grant converts the record into the resolver's view. Unknown permission
// strings degrade to none rather than erroring; they cannot occur through
// normal writes.
func (s *Share) Grant() *core.ShareGrant {
	perm, err := core.ParsePermission(s.Permission)
	if err != nil {
		perm = core.PermissionNone
	}
	return &core.ShareGrant{
		Kind:       core.ShareKind(s.Kind),
		Permission: perm,
		Active:     s.Active,
		ExpiresAt:  s.ExpiresAt,
	}
}

// AuditEntry is one immutable row of the access trail. No update or delete
// path exists for this entity.
type AuditEntry struct {
	ID         int64
	ActorID    string
	Action     string
	FileID     *string
	ShareID    *string
	Detail     string
	IP         string
	UserAgent  string
	RecordedAt time.Time
}

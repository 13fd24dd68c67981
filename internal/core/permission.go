package core

import (
	"fmt"
	"time"
)

// Permission is the level of access a grant confers. Levels form a total
// order: None < View < Download.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionView
	PermissionDownload
)

func (p Permission) String() string {
	switch p {
	case PermissionView:
		return "view"
	case PermissionDownload:
		return "download"
	default:
		return "none"
	}
}

// Allows reports whether a grant at level p satisfies a request for
// level requested. A download grant covers view; the reverse does not hold.
func (p Permission) Allows(requested Permission) bool {
	return p >= requested
}

// ParsePermission maps the wire/database representation back to a Permission.
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "view":
		return PermissionView, nil
	case "download":
		return PermissionDownload, nil
	case "none":
		return PermissionNone, nil
	default:
		return PermissionNone, fmt.Errorf("unknown permission %q", s)
	}
}

// GrantPath records how an access decision was reached.
type GrantPath string

const (
	GrantNone      GrantPath = "none"
	GrantOwner     GrantPath = "owner"
	GrantUserShare GrantPath = "user-share"
	GrantLinkShare GrantPath = "link-share"
)

// ShareKind distinguishes user-targeted shares from bearer-link shares.
type ShareKind string

const (
	ShareKindUser ShareKind = "user"
	ShareKindLink ShareKind = "link"
)

// ShareGrant is the resolver's view of a share record: just the fields
// that matter for an access decision.
type ShareGrant struct {
	Kind       ShareKind
	Permission Permission
	Active     bool
	ExpiresAt  *time.Time
}

// Expired reports whether the grant is logically expired at instant now.
// The boundary is strict: a grant whose expiry equals now is still valid,
// it expires one instant later. A nil expiry never expires.
func (g *ShareGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// Live reports whether the grant confers any access at instant now.
// Active and unexpired are independent axes; both must hold.
func (g *ShareGrant) Live(now time.Time) bool {
	return g.Active && !g.Expired(now)
}

// Decision is the outcome of resolving a (principal, file) pair.
type Decision struct {
	Permission Permission
	Via        GrantPath
}

// Resolve computes the effective permission for a principal on a file owned
// by ownerID, given the most specific applicable share (nil when none
// exists). Owners bypass share state entirely. The caller supplies now so
// expiry is decided at read time against an injected clock.
func Resolve(principalID, ownerID string, share *ShareGrant, now time.Time) Decision {
	if principalID != "" && principalID == ownerID {
		return Decision{Permission: PermissionDownload, Via: GrantOwner}
	}
	if share == nil || !share.Live(now) {
		return Decision{Permission: PermissionNone, Via: GrantNone}
	}
	via := GrantUserShare
	if share.Kind == ShareKindLink {
		via = GrantLinkShare
	}
	return Decision{Permission: share.Permission, Via: via}
}

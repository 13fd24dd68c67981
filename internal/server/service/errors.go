package service

import "errors"

// Sentinel errors for the service layer. All are deterministic client
// errors, never retried internally; token collisions are the one internal
// retry and are never surfaced.
var (
	ErrNotOwner               = errors.New("principal does not own the target")
	ErrSelfShare              = errors.New("cannot share a file with its owner")
	ErrNotFound               = errors.New("file or share not found")
	ErrExpired                = errors.New("share has expired")
	ErrInsufficientPermission = errors.New("share permission too low for requested action")
	ErrNotAuthenticated       = errors.New("authenticated principal required")
	ErrFileTooLarge           = errors.New("file exceeds maximum allowed size")
	ErrInvalidCredentials     = errors.New("invalid username or password")
	ErrUsernameTaken          = errors.New("username already taken")
)

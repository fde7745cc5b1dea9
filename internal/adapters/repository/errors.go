package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = errors.New("trader not found")
	ErrInvalidLimit = errors.New("invalid ranking limit")
	ErrInvalidKey   = errors.New("invalid trader key")
	ErrClosed       = errors.New("repository closed")
)

package domain

import "errors"

var (
	// ErrConfig marks a missing or invalid setting. Fatal at startup.
	ErrConfig = errors.New("configuration error")
	// ErrNotFound is returned by gateway lookups for unknown resources.
	ErrNotFound = errors.New("not found")
	// ErrHandleGone means a cached webhook was removed on the platform side.
	ErrHandleGone = errors.New("delivery handle no longer exists")
)

package registry

import "errors"

var (
	// ErrNotFound means a referenced client or session id is not registered.
	ErrNotFound = errors.New("not found")
)

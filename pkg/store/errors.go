package store

import "errors"

// Rule violations surface as sentinel values so callers can branch with
// errors.Is and the HTTP layer can map them to status codes at the edge.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
)

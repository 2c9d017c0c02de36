package domain

import "errors"

var (
	// ErrNotFound is returned when a build, snapshot, maintenance record or note does not exist,
	// or when a snapshot does not belong to the build it was requested for.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the acting user does not own the build.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned for malformed request values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidSnapshotType is returned for tags outside the snapshot vocabulary.
	ErrInvalidSnapshotType = errors.New("invalid snapshot type")
	// ErrInvalidFieldPath is returned when the first segment of a field path names no build column.
	ErrInvalidFieldPath = errors.New("invalid field path")
)

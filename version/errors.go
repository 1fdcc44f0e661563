package version

import "errors"

// Error codes surfaced to callers, per §6. All are sentinel values meant to
// be compared with errors.Is after a wrapping %w, the way the teacher
// compares against snapshot.ErrSnapshotStale etc.
var (
	ErrNotFound        = errors.New("version: not found")
	ErrInvalidArgument = errors.New("version: invalid argument")
	ErrBusy            = errors.New("version: busy")
	ErrOverLimit       = errors.New("version: over limit")
	ErrOutOfMemory     = errors.New("version: out of memory")
	ErrPersistence     = errors.New("version: persistence error")
	ErrRuleViolation   = errors.New("version: rule violation")

	// ErrAlreadyExists is returned by Store.Insert for a duplicate id.
	ErrAlreadyExists = errors.New("version: already exists")

	// ErrAlreadyInitialized is returned by a second call to ZeroInit.
	ErrAlreadyInitialized = errors.New("version: already initialized")
)

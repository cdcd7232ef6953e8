package fs

type ErrorCategory string

const (
	ErrEmptyPath   ErrorCategory = "fs-empty-path"   // Raised when a path is required but an empty string was given.
	ErrNotAbsolute ErrorCategory = "fs-not-absolute" // Raised when a path must be absolute but isn't.
)

package engine

import "errors"

var (
	// ErrSourceNotFound is returned when the backup source does not exist at
	// run start. The destination is left untouched.
	ErrSourceNotFound = errors.New("source not found")

	// ErrInvalidConfig is returned for option combinations that cannot be
	// executed. It is reported before any filesystem access.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingParent marks a transfer attempt that failed because the
	// destination's parent directory does not exist.
	ErrMissingParent = errors.New("missing parent directory")

	// ErrTransfer wraps every unrecovered copy, create or delete failure.
	ErrTransfer = errors.New("transfer failed")
)

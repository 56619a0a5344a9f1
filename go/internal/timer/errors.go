package timer

import "errors"

var (
	// ErrValidation is returned when a command has an invalid shape
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when the referenced schedule item does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when the current state forbids the transition
	ErrInvalidState = errors.New("invalid state transition")

	// ErrStoreFailure is returned when the timer store rejected the write.
	// Nothing was committed.
	ErrStoreFailure = errors.New("timer store failure")

	// ErrTimerNotFound is returned by the repository when no row exists yet
	ErrTimerNotFound = errors.New("timer not found")

	// ErrVersionConflict is returned by the repository when the stored timer
	// is no longer the version the write was computed from
	ErrVersionConflict = errors.New("timer version conflict")
)

package model

import "errors"

// Sentinel errors shared across the lock, lifecycle and unlock services.
// Callers match them with errors.Is after any amount of wrapping.
var (
	// ErrNotFound reports a missing project, instance or operation.
	ErrNotFound = errors.New("not found")

	// ErrLocked reports that an instance carries an active lock and the
	// requested operation refuses to proceed.
	ErrLocked = errors.New("instance is locked")

	// ErrLockLost reports a token mismatch or a missing lock row during a
	// checked unlock. Nothing is mutated when it is returned.
	ErrLockLost = errors.New("lock lost")

	// ErrAborted reports caller-requested cancellation of the blocking
	// lock loop.
	ErrAborted = errors.New("aborted")

	// ErrCannotRemoveLastUnlockMethod guards against removing the final
	// recipient able to decrypt a project's master key.
	ErrCannotRemoveLastUnlockMethod = errors.New("cannot remove the last unlock method")
)

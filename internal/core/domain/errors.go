package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure cases
var (
	// ErrCorruptRecord indicates the stored record could not be decoded
	ErrCorruptRecord = errors.New("stored device name record is corrupt")

	// ErrRefreshInProgress indicates another refresh is already running
	ErrRefreshInProgress = errors.New("refresh already in progress")

	// ErrEmptyTable indicates the remote table parsed to zero entries
	ErrEmptyTable = errors.New("remote table contains no valid entries")

	// ErrStoreClosed indicates the store has been closed
	ErrStoreClosed = errors.New("record store is closed")
)

// FetchError wraps a failure to download the remote table
type FetchError struct {
	URL        string // Source that was requested
	StatusCode int    // HTTP status, 0 when no response was received
	Err        error  // Underlying error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StorageError wraps record store errors with context
type StorageError struct {
	Op  string // Operation that failed (e.g., "load", "save")
	Err error  // Underlying error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors for structured outcomes. Duplicate rejections are not
// errors (they come back as *domain.Match values); these cover everything
// else callers branch on.
var (
	// ErrNotFound indicates the referenced row does not exist in the
	// expected stage table.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates the candidate is missing required fields and
	// was not inserted.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyQueued indicates the row is already queued, claimed, or
	// downloaded and cannot be enqueued again.
	ErrAlreadyQueued = errors.New("already queued or downloaded")

	// ErrNotClaimable indicates a download completion or failure was
	// reported for a row that is not in_progress.
	ErrNotClaimable = errors.New("row is not claimed for download")
)

// wrapDBError adds operation context and converts sql.ErrNoRows to
// ErrNotFound so callers have a single sentinel to test.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

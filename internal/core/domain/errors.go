package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInboxNotFound       = errors.New("inbox document not found")
	ErrNotFoundOrProcessed = errors.New("inbox document not found or already processed")
	ErrDuplicate           = errors.New("inbox document already exists")
	ErrFileGone            = errors.New("file no longer exists")
	ErrLeaseBusy           = errors.New("lease held by another worker")
	ErrLeaseLost           = errors.New("lease no longer held")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTemporary           = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsPermanent reports whether a job error must not be retried by the queue.
func IsPermanent(err error) bool {
	return IsKind(err, ErrFileGone) || IsKind(err, ErrInvalidInput)
}

package gitrepo

import (
	"errors"
	"fmt"
)

// Sentinel errors, checkable with errors.Is(), wrapping underlying go-git
// errors while giving callers a stable API.
var (
	ErrAlreadyUpToDate = errors.New("already up to date")
	ErrAuthRequired    = errors.New("authentication required")
	ErrNotFastForward  = errors.New("not a fast-forward")
	ErrInvalidRef      = errors.New("invalid reference")
	ErrResolveFailed   = errors.New("cannot resolve revision")
	ErrEmptyCommit     = errors.New("no changes staged for commit")
)

// WrapError wraps err with msg while preserving errors.Is() against the
// sentinel errors above.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf is WrapError with a formatted message.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

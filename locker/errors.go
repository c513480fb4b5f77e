package locker

import (
	"errors"
	"fmt"
)

// ErrAlreadyHeld is returned when a session attempts to acquire a resource
// it already holds. Reacquiring usually indicates a caller bug, so it is an
// error rather than a silent no-op.
var ErrAlreadyHeld = errors.New("locker: resource already locked by this session")

// ResourceLockedError reports that a resource is held by another session.
// Holder identifies who to contact; it may be empty if the record vanished
// while composing the error.
type ResourceLockedError struct {
	Name   string
	Key    string
	Holder string
}

func (e *ResourceLockedError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("locker: %s is currently locked", e.Name)
	}
	return fmt.Sprintf("locker: %s is currently locked by %s", e.Name, e.Holder)
}

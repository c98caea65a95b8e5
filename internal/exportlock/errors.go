package exportlock

import (
	"errors"
	"fmt"
	"time"
)

// timeoutError signals that the marker did not appear before the deadline.
type timeoutError struct {
	path      string
	waited    time.Duration
	lockStuck bool
}

func (e *timeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for export of %s by another process", e.waited, e.path)
	if e.lockStuck {
		msg += " (export lock still present)"
	}
	return msg
}

// IsLockTimeout reports whether err is a wait timeout.
func IsLockTimeout(err error) bool {
	var te *timeoutError
	return errors.As(err, &te)
}

// LockStillHeld reports whether a timeout error observed the lock file still present.
func LockStillHeld(err error) bool {
	var te *timeoutError
	if errors.As(err, &te) {
		return te.lockStuck
	}
	return false
}

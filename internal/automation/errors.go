// File: internal/automation/errors.go
package automation

import (
	"errors"
	"fmt"
)

// ErrDesync signals that a mandatory step exhausted its attempts: the screen
// the controller assumed no longer matches the device. The controller catches
// it, runs the recovery sequence and restarts the cycle; it never crosses the
// process boundary.
var ErrDesync = errors.New("desynchronized from device screen")

// ErrFriendSelection stops the run when the manual friend selection sequence
// cannot locate a followed friend even after applying the filter.
var ErrFriendSelection = errors.New("friend selection failed")

// DesyncError carries the phase and template that failed to resolve.
type DesyncError struct {
	Phase    Phase
	Template string
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("%s: mandatory template %q not found in phase %s",
		ErrDesync.Error(), e.Template, e.Phase)
}

func (e *DesyncError) Unwrap() error { return ErrDesync }

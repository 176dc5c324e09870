package call

import (
	"errors"
	"fmt"
)

// ErrAdmissionDenied is the base error for all admission failures: the
// call could not be created given current presence/busy state. The
// specific cause wraps this sentinel so callers can match either the
// class or the exact reason.
var ErrAdmissionDenied = errors.New("admission denied")

var (
	// ErrCalleeOffline means the target user has no live connection.
	ErrCalleeOffline = fmt.Errorf("%w: callee offline", ErrAdmissionDenied)

	// ErrCalleeBusy means the target user already has an active call.
	ErrCalleeBusy = fmt.Errorf("%w: callee busy", ErrAdmissionDenied)

	// ErrCallerBusy means the caller already has an active call.
	ErrCallerBusy = fmt.Errorf("%w: caller already in a call", ErrAdmissionDenied)

	// ErrExtensionNotFound means the dialed extension is not bound to
	// any connected user.
	ErrExtensionNotFound = fmt.Errorf("%w: extension not found", ErrAdmissionDenied)
)

var (
	// ErrNotFound is returned for an unknown call or carrier call id.
	ErrNotFound = errors.New("call not found")

	// ErrUnauthorized is returned when the acting user is not permitted
	// to perform the operation on the session.
	ErrUnauthorized = errors.New("not a permitted participant")

	// ErrInvalidState is returned for an illegal state transition.
	ErrInvalidState = errors.New("invalid call state transition")

	// ErrExtensionInUse is returned when binding an extension that is
	// already bound to a different connected user.
	ErrExtensionInUse = errors.New("extension already registered")

	// ErrDuplicateID is returned when inserting a session whose call id
	// is already present in the store.
	ErrDuplicateID = errors.New("call id already in use")
)

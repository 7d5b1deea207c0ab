package lifetime

import "errors"

// Sentinel error kinds. Handler and write failures are logged and
// swallowed at their point of origin (there is no caller to surface
// them to) and never returned from a public Manager method. The
// managers log the underlying error as-is: ErrHandlerFailed and
// ErrWriteFailed are declared here but are not attached to those logged
// errors.
var (
	// ErrInvalidArgument is returned synchronously when a required
	// connectionId, groupName or userId argument is empty.
	ErrInvalidArgument = errors.New("lifetime: invalid argument")

	// ErrBusUnavailable wraps a publish failure, or a group-topic
	// subscribe failure in AddGroup, and is surfaced to the caller of
	// the triggering operation. Subscribe failures in OnConnected are
	// logged and not returned; NewDistributed returns its subscribe
	// failures without this sentinel.
	ErrBusUnavailable = errors.New("lifetime: bus unavailable")

	// ErrHandlerFailed names the kind of an inbound bus message that
	// failed to decode or apply. Not returned to a caller.
	ErrHandlerFailed = errors.New("lifetime: handler failed")

	// ErrWriteFailed names the kind of a per-connection write failure
	// during fan-out. Not returned to a caller.
	ErrWriteFailed = errors.New("lifetime: write failed")
)

package pkg

import "errors"

// Protocol errors, surfaced to the host as an EP0 stall.
var (
	// ErrNotSupported indicates an unsupported control request.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNotFound indicates the descriptor catalog holds no matching entry.
	ErrNotFound = errors.New("descriptor not found")

	// ErrNoSpace indicates a descriptor did not fit the response buffer.
	ErrNoSpace = errors.New("no space in buffer")
)

// Resource errors.
var (
	// ErrNoMemory indicates a request or buffer allocation failed.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrBusy indicates the resource already has an owner.
	ErrBusy = errors.New("resource busy")
)

// Transport errors.
var (
	// ErrNoEndpoint indicates autoconfiguration found no matching endpoint.
	ErrNoEndpoint = errors.New("no matching endpoint")

	// ErrEndpointDisabled indicates an operation on a disabled endpoint.
	ErrEndpointDisabled = errors.New("endpoint disabled")

	// ErrNotConfigured indicates the device is not in the configured state.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidRequest indicates a malformed or out-of-spec request object.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyBound indicates the controller already has a bound function.
	ErrAlreadyBound = errors.New("controller already bound")
)

// Transfer completion errors. These never terminate the gadget; the consumer
// observes them from Read and decides whether to issue another receive.
var (
	// ErrConnAborted indicates the controller forced an endpoint reset.
	ErrConnAborted = errors.New("connection aborted")

	// ErrConnReset indicates the request was dequeued.
	ErrConnReset = errors.New("connection reset")

	// ErrShutdown indicates the host disconnected.
	ErrShutdown = errors.New("disconnected from host")

	// ErrOverflow indicates the host sent more than the receive capacity.
	ErrOverflow = errors.New("receive buffer overflow")

	// ErrShortRead indicates the transfer ended before the requested length.
	ErrShortRead = errors.New("short read")
)

// Event errors delivered through the control path.
var (
	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")

	// ErrDisconnected indicates the link to the host went away.
	ErrDisconnected = errors.New("host disconnected")
)

// CompletionStatus classifies the outcome of a bulk transfer request.
type CompletionStatus int

// Completion status values.
const (
	StatusSuccess     CompletionStatus = iota // Transfer completed, actual length valid
	StatusConnAborted                         // Hardware forced endpoint reset
	StatusConnReset                           // Request dequeued
	StatusShutdown                            // Host disconnect
	StatusOverflow                            // Host sent more than the buffer holds
	StatusShortRead                           // Transfer ended early
	StatusError                               // Any other failure
)

// String returns a string representation of the completion status.
func (s CompletionStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusConnAborted:
		return "aborted"
	case StatusConnReset:
		return "reset"
	case StatusShutdown:
		return "shutdown"
	case StatusOverflow:
		return "overflow"
	case StatusShortRead:
		return "short read"
	default:
		return "error"
	}
}

// Err returns the sentinel error corresponding to the completion status,
// or nil for StatusSuccess.
func (s CompletionStatus) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusConnAborted:
		return ErrConnAborted
	case StatusConnReset:
		return ErrConnReset
	case StatusShutdown:
		return ErrShutdown
	case StatusOverflow:
		return ErrOverflow
	case StatusShortRead:
		return ErrShortRead
	default:
		return ErrInvalidRequest
	}
}

// StatusOf maps a completion error back to its status classification.
func StatusOf(err error) CompletionStatus {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrConnAborted):
		return StatusConnAborted
	case errors.Is(err, ErrConnReset):
		return StatusConnReset
	case errors.Is(err, ErrShutdown), errors.Is(err, ErrDisconnected):
		return StatusShutdown
	case errors.Is(err, ErrOverflow):
		return StatusOverflow
	case errors.Is(err, ErrShortRead):
		return StatusShortRead
	default:
		return StatusError
	}
}

// IsGone reports whether the status means the endpoint or device went away
// while the request was in flight. No data is copied for these completions.
func (s CompletionStatus) IsGone() bool {
	switch s {
	case StatusConnAborted, StatusConnReset, StatusShutdown:
		return true
	}
	return false
}

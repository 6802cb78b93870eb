// Package errors provides the error taxonomy shared by the cachepool packages.
//
// Callers match conditions with errors.Is against the sentinels below. The
// structured Error type attaches a numeric code so that a higher-level client
// facade can categorize failures (retry on exhaustion, fail fast on setup)
// without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for categorizing failures. The ranges are stable so that they
// can be exported through metrics labels or an admin surface.
const (
	CodeInternal     = 1000 // Unclassified failure
	CodeInvalidInput = 1001 // Caller supplied an invalid argument
	CodeInvalidState = 1002 // Operation not valid in the current state
	CodeUnavailable  = 1004 // Backend unavailable

	CodeConfiguration   = 2000 // Pool or client configuration rejected
	CodePoolExhausted   = 2001 // No handle could be issued within limits
	CodePoolClosed      = 2002 // Pool already shut down
	CodeConnectionSetup = 2003 // Delegate could not be established
	CodeNotActive       = 2005 // Handle released or invalidated twice
	CodeProbeKey        = 2006 // No probe key routes to a node
	CodeCircuitOpen     = 2007 // Connection setup rejected by an open breaker
)

// Generic sentinels. Domain errors below wrap these so broad checks such as
// errors.Is(err, ErrClosed) keep working across packages.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnavailable indicates a backend is unavailable.
	ErrUnavailable = errors.New("unavailable")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")
)

// Pool errors
var (
	// ErrPoolExhausted is returned by Acquire under the FAIL policy, or when a
	// blocking Acquire runs out of wait time.
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrPoolClosed is returned by any pool operation after Shutdown.
	ErrPoolClosed = fmt.Errorf("pool: %w", ErrClosed)

	// ErrNotActive is returned when releasing a handle the pool did not issue
	// or that was already returned.
	ErrNotActive = fmt.Errorf("pool: handle not active: %w", ErrInvalidState)
)

// Client errors
var (
	// ErrConnectionSetupFailed is returned when the factory cannot establish a
	// new client delegate.
	ErrConnectionSetupFailed = errors.New("client: connection setup failed")

	// ErrNoEndpoints indicates a factory was built without endpoints.
	ErrNoEndpoints = fmt.Errorf("client: no endpoints: %w", ErrInvalidInput)

	// ErrCircuitOpen is returned when connection setup is rejected because
	// recent attempts kept failing.
	ErrCircuitOpen = fmt.Errorf("client: circuit breaker open: %w", ErrUnavailable)
)

// Probe errors
var (
	// ErrProbeKeyNotFound is returned when no sampled key routes to a node
	// within the configured attempt budget.
	ErrProbeKeyNotFound = errors.New("probe: no key routes to node")

	// ErrProbeNoNodes indicates the locator returned no nodes.
	ErrProbeNoNodes = fmt.Errorf("probe: locator has no nodes: %w", ErrUnavailable)
)

// Error is a structured error with a code and message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a short description without internal details
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf maps an error to its code. A structured Error anywhere in the chain
// wins over sentinel matching.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	switch {
	case errors.Is(err, ErrPoolExhausted):
		return CodePoolExhausted
	case errors.Is(err, ErrPoolClosed):
		return CodePoolClosed
	case errors.Is(err, ErrConnectionSetupFailed):
		return CodeConnectionSetup
	case errors.Is(err, ErrNotActive):
		return CodeNotActive
	case errors.Is(err, ErrProbeKeyNotFound):
		return CodeProbeKey
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	default:
		return CodeInternal
	}
}

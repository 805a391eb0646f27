package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrTaskNotFound is returned when a task definition cannot be found
	ErrTaskNotFound = errors.New("task definition not found")

	// ErrQueueNotFound is returned when a queue cannot be found
	ErrQueueNotFound = errors.New("queue not found")

	// ErrHandlerNotFound is returned when a handler reference does not
	// resolve to a registered handler
	ErrHandlerNotFound = errors.New("handler not registered")

	// ErrInvalidParams is returned when a fire-parameter blob is malformed
	ErrInvalidParams = errors.New("invalid fire parameters")

	// ErrInvalidTransition is returned when a requested state change is
	// not a valid job lifecycle transition
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrJobNotRunning is returned when stopping a job that is not RUNNING
	ErrJobNotRunning = errors.New("job is not running")

	// ErrJobNotRetryable is returned when retrying a job that is neither
	// FAILED nor STOPPED
	ErrJobNotRetryable = errors.New("job is not in a retryable state")

	// ErrQueueInUse is returned when deleting a queue that still has
	// pending entries referencing it
	ErrQueueInUse = errors.New("queue has pending entries")

	// ErrClaimLost is returned when a conditional claim update affected
	// zero rows, i.e. another pass already owns the fire
	ErrClaimLost = errors.New("claim already taken")

	// ErrPoolClosed is returned when submitting work to a stopped pool
	ErrPoolClosed = errors.New("worker pool is closed")
)

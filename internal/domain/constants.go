package domain

// Job status constants
const (
	JobStatusPending = "PENDING"
	JobStatusRunning = "RUNNING"
	JobStatusSuccess = "SUCCESS"
	JobStatusFailed  = "FAILED"
	JobStatusStopped = "STOPPED"
)

// Trigger type constants
const (
	TriggerCron      = "CRON"       // direct fire from a live cron trigger
	TriggerQueueCron = "QUEUE_CRON" // queue-bound fire admitted by the scanner push phase
	TriggerHand      = "HAND"       // manual submission or manual trigger
)

// AllStatuses lists every valid job status.
var AllStatuses = []string{
	JobStatusPending,
	JobStatusRunning,
	JobStatusSuccess,
	JobStatusFailed,
	JobStatusStopped,
}

// validTransitions enumerates the allowed job state changes.
// PENDING -> RUNNING is the pop-phase claim, RUNNING -> terminal is the
// execution envelope or an operator stop, and terminal -> PENDING is an
// explicit retry.
var validTransitions = map[string][]string{
	JobStatusPending: {JobStatusRunning},
	JobStatusRunning: {JobStatusSuccess, JobStatusFailed, JobStatusStopped},
	JobStatusFailed:  {JobStatusPending},
	JobStatusStopped: {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status is a terminal state.
func IsTerminal(status string) bool {
	return status == JobStatusSuccess || status == JobStatusFailed || status == JobStatusStopped
}

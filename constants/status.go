package constants

// JobStatus is the canonical status for rows in the jobs table.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"    // created, waiting for a worker
	JobStatusProcessing JobStatus = "processing" // a worker is executing the job
	JobStatusCompleted  JobStatus = "completed"  // terminal success
	JobStatusFailed     JobStatus = "failed"     // terminal failure (or awaiting retry)
	JobStatusCancelled  JobStatus = "cancelled"  // terminal, cancelled by the caller
)

// IsTerminal reports whether s represents a final state. A failed job may
// still be re-queued for retry, but until that happens it carries a recorded
// error and counts as terminal.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// AllStatuses lists every valid status value.
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// IsValidStatus reports whether s is one of the known status values.
func IsValidStatus(s JobStatus) bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

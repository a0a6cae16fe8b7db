package jobs

import "github.com/docforge/docforge/constants"

// transitions is the fixed status graph. A status absent from the map (or
// mapped to nil) is terminal.
//
//	pending    -> processing, failed, cancelled
//	processing -> completed, failed, cancelled
//	failed     -> pending (retry)
var transitions = map[constants.JobStatus][]constants.JobStatus{
	constants.JobStatusPending: {
		constants.JobStatusProcessing,
		constants.JobStatusFailed,
		constants.JobStatusCancelled,
	},
	constants.JobStatusProcessing: {
		constants.JobStatusCompleted,
		constants.JobStatusFailed,
		constants.JobStatusCancelled,
	},
	constants.JobStatusFailed: {
		constants.JobStatusPending,
	},
	constants.JobStatusCompleted: nil,
	constants.JobStatusCancelled: nil,
}

// CanTransition reports whether the edge from -> to is in the status graph.
// Self-transitions are always rejected.
func CanTransition(from, to constants.JobStatus) bool {
	if from == to {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

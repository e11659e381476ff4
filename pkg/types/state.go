package types

// IsValidJobTransition validates job state transitions.
//
// Valid transitions:
//
//	(empty) -> waiting
//	waiting -> active
//	delayed -> active
//	active -> completed | delayed | failed | waiting
//	completed -> (terminal)
//	failed -> (terminal)
//
// active -> waiting is the redelivery path for jobs left behind by a crashed
// worker; active -> failed also covers recovered jobs whose budget is spent.
func IsValidJobTransition(current, next JobState) bool {
	if next == "" {
		return false
	}

	switch current {
	case "":
		return next == JobWaiting

	case JobWaiting, JobDelayed:
		return next == JobActive

	case JobActive:
		return next == JobCompleted || next == JobDelayed ||
			next == JobFailed || next == JobWaiting

	case JobCompleted, JobFailed:
		return false

	default:
		return false
	}
}

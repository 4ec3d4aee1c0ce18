package models

import "fmt"

// analysisTransitions maps a photo group status to the statuses it may move to.
// A terminal status may re-enter PENDING (re-dispatch) or PROCESSING (retry).
var analysisTransitions = map[AnalysisStatus]map[AnalysisStatus]bool{
	AnalysisPending: {
		AnalysisProcessing: true,
		AnalysisFailed:     true, // job exhausted before the orchestrator ran
	},
	AnalysisProcessing: {
		AnalysisCompleted: true,
		AnalysisFailed:    true,
	},
	AnalysisCompleted: {
		AnalysisPending:    true,
		AnalysisProcessing: true,
	},
	AnalysisFailed: {
		AnalysisPending:    true,
		AnalysisProcessing: true,
	},
}

// ValidateAnalysisTransition checks a photo group status change
func ValidateAnalysisTransition(from, to AnalysisStatus) error {
	allowed, ok := analysisTransitions[from]
	if !ok {
		return fmt.Errorf("unknown analysis status: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid analysis transition from %s to %s", from, to)
	}
	return nil
}

var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {
		JobRunning: true,
		JobFailed:  true,
	},
	JobRunning: {
		JobSucceeded: true,
		JobFailed:    true,
		JobPending:   true, // retry scheduled
	},
	JobSucceeded: {},
	JobFailed:    {},
}

// ValidateJobTransition checks a job status change
func ValidateJobTransition(from, to JobStatus) error {
	allowed, ok := jobTransitions[from]
	if !ok {
		return fmt.Errorf("unknown job status: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid job transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal reports whether no further transitions are possible for this job
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

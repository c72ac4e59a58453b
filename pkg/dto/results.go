package dto

import "time"

// Outcome mirrors the engine's explicit completion status.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeReconcilePending Outcome = "reconcile_pending"
	OutcomeFailed           Outcome = "failed"
)

// JobResult is the structured result every job reports, regardless of type.
// Callers never infer success from the absence of an error string.
type JobResult struct {
	Job        string         `json:"job"`
	Outcome    Outcome        `json:"outcome"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stats      map[string]int `json:"stats,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ClusterReport summarizes one clustering run, archived per run.
type ClusterReport struct {
	JobResult
	FacesConsidered int `json:"faces_considered"`
	Assigned        int `json:"assigned"`
	Groups          int `json:"groups"`
	Grouped         int `json:"grouped"`
	Noise           int `json:"noise"`
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	JobResult
	QueueEntries  int `json:"queue_entries"`
	FacesScanned  int `json:"faces_scanned"`
	Repaired      int `json:"repaired"`
	MissingPoints int `json:"missing_points"`
}

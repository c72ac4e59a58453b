// Package dto defines the wire payloads exchanged over the job queue and
// archived as run reports.
package dto

import "github.com/google/uuid"

// ClusterJob requests one clustering run over currently unassigned faces.
type ClusterJob struct {
	// Limit caps how many unassigned faces the run considers; zero means
	// the configured per-run ceiling.
	Limit int `json:"limit,omitempty"`
}

// CentroidJob requests a centroid recompute for one person.
type CentroidJob struct {
	PersonID uuid.UUID `json:"person_id"`
}

// SuggestJob requests suggestion generation.
type SuggestJob struct {
	Strategy string `json:"strategy"`
	// PersonIDs scopes the run; empty means every active person.
	PersonIDs []uuid.UUID `json:"person_ids,omitempty"`
	// FaceID is the subject for the single-reference strategy.
	FaceID uuid.UUID `json:"face_id,omitempty"`
}

// ReconcileJob requests a reconciliation pass.
type ReconcileJob struct {
	// QueueOnly skips the full scan and only drains the reconcile queue.
	QueueOnly bool `json:"queue_only,omitempty"`
}

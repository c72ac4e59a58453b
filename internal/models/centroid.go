package models

import (
	"time"

	"github.com/google/uuid"
)

type CentroidStatus string

const (
	CentroidStatusBuilding   CentroidStatus = "building"
	CentroidStatusActive     CentroidStatus = "active"
	CentroidStatusDeprecated CentroidStatus = "deprecated"
	CentroidStatusFailed     CentroidStatus = "failed"
)

type CentroidType string

const (
	CentroidTypeGlobal  CentroidType = "global"
	CentroidTypeCluster CentroidType = "cluster"
)

// Centroid is a computed representative vector for a person. Rows are never
// mutated in place once active; recomputation creates a new row and
// deprecates the old one only after the new vector is published to the index.
// At most one active row exists per (person, model version, algorithm
// version, type, cluster label) key, enforced in storage.
type Centroid struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	PersonID     uuid.UUID      `json:"person_id" db:"person_id"`
	ModelVersion string         `json:"model_version" db:"model_version"`
	AlgoVersion  int            `json:"algo_version" db:"algo_version"`
	Type         CentroidType   `json:"type" db:"type"`
	ClusterLabel *string        `json:"cluster_label,omitempty" db:"cluster_label"`
	Status       CentroidStatus `json:"status" db:"status"`
	Vector       []float32      `json:"-" db:"vector"`
	PointID      *uint64        `json:"point_id,omitempty" db:"point_id"`
	FaceCount    int            `json:"face_count" db:"face_count"`
	SourceHash   string         `json:"source_hash" db:"source_hash"`
	TrimFraction float64        `json:"trim_fraction" db:"trim_fraction"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// CentroidKey identifies the uniqueness scope of an active centroid.
type CentroidKey struct {
	PersonID     uuid.UUID
	ModelVersion string
	AlgoVersion  int
	Type         CentroidType
	ClusterLabel *string
}

// Key returns the centroid's uniqueness key.
func (c *Centroid) Key() CentroidKey {
	return CentroidKey{
		PersonID:     c.PersonID,
		ModelVersion: c.ModelVersion,
		AlgoVersion:  c.AlgoVersion,
		Type:         c.Type,
		ClusterLabel: c.ClusterLabel,
	}
}

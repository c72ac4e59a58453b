package models

import (
	"time"

	"github.com/google/uuid"
)

// FaceRecord is one detected face. The embedding itself lives in the vector
// index; PointID is the opaque reference to it. PersonID (assignment) and
// GroupLabel (unsupervised cluster label) are independent fields: a face may
// carry neither, either, or transiently both while being relabeled.
type FaceRecord struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ImageID    uuid.UUID  `json:"image_id" db:"image_id"`
	BBox       []float64  `json:"bbox" db:"bbox"` // [x1, y1, x2, y2]
	DetScore   float32    `json:"det_score" db:"det_score"`
	Quality    float32    `json:"quality" db:"quality"` // 0..1
	PointID    *uint64    `json:"point_id,omitempty" db:"point_id"`
	PersonID   *uuid.UUID `json:"person_id,omitempty" db:"person_id"`
	GroupLabel *string    `json:"group_label,omitempty" db:"group_label"`
	Version    int64      `json:"version" db:"version"` // optimistic lock counter
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Assigned reports whether the face is linked to a person.
func (f *FaceRecord) Assigned() bool {
	return f.PersonID != nil
}

// FaceWithEmbedding pairs a face record with its vector, as retrieved from
// the index for clustering and centroid computation.
type FaceWithEmbedding struct {
	Face      FaceRecord
	Embedding []float32
}

// DismissedGroup records that the user does not want this exact face set
// resurfaced as a candidate new person. Keyed by the membership hash so the
// decision survives relabeling by later clustering runs.
type DismissedGroup struct {
	ID             uuid.UUID `json:"id" db:"id"`
	MembershipHash string    `json:"membership_hash" db:"membership_hash"`
	FaceCount      int       `json:"face_count" db:"face_count"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ReconcileEntry marks a face whose index state must be re-derived from the
// record store after a partial dual write.
type ReconcileEntry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FaceID    uuid.UUID `json:"face_id" db:"face_id"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

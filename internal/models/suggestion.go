package models

import (
	"time"

	"github.com/google/uuid"
)

type SuggestionStatus string

const (
	SuggestionStatusPending  SuggestionStatus = "pending"
	SuggestionStatusAccepted SuggestionStatus = "accepted"
	SuggestionStatusRejected SuggestionStatus = "rejected"
	SuggestionStatusExpired  SuggestionStatus = "expired"
)

// SourceKind tags what kind of reference produced a suggestion. A single
// foreign-key column cannot express this without type overload, so the
// source is a tagged pair instead.
type SourceKind string

const (
	SourceFace      SourceKind = "face"
	SourcePrototype SourceKind = "prototype"
	SourceCentroid  SourceKind = "centroid"
)

// SuggestionSource identifies the face, prototype, or centroid whose
// similarity produced the match.
type SuggestionSource struct {
	Kind SourceKind `json:"kind"`
	ID   uuid.UUID  `json:"id"`
}

// SourceScore records one contributing reference and its similarity, for
// multi-reference strategies.
type SourceScore struct {
	Source SuggestionSource `json:"source"`
	Score  float32          `json:"score"`
}

// Suggestion is a proposed (face, person) match awaiting review. At most one
// pending suggestion exists per (face, person) pair; the storage layer
// enforces this with a partial unique index as the final guard under
// concurrent generation.
type Suggestion struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	FaceID     uuid.UUID        `json:"face_id" db:"face_id"`
	PersonID   uuid.UUID        `json:"person_id" db:"person_id"`
	Score      float32          `json:"score" db:"score"`
	Source     SuggestionSource `json:"source" db:"source"`
	Status     SuggestionStatus `json:"status" db:"status"`
	Sources    []SourceScore    `json:"sources,omitempty" db:"sources"`
	MatchCount int              `json:"match_count" db:"match_count"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
}

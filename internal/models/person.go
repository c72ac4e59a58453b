package models

import (
	"time"

	"github.com/google/uuid"
)

type PersonStatus string

const (
	PersonStatusActive PersonStatus = "active"
	PersonStatusMerged PersonStatus = "merged"
	PersonStatusHidden PersonStatus = "hidden"
)

// Person is a confirmed identity. Persons are never hard-deleted; a merge
// marks the source person merged and records the surviving person.
type Person struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Status       PersonStatus `json:"status" db:"status"`
	MergedIntoID *uuid.UUID   `json:"merged_into_id,omitempty" db:"merged_into_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

type PrototypeRole string

const (
	RolePrimary        PrototypeRole = "primary"
	RoleExemplar       PrototypeRole = "exemplar"
	RoleTemporal       PrototypeRole = "temporal"
	RoleFallback       PrototypeRole = "fallback"
	RoleCentroidLegacy PrototypeRole = "centroid-legacy"
)

// Prototype is a face promoted to serve as a labeled reference for a person.
// At most one primary prototype exists per person (enforced in storage).
type Prototype struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	PersonID  uuid.UUID     `json:"person_id" db:"person_id"`
	FaceID    uuid.UUID     `json:"face_id" db:"face_id"`
	Role      PrototypeRole `json:"role" db:"role"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

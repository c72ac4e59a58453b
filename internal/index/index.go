// Package index wraps the embedded vector store behind a small client
// interface so engines and the coordinator never depend on the concrete
// backend. All scores returned by this package are cosine similarities in
// [0, 1], higher is closer.
package index

import (
	"context"

	"github.com/google/uuid"
)

// Payload keys stored alongside each vector. Assignment state is an explicit
// boolean so unassigned faces can be filtered inside the index instead of
// being scanned out client-side.
const (
	PayloadFaceID     = "face_id"
	PayloadPersonID   = "person_id"
	PayloadGroupLabel = "group_label"
	PayloadAssigned   = "assigned"
)

// Point is a face embedding plus its identifying payload. PointID is zero
// for points not yet inserted; the index allocates it.
type Point struct {
	PointID    uint64
	FaceID     uuid.UUID
	Vector     []float32
	PersonID   *uuid.UUID
	GroupLabel *string
}

// Hit is a single search result.
type Hit struct {
	PointID    uint64
	FaceID     uuid.UUID
	Score      float32
	PersonID   *uuid.UUID
	GroupLabel *string
}

// Filter narrows a search by payload. Zero value matches everything.
// OnlyUnassigned and PersonID are mutually exclusive.
type Filter struct {
	PersonID       *uuid.UUID
	GroupLabel     *string
	OnlyUnassigned bool
}

// Client is the vector index surface used by the engines and the
// consistency coordinator.
type Client interface {
	// Search returns up to limit hits ordered by descending similarity,
	// dropping hits below minScore.
	Search(ctx context.Context, vector []float32, filter Filter, limit int, minScore float32) ([]Hit, error)

	// BatchRetrieve fetches points by ID. Missing IDs yield a
	// StaleReferenceError rather than a silent gap.
	BatchRetrieve(ctx context.Context, ids []uint64) ([]Point, error)

	// BatchInsert adds new points and returns their allocated IDs in
	// input order.
	BatchInsert(ctx context.Context, points []Point) ([]uint64, error)

	// BatchSetPayload rewrites assignment payload (person, group label)
	// on existing points, leaving vectors untouched.
	BatchSetPayload(ctx context.Context, ids []uint64, personID *uuid.UUID, groupLabel *string) error

	// Delete removes a point. Deleting a missing point is not an error.
	Delete(ctx context.Context, id uint64) error

	// Flush persists the index to its snapshot path.
	Flush(ctx context.Context) error

	Close() error
}

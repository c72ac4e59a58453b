package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/vecgo"
	"github.com/hupe1980/vecgo/metadata"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
)

// facePayload is the per-point data stored in vecgo. The vector is carried
// here as well because vecgo's Get returns only the data, and payload
// rewrites must re-submit the original vector.
type facePayload struct {
	FaceID     string    `json:"face_id"`
	Vector     []float32 `json:"vector"`
	PersonID   string    `json:"person_id,omitempty"`
	GroupLabel string    `json:"group_label,omitempty"`
}

// VecgoIndex backs the Client interface with an embedded HNSW index,
// persisted via snapshot file plus write-ahead log.
type VecgoIndex struct {
	db           *vecgo.Vecgo[facePayload]
	snapshotPath string
}

func NewVecgoIndex(cfg config.IndexConfig) (*VecgoIndex, error) {
	if _, err := os.Stat(cfg.SnapshotPath); err == nil {
		db, err := vecgo.NewFromFile[facePayload](cfg.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("load index snapshot: %w", err)
		}
		return &VecgoIndex{db: db, snapshotPath: cfg.SnapshotPath}, nil
	}

	builder := vecgo.HNSW[facePayload](cfg.Dimension).
		Cosine().
		M(cfg.M).
		EFConstruction(cfg.EFConstruction)
	if cfg.WALDir != "" {
		builder = builder.WAL(cfg.WALDir)
	}
	db, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	idx := &VecgoIndex{db: db, snapshotPath: cfg.SnapshotPath}
	if cfg.WALDir != "" {
		if err := db.RecoverFromWAL(context.Background()); err != nil {
			return nil, fmt.Errorf("recover index wal: %w", err)
		}
	}
	return idx, nil
}

func (v *VecgoIndex) Search(ctx context.Context, vector []float32, filter Filter, limit int, minScore float32) ([]Hit, error) {
	timer := prometheusTimer("search")
	defer timer()

	sb := v.db.Search(vector).KNN(limit)
	if fs := buildFilterSet(filter); fs != nil {
		sb = sb.WithMetadata(fs)
	}
	results, err := sb.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		score := similarityFromDistance(res.Distance)
		if score < minScore {
			continue
		}
		hit, err := hitFromPayload(uint64(res.ID), score, res.Data)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (v *VecgoIndex) BatchRetrieve(ctx context.Context, ids []uint64) ([]Point, error) {
	timer := prometheusTimer("retrieve")
	defer timer()

	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, err := v.db.Get(id)
		if err != nil {
			if errors.Is(err, vecgo.ErrNotFound) {
				return nil, &models.StaleReferenceError{
					Kind:   "point",
					Reason: fmt.Sprintf("point %d not in index", id),
				}
			}
			return nil, fmt.Errorf("index get %d: %w", id, err)
		}
		pt, err := pointFromPayload(id, payload)
		if err != nil {
			return nil, err
		}
		points = append(points, pt)
	}
	return points, nil
}

func (v *VecgoIndex) BatchInsert(ctx context.Context, points []Point) ([]uint64, error) {
	timer := prometheusTimer("insert")
	defer timer()

	items := make([]vecgo.VectorWithData[facePayload], len(points))
	for i, pt := range points {
		items[i] = vecgo.VectorWithData[facePayload]{
			Vector:   pt.Vector,
			Data:     payloadFromPoint(pt),
			Metadata: metadataFromPoint(pt),
		}
	}
	result := v.db.BatchInsert(ctx, items)
	for i, err := range result.Errors {
		if err != nil {
			return nil, fmt.Errorf("index insert %s: %w", points[i].FaceID, err)
		}
	}
	return result.IDs, nil
}

func (v *VecgoIndex) BatchSetPayload(ctx context.Context, ids []uint64, personID *uuid.UUID, groupLabel *string) error {
	timer := prometheusTimer("set_payload")
	defer timer()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := v.db.Get(id)
		if err != nil {
			if errors.Is(err, vecgo.ErrNotFound) {
				return &models.StaleReferenceError{
					Kind:   "point",
					Reason: fmt.Sprintf("point %d not in index", id),
				}
			}
			return fmt.Errorf("index get %d: %w", id, err)
		}

		payload.PersonID = ""
		payload.GroupLabel = ""
		if personID != nil {
			payload.PersonID = personID.String()
		}
		if groupLabel != nil {
			payload.GroupLabel = *groupLabel
		}

		faceID, err := uuid.Parse(payload.FaceID)
		if err != nil {
			return fmt.Errorf("index point %d: bad face id %q: %w", id, payload.FaceID, err)
		}
		pt := Point{FaceID: faceID, Vector: payload.Vector, PersonID: personID, GroupLabel: groupLabel}
		err = v.db.Update(ctx, id, vecgo.VectorWithData[facePayload]{
			Vector:   payload.Vector,
			Data:     payload,
			Metadata: metadataFromPoint(pt),
		})
		if err != nil {
			return fmt.Errorf("index update %d: %w", id, err)
		}
	}
	return nil
}

func (v *VecgoIndex) Delete(ctx context.Context, id uint64) error {
	timer := prometheusTimer("delete")
	defer timer()

	if err := v.db.Delete(ctx, id); err != nil && !errors.Is(err, vecgo.ErrNotFound) {
		return fmt.Errorf("index delete %d: %w", id, err)
	}
	return nil
}

func (v *VecgoIndex) Flush(ctx context.Context) error {
	timer := prometheusTimer("flush")
	defer timer()

	if v.snapshotPath == "" {
		return nil
	}
	if err := v.db.SaveToFile(v.snapshotPath); err != nil {
		return fmt.Errorf("save index snapshot: %w", err)
	}
	return nil
}

func (v *VecgoIndex) Close() error {
	return v.db.Close()
}

func buildFilterSet(filter Filter) *metadata.FilterSet {
	var filters []metadata.Filter
	if filter.PersonID != nil {
		filters = append(filters, metadata.Filter{
			Key:      PayloadPersonID,
			Operator: metadata.OpEqual,
			Value:    metadata.String(filter.PersonID.String()),
		})
	}
	if filter.GroupLabel != nil {
		filters = append(filters, metadata.Filter{
			Key:      PayloadGroupLabel,
			Operator: metadata.OpEqual,
			Value:    metadata.String(*filter.GroupLabel),
		})
	}
	if filter.OnlyUnassigned {
		filters = append(filters, metadata.Filter{
			Key:      PayloadAssigned,
			Operator: metadata.OpEqual,
			Value:    metadata.Bool(false),
		})
	}
	if len(filters) == 0 {
		return nil
	}
	return metadata.NewFilterSet(filters...)
}

// similarityFromDistance converts a cosine distance into a similarity score
// clamped to [0, 1].
func similarityFromDistance(distance float32) float32 {
	score := 1 - distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func payloadFromPoint(pt Point) facePayload {
	p := facePayload{FaceID: pt.FaceID.String(), Vector: pt.Vector}
	if pt.PersonID != nil {
		p.PersonID = pt.PersonID.String()
	}
	if pt.GroupLabel != nil {
		p.GroupLabel = *pt.GroupLabel
	}
	return p
}

func metadataFromPoint(pt Point) metadata.Metadata {
	m := metadata.Metadata{
		PayloadFaceID:   metadata.String(pt.FaceID.String()),
		PayloadAssigned: metadata.Bool(pt.PersonID != nil),
	}
	if pt.PersonID != nil {
		m[PayloadPersonID] = metadata.String(pt.PersonID.String())
	}
	if pt.GroupLabel != nil {
		m[PayloadGroupLabel] = metadata.String(*pt.GroupLabel)
	}
	return m
}

func pointFromPayload(id uint64, payload facePayload) (Point, error) {
	faceID, err := uuid.Parse(payload.FaceID)
	if err != nil {
		return Point{}, fmt.Errorf("index point %d: bad face id %q: %w", id, payload.FaceID, err)
	}
	pt := Point{PointID: id, FaceID: faceID, Vector: payload.Vector}
	if payload.PersonID != "" {
		pid, err := uuid.Parse(payload.PersonID)
		if err != nil {
			return Point{}, fmt.Errorf("index point %d: bad person id %q: %w", id, payload.PersonID, err)
		}
		pt.PersonID = &pid
	}
	if payload.GroupLabel != "" {
		label := payload.GroupLabel
		pt.GroupLabel = &label
	}
	return pt, nil
}

func hitFromPayload(id uint64, score float32, payload facePayload) (Hit, error) {
	pt, err := pointFromPayload(id, payload)
	if err != nil {
		return Hit{}, err
	}
	return Hit{
		PointID:    pt.PointID,
		FaceID:     pt.FaceID,
		Score:      score,
		PersonID:   pt.PersonID,
		GroupLabel: pt.GroupLabel,
	}, nil
}

func prometheusTimer(op string) func() {
	start := time.Now()
	return func() {
		observability.IndexOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceid/internal/models"
)

const centroidColumns = `id, person_id, model_version, algo_version, type, cluster_label, status,
	vector, point_id, face_count, source_hash, trim_fraction, created_at, updated_at`

func scanCentroid(row pgx.Row) (*models.Centroid, error) {
	c := &models.Centroid{}
	var vec *pgvector.Vector
	err := row.Scan(&c.ID, &c.PersonID, &c.ModelVersion, &c.AlgoVersion, &c.Type, &c.ClusterLabel,
		&c.Status, &vec, &c.PointID, &c.FaceCount, &c.SourceHash, &c.TrimFraction,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if vec != nil {
		c.Vector = vec.Slice()
	}
	return c, nil
}

// GetActiveCentroid returns the single active centroid for the key, or
// ErrNotFound. The active-row uniqueness is guaranteed by a partial unique
// index, so a plain QueryRow suffices.
func (s *PostgresStore) GetActiveCentroid(ctx context.Context, key models.CentroidKey) (*models.Centroid, error) {
	c, err := scanCentroid(s.pool.QueryRow(ctx,
		`SELECT `+centroidColumns+` FROM centroids
		 WHERE person_id = $1 AND model_version = $2 AND algo_version = $3 AND type = $4
		   AND COALESCE(cluster_label, '') = COALESCE($5, '') AND status = 'active'`,
		key.PersonID, key.ModelVersion, key.AlgoVersion, key.Type, key.ClusterLabel))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get active centroid: %w", err)
	}
	return c, nil
}

// InsertBuildingCentroid creates a new row in the building state. The
// building-state unique index doubles as the per-person publish lock: a
// second concurrent recompute for the same key fails here with
// ErrBuildInProgress instead of racing the create-before-deprecate protocol.
func (s *PostgresStore) InsertBuildingCentroid(ctx context.Context, c *models.Centroid) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = models.CentroidStatusBuilding
	var vec *pgvector.Vector
	if len(c.Vector) > 0 {
		v := pgvector.NewVector(c.Vector)
		vec = &v
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO centroids (id, person_id, model_version, algo_version, type, cluster_label,
		                        status, vector, point_id, face_count, source_hash, trim_fraction)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at, updated_at`,
		c.ID, c.PersonID, c.ModelVersion, c.AlgoVersion, c.Type, c.ClusterLabel,
		c.Status, vec, c.PointID, c.FaceCount, c.SourceHash, c.TrimFraction,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "centroids_building_key") {
			return models.ErrBuildInProgress
		}
		return fmt.Errorf("insert building centroid: %w", err)
	}
	return nil
}

// UpdateCentroidVector persists the computed vector on a building row.
func (s *PostgresStore) UpdateCentroidVector(ctx context.Context, id uuid.UUID, vector []float32, faceCount int, sourceHash string, trim float64) error {
	vec := pgvector.NewVector(vector)
	tag, err := s.pool.Exec(ctx,
		`UPDATE centroids SET vector = $2, face_count = $3, source_hash = $4, trim_fraction = $5, updated_at = NOW()
		 WHERE id = $1 AND status = 'building'`,
		id, vec, faceCount, sourceHash, trim)
	if err != nil {
		return fmt.Errorf("update centroid vector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkCentroidFailed transitions a building row to failed, leaving any prior
// active centroid untouched.
func (s *PostgresStore) MarkCentroidFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE centroids SET status = 'failed', updated_at = NOW() WHERE id = $1 AND status = 'building'`, id)
	if err != nil {
		return fmt.Errorf("mark centroid failed: %w", err)
	}
	return nil
}

// ActivateCentroid atomically deprecates the prior active row(s) for the key
// and promotes the building row to active, recording the published index
// point. This runs only after the index write succeeded.
func (s *PostgresStore) ActivateCentroid(ctx context.Context, id uuid.UUID, key models.CentroidKey, pointID uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activate centroid: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE centroids SET status = 'deprecated', updated_at = NOW()
		 WHERE person_id = $1 AND model_version = $2 AND algo_version = $3 AND type = $4
		   AND COALESCE(cluster_label, '') = COALESCE($5, '') AND status = 'active'`,
		key.PersonID, key.ModelVersion, key.AlgoVersion, key.Type, key.ClusterLabel)
	if err != nil {
		return fmt.Errorf("deprecate prior centroids: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE centroids SET status = 'active', point_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'building'`, id, pointID)
	if err != nil {
		return fmt.Errorf("activate centroid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit activate centroid: %w", err)
	}
	return nil
}

// DeprecateCentroidsForPerson deprecates every active centroid of a person
// (merge path).
func (s *PostgresStore) DeprecateCentroidsForPerson(ctx context.Context, personID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE centroids SET status = 'deprecated', updated_at = NOW()
		 WHERE person_id = $1 AND status = 'active'`, personID)
	if err != nil {
		return fmt.Errorf("deprecate centroids for person: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/faceid/internal/models"
)

const faceColumns = `id, image_id, bbox, det_score, quality, point_id, person_id, group_label, version, created_at, updated_at`

func scanFace(row pgx.Row) (*models.FaceRecord, error) {
	f := &models.FaceRecord{}
	err := row.Scan(&f.ID, &f.ImageID, &f.BBox, &f.DetScore, &f.Quality,
		&f.PointID, &f.PersonID, &f.GroupLabel, &f.Version, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *PostgresStore) CreateFace(ctx context.Context, f *models.FaceRecord) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO faces (id, image_id, bbox, det_score, quality, point_id, person_id, group_label)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING version, created_at, updated_at`,
		f.ID, f.ImageID, f.BBox, f.DetScore, f.Quality, f.PointID, f.PersonID, f.GroupLabel,
	).Scan(&f.Version, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create face: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFace(ctx context.Context, id uuid.UUID) (*models.FaceRecord, error) {
	f, err := scanFace(s.pool.QueryRow(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get face: %w", err)
	}
	return f, nil
}

// GetFaces retrieves a batch of faces in one round trip.
func (s *PostgresStore) GetFaces(ctx context.Context, ids []uuid.UUID) ([]models.FaceRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("get faces: %w", err)
	}
	defer rows.Close()
	return collectFaces(rows)
}

// ListUnassignedFaces returns faces with no person assignment, oldest first.
func (s *PostgresStore) ListUnassignedFaces(ctx context.Context, limit int) ([]models.FaceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE person_id IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unassigned faces: %w", err)
	}
	defer rows.Close()
	return collectFaces(rows)
}

func (s *PostgresStore) ListFacesByPerson(ctx context.Context, personID uuid.UUID) ([]models.FaceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE person_id = $1 ORDER BY id`, personID)
	if err != nil {
		return nil, fmt.Errorf("list faces by person: %w", err)
	}
	defer rows.Close()
	return collectFaces(rows)
}

// ListFacesWithPoints pages through indexed faces by keyset, for the
// reconciliation scan.
func (s *PostgresStore) ListFacesWithPoints(ctx context.Context, afterID uuid.UUID, limit int) ([]models.FaceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE point_id IS NOT NULL AND id > $1 ORDER BY id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list faces with points: %w", err)
	}
	defer rows.Close()
	return collectFaces(rows)
}

func (s *PostgresStore) CountFacesByPerson(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM faces WHERE person_id = $1`, personID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// UpdateFaceAssignment sets the assignment and group label of a face under
// optimistic locking. Returns ErrVersionConflict when the face was modified
// since it was read, so a concurrent accept never silently wins.
func (s *PostgresStore) UpdateFaceAssignment(
	ctx context.Context, faceID uuid.UUID,
	personID *uuid.UUID, groupLabel *string, expectedVersion int64,
) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE faces SET person_id = $2, group_label = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $4`,
		faceID, personID, groupLabel, expectedVersion)
	if err != nil {
		return fmt.Errorf("update face assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing face from a version race.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM faces WHERE id = $1)`, faceID).Scan(&exists); err != nil {
			return fmt.Errorf("check face exists: %w", err)
		}
		if !exists {
			return models.ErrNotFound
		}
		return models.ErrVersionConflict
	}
	return nil
}

// BatchSetGroupLabels writes unsupervised cluster labels for many faces in
// one statement. Labels only apply to faces still unassigned.
func (s *PostgresStore) BatchSetGroupLabels(ctx context.Context, labels map[uuid.UUID]string) error {
	if len(labels) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(labels))
	vals := make([]string, 0, len(labels))
	for id, label := range labels {
		ids = append(ids, id)
		vals = append(vals, label)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE faces SET group_label = u.label, version = version + 1, updated_at = NOW()
		 FROM (SELECT UNNEST($1::uuid[]) AS id, UNNEST($2::text[]) AS label) u
		 WHERE faces.id = u.id AND faces.person_id IS NULL`,
		ids, vals)
	if err != nil {
		return fmt.Errorf("batch set group labels: %w", err)
	}
	return nil
}

// ReassignFaces moves every face of src to dst in one statement (merge path).
// Returns the ids of the moved faces for index propagation.
func (s *PostgresStore) ReassignFaces(ctx context.Context, src, dst uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE faces SET person_id = $2, version = version + 1, updated_at = NOW()
		 WHERE person_id = $1 RETURNING id`, src, dst)
	if err != nil {
		return nil, fmt.Errorf("reassign faces: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan face id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectFaces(rows pgx.Rows) ([]models.FaceRecord, error) {
	var faces []models.FaceRecord
	for rows.Next() {
		var f models.FaceRecord
		if err := rows.Scan(&f.ID, &f.ImageID, &f.BBox, &f.DetScore, &f.Quality,
			&f.PointID, &f.PersonID, &f.GroupLabel, &f.Version, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

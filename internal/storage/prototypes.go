package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
)

func (s *PostgresStore) ListPrototypes(ctx context.Context, personID uuid.UUID) ([]models.Prototype, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, face_id, role, created_at FROM prototypes WHERE person_id = $1 ORDER BY created_at`,
		personID)
	if err != nil {
		return nil, fmt.Errorf("list prototypes: %w", err)
	}
	defer rows.Close()

	var protos []models.Prototype
	for rows.Next() {
		var p models.Prototype
		if err := rows.Scan(&p.ID, &p.PersonID, &p.FaceID, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prototype: %w", err)
		}
		protos = append(protos, p)
	}
	return protos, rows.Err()
}

func (s *PostgresStore) CreatePrototype(ctx context.Context, p *models.Prototype) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO prototypes (id, person_id, face_id, role) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (person_id, face_id, role) DO UPDATE SET role = EXCLUDED.role
		 RETURNING created_at`,
		p.ID, p.PersonID, p.FaceID, p.Role,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create prototype: %w", err)
	}
	return nil
}

// SetPrimaryPrototype demotes the current primary (if any) to exemplar and
// promotes the given face, in one transaction, preserving the at-most-one
// primary invariant.
func (s *PostgresStore) SetPrimaryPrototype(ctx context.Context, personID, faceID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set primary: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE prototypes SET role = 'exemplar' WHERE person_id = $1 AND role = 'primary'`, personID)
	if err != nil {
		return fmt.Errorf("demote primary: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO prototypes (id, person_id, face_id, role) VALUES ($1, $2, $3, 'primary')
		 ON CONFLICT (person_id, face_id, role) DO NOTHING`,
		uuid.New(), personID, faceID)
	if err != nil {
		return fmt.Errorf("promote primary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit set primary: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePrototype(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM prototypes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prototype: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountExemplars returns the number of non-primary prototypes for a person.
func (s *PostgresStore) CountExemplars(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM prototypes WHERE person_id = $1 AND role = 'exemplar'`, personID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count exemplars: %w", err)
	}
	return count, nil
}

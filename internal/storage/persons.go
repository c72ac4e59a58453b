package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/faceid/internal/models"
)

func (s *PostgresStore) CreatePerson(ctx context.Context, name string) (*models.Person, error) {
	p := &models.Person{
		ID:     uuid.New(),
		Name:   name,
		Status: models.PersonStatusActive,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (id, name, status) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, merged_into_id, created_at, updated_at FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Status, &p.MergedIntoID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListActivePersons(ctx context.Context) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, merged_into_id, created_at, updated_at
		 FROM persons WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.MergedIntoID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (s *PostgresStore) RenamePerson(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE persons SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("rename person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkPersonMerged soft-marks src as merged into dst. Persons are never
// hard-deleted.
func (s *PostgresStore) MarkPersonMerged(ctx context.Context, src, dst uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE persons SET status = 'merged', merged_into_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'active'`, src, dst)
	if err != nil {
		return fmt.Errorf("mark person merged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

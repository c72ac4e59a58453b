package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
)

// DismissGroup records that this exact face set should not be resurfaced.
// Re-dismissing the same membership hash is a no-op.
func (s *PostgresStore) DismissGroup(ctx context.Context, membershipHash string, faceCount int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dismissed_groups (id, membership_hash, face_count) VALUES ($1, $2, $3)
		 ON CONFLICT (membership_hash) DO NOTHING`,
		uuid.New(), membershipHash, faceCount)
	if err != nil {
		return fmt.Errorf("dismiss group: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsGroupDismissed(ctx context.Context, membershipHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM dismissed_groups WHERE membership_hash = $1)`,
		membershipHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dismissed group: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListDismissedGroups(ctx context.Context) ([]models.DismissedGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, membership_hash, face_count, created_at FROM dismissed_groups ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list dismissed groups: %w", err)
	}
	defer rows.Close()

	var groups []models.DismissedGroup
	for rows.Next() {
		var g models.DismissedGroup
		if err := rows.Scan(&g.ID, &g.MembershipHash, &g.FaceCount, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dismissed group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

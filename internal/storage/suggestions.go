package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/faceid/internal/models"
)

// HasPendingSuggestion is the cheap application-level pre-check before
// inserting; the partial unique index remains the final guard under races.
func (s *PostgresStore) HasPendingSuggestion(ctx context.Context, faceID, personID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM suggestions WHERE face_id = $1 AND person_id = $2 AND status = 'pending')`,
		faceID, personID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending suggestion: %w", err)
	}
	return exists, nil
}

// InsertPendingSuggestion creates a pending suggestion. A concurrent insert
// for the same (face, person) pair surfaces as ErrDuplicateSuggestion.
func (s *PostgresStore) InsertPendingSuggestion(ctx context.Context, sg *models.Suggestion) error {
	if sg.ID == uuid.Nil {
		sg.ID = uuid.New()
	}
	sg.Status = models.SuggestionStatusPending

	var sources []byte
	if len(sg.Sources) > 0 {
		var err error
		sources, err = json.Marshal(sg.Sources)
		if err != nil {
			return fmt.Errorf("marshal suggestion sources: %w", err)
		}
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO suggestions (id, face_id, person_id, score, source_kind, source_id, status, sources, match_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
		sg.ID, sg.FaceID, sg.PersonID, sg.Score, sg.Source.Kind, sg.Source.ID,
		sg.Status, sources, sg.MatchCount,
	).Scan(&sg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "suggestions_pending_key") {
			return models.ErrDuplicateSuggestion
		}
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, id uuid.UUID) (*models.Suggestion, error) {
	sg := &models.Suggestion{}
	var sources []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, face_id, person_id, score, source_kind, source_id, status, sources, match_count, created_at, resolved_at
		 FROM suggestions WHERE id = $1`, id,
	).Scan(&sg.ID, &sg.FaceID, &sg.PersonID, &sg.Score, &sg.Source.Kind, &sg.Source.ID,
		&sg.Status, &sources, &sg.MatchCount, &sg.CreatedAt, &sg.ResolvedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &sg.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal suggestion sources: %w", err)
		}
	}
	return sg, nil
}

// ResolveSuggestion moves a pending suggestion to a terminal status. Only
// pending rows resolve; resolving an already-resolved suggestion reports
// ErrNotFound so double accepts surface instead of silently repeating.
func (s *PostgresStore) ResolveSuggestion(ctx context.Context, id uuid.UUID, status models.SuggestionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE suggestions SET status = $2, resolved_at = NOW() WHERE id = $1 AND status = 'pending'`,
		id, status)
	if err != nil {
		return fmt.Errorf("resolve suggestion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ExpirePendingBefore expires pending suggestions created before the cutoff.
// Invoked by the external scheduler's sweep.
func (s *PostgresStore) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE suggestions SET status = 'expired', resolved_at = NOW()
		 WHERE status = 'pending' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire suggestions: %w", err)
	}
	return tag.RowsAffected(), nil
}

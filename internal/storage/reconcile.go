package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
)

// EnqueueReconcile records faces whose index state may have diverged from the
// record store. Duplicate entries for a face are allowed; the reconciler
// resolves each face against the record store, so replays are harmless.
func (s *PostgresStore) EnqueueReconcile(ctx context.Context, faceIDs []uuid.UUID, reason string) error {
	if len(faceIDs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(faceIDs))
	entryIDs := make([]uuid.UUID, len(faceIDs))
	for i, id := range faceIDs {
		ids[i] = id
		entryIDs[i] = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reconcile_queue (id, face_id, reason)
		 SELECT * FROM UNNEST($1::uuid[], $2::uuid[], $3::text[])`,
		entryIDs, ids, repeatText(reason, len(faceIDs)))
	if err != nil {
		return fmt.Errorf("enqueue reconcile: %w", err)
	}
	return nil
}

func repeatText(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func (s *PostgresStore) FetchReconcileBatch(ctx context.Context, limit int) ([]models.ReconcileEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, face_id, reason, created_at FROM reconcile_queue ORDER BY created_at, id LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("fetch reconcile batch: %w", err)
	}
	defer rows.Close()

	var entries []models.ReconcileEntry
	for rows.Next() {
		var e models.ReconcileEntry
		if err := rows.Scan(&e.ID, &e.FaceID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconcile entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) DeleteReconcileEntries(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM reconcile_queue WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("delete reconcile entries: %w", err)
	}
	return nil
}

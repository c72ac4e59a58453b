package storage

import (
	"context"
	"fmt"
)

// Schema is applied idempotently at startup. The uniqueness constraints here
// are load-bearing: the pending-suggestion and active-centroid invariants are
// enforced at the storage layer, not only in application logic.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS persons (
		id             UUID PRIMARY KEY,
		name           TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'active',
		merged_into_id UUID REFERENCES persons(id),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS faces (
		id          UUID PRIMARY KEY,
		image_id    UUID NOT NULL,
		bbox        DOUBLE PRECISION[] NOT NULL,
		det_score   REAL NOT NULL,
		quality     REAL NOT NULL,
		point_id    BIGINT,
		person_id   UUID REFERENCES persons(id),
		group_label TEXT,
		version     BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS faces_person_idx ON faces (person_id)`,
	`CREATE INDEX IF NOT EXISTS faces_unassigned_idx ON faces (group_label) WHERE person_id IS NULL`,

	`CREATE TABLE IF NOT EXISTS prototypes (
		id         UUID PRIMARY KEY,
		person_id  UUID NOT NULL REFERENCES persons(id),
		face_id    UUID NOT NULL REFERENCES faces(id) ON DELETE CASCADE,
		role       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS prototypes_primary_key
		ON prototypes (person_id) WHERE role = 'primary'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS prototypes_face_role_key
		ON prototypes (person_id, face_id, role)`,

	`CREATE TABLE IF NOT EXISTS centroids (
		id            UUID PRIMARY KEY,
		person_id     UUID NOT NULL REFERENCES persons(id),
		model_version TEXT NOT NULL,
		algo_version  INT NOT NULL,
		type          TEXT NOT NULL,
		cluster_label TEXT,
		status        TEXT NOT NULL,
		vector        vector(512),
		point_id      BIGINT,
		face_count    INT NOT NULL,
		source_hash   TEXT NOT NULL,
		trim_fraction DOUBLE PRECISION NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS centroids_active_key
		ON centroids (person_id, model_version, algo_version, type, COALESCE(cluster_label, ''))
		WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS centroids_building_key
		ON centroids (person_id, model_version, algo_version, type, COALESCE(cluster_label, ''))
		WHERE status = 'building'`,

	`CREATE TABLE IF NOT EXISTS suggestions (
		id          UUID PRIMARY KEY,
		face_id     UUID NOT NULL REFERENCES faces(id) ON DELETE CASCADE,
		person_id   UUID NOT NULL REFERENCES persons(id),
		score       REAL NOT NULL,
		source_kind TEXT NOT NULL,
		source_id   UUID NOT NULL,
		status      TEXT NOT NULL DEFAULT 'pending',
		sources     JSONB,
		match_count INT NOT NULL DEFAULT 1,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS suggestions_pending_key
		ON suggestions (face_id, person_id) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS dismissed_groups (
		id              UUID PRIMARY KEY,
		membership_hash TEXT NOT NULL UNIQUE,
		face_count      INT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS reconcile_queue (
		id         UUID PRIMARY KEY,
		face_id    UUID NOT NULL,
		reason     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS reconcile_queue_face_idx ON reconcile_queue (face_id)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

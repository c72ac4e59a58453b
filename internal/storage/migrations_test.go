package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMigration(t *testing.T, table string) string {
	t.Helper()
	for _, stmt := range migrations {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS "+table) {
			return stmt
		}
	}
	t.Fatalf("no migration creates table %s", table)
	return ""
}

// The queue statements insert UUID entry IDs and order by created_at; the
// DDL must declare matching columns or every queue operation fails on a
// freshly migrated database.
func TestReconcileQueueSchemaMatchesQueries(t *testing.T) {
	ddl := findMigration(t, "reconcile_queue")

	require.Contains(t, ddl, "id         UUID PRIMARY KEY")
	assert.Contains(t, ddl, "face_id")
	assert.Contains(t, ddl, "reason")
	assert.Contains(t, ddl, "created_at")
	assert.NotContains(t, ddl, "BIGSERIAL")
	assert.NotContains(t, ddl, "queued_at")
}

package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EnsureSchema creates the journal table and its indexes if absent.
func EnsureSchema(ctx context.Context, db DB, table string) error {
	for _, stmt := range schemaStatements(table) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(table string) []string {
	ident := pgx.Identifier{table}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            BIGSERIAL PRIMARY KEY,
			connection_id TEXT        NOT NULL,
			direction     TEXT        NOT NULL,
			msg_type      TEXT,
			request_id    TEXT,
			payload       JSONB       NOT NULL,
			malformed     BOOLEAN     NOT NULL DEFAULT FALSE,
			recorded_at   TIMESTAMPTZ NOT NULL
		)`, ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (request_id) WHERE request_id IS NOT NULL`,
			pgx.Identifier{table + "_request_id_idx"}.Sanitize(), ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (connection_id, recorded_at)`,
			pgx.Identifier{table + "_conn_time_idx"}.Sanitize(), ident),
	}
}

package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/izavyalov-dev/treebeard-action/state/migrations"
)

// ApplyMigrations runs pending migrations in one transaction. An applied
// migration whose script no longer matches its recorded checksum is an error.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS action_schema_migrations (
    id TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`); err != nil {
			return err
		}

		applied, err := loadAppliedMigrations(ctx, tx)
		if err != nil {
			return err
		}

		for _, migration := range migrations.All {
			sum := checksum(migration.Script)
			if recorded, ok := applied[migration.ID]; ok {
				if recorded != sum {
					return fmt.Errorf("migration %s changed after it was applied", migration.ID)
				}
				continue
			}

			if _, err := tx.ExecContext(ctx, migration.Script); err != nil {
				return fmt.Errorf("apply migration %s: %w", migration.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO action_schema_migrations (id, checksum, applied_at) VALUES ($1, $2, NOW())`, migration.ID, sum); err != nil {
				return fmt.Errorf("record migration %s: %w", migration.ID, err)
			}
		}
		return nil
	})
}

func loadAppliedMigrations(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, checksum FROM action_schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var id, sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		applied[id] = sum
	}
	return applied, rows.Err()
}

func checksum(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

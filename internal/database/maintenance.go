package database

import (
	"context"
	"fmt"
	"time"
)

// PurgeOlderThan deletes rows older than the given retention duration.
// table and timeColumn come from callers (not user input).
func (db *DB) PurgeOlderThan(ctx context.Context, table, timeColumn string, retention time.Duration) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s < now() - $1::interval`,
		table, timeColumn,
	)
	tag, err := db.Pool.Exec(ctx, query, retention.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountRows returns the row count of a table.
func (db *DB) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n)
	return n, err
}

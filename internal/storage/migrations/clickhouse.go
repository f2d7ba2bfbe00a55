package migrations

import (
	"context"
	"fmt"
)

// ClickhouseExecer runs one statement. *clickhouse.Conn satisfies it.
type ClickhouseExecer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// RunClickhouseMigrations applies the embedded ClickHouse migrations statement
// by statement, since the native protocol rejects multi-statement Exec.
// Migrations are idempotent and re-run on every start.
func RunClickhouseMigrations(ctx context.Context, conn ClickhouseExecer) error {
	migrations, err := Load(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		for _, stmt := range Statements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
	}
	return nil
}

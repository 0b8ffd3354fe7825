package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DataHookFunc is a Go function that runs after a specific schema
// version's SQL migration has been applied. Hook SQL must stay
// portable across both dialects ($N placeholders, common functions).
type DataHookFunc func(ctx context.Context, db *sql.DB) error

type dataHook struct {
	SchemaVersion uint
	Name          string
	Fn            DataHookFunc
}

var hookRegistry []dataHook

// RegisterDataHook registers a Go data migration hook for a specific
// schema version. Name must be unique; hooks for the same version run
// in registration order.
func RegisterDataHook(schemaVersion uint, name string, fn DataHookFunc) {
	hookRegistry = append(hookRegistry, dataHook{
		SchemaVersion: schemaVersion,
		Name:          name,
		Fn:            fn,
	})
}

// PendingHooks returns the names of data hooks that haven't run yet.
func PendingHooks(ctx context.Context, db *sql.DB) ([]string, error) {
	if err := ensureDataMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	applied, err := loadAppliedHooks(ctx, db)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, hook := range hookRegistry {
		if !applied[hook.Name] {
			pending = append(pending, hook.Name)
		}
	}
	return pending, nil
}

// RunPendingHooks executes all data hooks that haven't run yet. Each
// completed hook is recorded in data_migrations so reruns are no-ops.
func RunPendingHooks(ctx context.Context, db *sql.DB) (int, error) {
	if err := ensureDataMigrationsTable(ctx, db); err != nil {
		return 0, fmt.Errorf("ensure data_migrations table: %w", err)
	}
	applied, err := loadAppliedHooks(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, hook := range hookRegistry {
		if applied[hook.Name] {
			continue
		}

		slog.Info("running data migration hook",
			"name", hook.Name,
			"schema_version", hook.SchemaVersion,
		)
		start := time.Now()

		if err := hook.Fn(ctx, db); err != nil {
			return count, fmt.Errorf("data hook %q failed: %w", hook.Name, err)
		}

		_, err := db.ExecContext(ctx,
			`INSERT INTO data_migrations (name, version, applied_at) VALUES ($1, $2, $3)`,
			hook.Name, hook.SchemaVersion, time.Now().UTC(),
		)
		if err != nil {
			return count, fmt.Errorf("record hook %q: %w", hook.Name, err)
		}

		slog.Info("data migration hook complete",
			"name", hook.Name,
			"duration", time.Since(start),
		)
		count++
	}

	return count, nil
}

func ensureDataMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS data_migrations (
			name       TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`)
	return err
}

func loadAppliedHooks(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM data_migrations`)
	if err != nil {
		return nil, fmt.Errorf("load applied hooks: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func init() {
	// Schema v2 adds transactions.kind. Legacy rows encoded income as
	// negative amounts; split that back out into the kind column.
	RegisterDataHook(2, "backfill_transaction_kind", func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE transactions SET kind = 'income', amount = -amount WHERE amount < 0`)
		return err
	})
}

// Package pgregistry loads the task catalog that seeds
// registry.Registry from a Postgres-backed table, for deployments that
// want the set of registered tasks to be operator-managed data rather
// than compiled into the worker binary. Domain-stack addition built on
// the teacher's jackc/pgx/v5 dependency (previously scoped to job-status
// persistence in internal/repository/postgres, which had no place in
// the Consumer core).
package pgregistry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-labs/taskconsumer/internal/registry"
)

// Loader reads the enabled task catalog from Postgres.
type Loader struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Loader {
	return &Loader{pool: pool}
}

// TaskDefs queries the `task_catalog` table for enabled task names,
// ordered for deterministic test output. Schema:
//
//	CREATE TABLE task_catalog (name text PRIMARY KEY, enabled boolean NOT NULL DEFAULT true);
func (l *Loader) TaskDefs(ctx context.Context) ([]registry.TaskDef, error) {
	rows, err := l.pool.Query(ctx, `SELECT name FROM task_catalog WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("pgregistry: query task_catalog: %w", err)
	}
	defer rows.Close()

	var defs []registry.TaskDef
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("pgregistry: scan row: %w", err)
		}
		defs = append(defs, registry.TaskDef{Name: name})
	}
	return defs, rows.Err()
}

// Package external implements the broker's out-of-process collaborators:
// Postgres, outbound HTTP, Vault, and the audit log. Each is defined behind
// a narrow interface so internal/executor never depends on a concrete
// client, and each default implementation is backed by a real third-party
// driver rather than a hand-rolled protocol client.
package external

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/profiles"
)

// PostgresManager runs a parameterized query against a named profile's
// database and returns rows as plain maps, ready for JSON shaping.
type PostgresManager interface {
	Query(ctx context.Context, dsn, query string, args []interface{}) (*QueryResult, error)
	Close()
}

// QueryResult is the JSON-shaped result of one query.
type QueryResult struct {
	Columns  []string                 `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	RowCount int                      `json:"row_count"`
}

// PgxPostgresManager pools one *pgxpool.Pool per DSN, lazily created and
// kept for the process lifetime.
type PgxPostgresManager struct {
	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

func NewPgxPostgresManager() *PgxPostgresManager {
	return &PgxPostgresManager{pools: map[string]*pgxpool.Pool{}}
}

func (m *PgxPostgresManager) poolFor(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[dsn]; ok {
		return p, nil
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("dial postgres: %w", err)
	}
	m.pools[dsn] = p
	return p, nil
}

func (m *PgxPostgresManager) Query(ctx context.Context, dsn, query string, args []interface{}) (*QueryResult, error) {
	pool, err := m.poolFor(ctx, dsn)
	if err != nil {
		return nil, errs.New(errs.KindRetryable, "PG_DIAL_FAILED", err.Error())
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.KindInvalidParams, "PG_QUERY_FAILED", err.Error())
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errs.Internal(err)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindRetryable, "PG_ROWS_FAILED", err.Error())
	}

	return &QueryResult{Columns: columns, Rows: out, RowCount: len(out)}, nil
}

func (m *PgxPostgresManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.Close()
	}
	m.pools = map[string]*pgxpool.Pool{}
}

// PostgresDispatcher adapts PostgresManager into executor.Dispatcher for
// the mcp_psql_manager tool.
type PostgresDispatcher struct {
	Manager  PostgresManager
	Profiles *profiles.Store
}

func (d *PostgresDispatcher) Dispatch(ctx context.Context, action, profileName string, args map[string]interface{}) (interface{}, error) {
	if action != "query" {
		return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownAction, fmt.Sprintf("unknown action %q for mcp_psql_manager", action))
	}
	query, _ := args["query"].(string)
	if query == "" {
		return nil, errs.InvalidParams("PG_QUERY_REQUIRED", "query is required")
	}

	dsn, err := d.dsnFor(profileName, args)
	if err != nil {
		return nil, err
	}

	var queryArgs []interface{}
	if raw, ok := args["args"].([]interface{}); ok {
		queryArgs = raw
	}

	queryCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return d.Manager.Query(queryCtx, dsn, query, queryArgs)
}

func (d *PostgresDispatcher) dsnFor(profileName string, args map[string]interface{}) (string, error) {
	if dsn, _ := args["dsn"].(string); dsn != "" {
		return dsn, nil
	}
	if profileName == "" || d.Profiles == nil {
		return "", errs.InvalidParams("PG_PROFILE_REQUIRED", "mcp_psql_manager.query requires a profile or inline dsn")
	}
	p, err := d.Profiles.GetInternal(profileName)
	if err != nil {
		return "", err
	}
	if dsn, ok := p.Secrets["dsn"].(string); ok && dsn != "" {
		return dsn, nil
	}
	if dsn, ok := p.Data["dsn"].(string); ok && dsn != "" {
		return dsn, nil
	}
	return "", errs.InvalidParams("PG_PROFILE_NO_DSN", fmt.Sprintf("profile %q has no dsn", profileName))
}

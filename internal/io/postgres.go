package io

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manupuranic/dataflow-hub/internal/logging"
	"github.com/manupuranic/dataflow-hub/internal/util"
)

// pgxPoolNewFunc allows overriding pgxpool.New for testing.
var pgxPoolNewFunc = pgxpool.New

// Default database operation timeout.
const defaultDbTimeout = 30 * time.Second

// PostgresStore is the PostgreSQL-backed RecordPersister and LookupStore.
// The connection pool is held by the store and reused across all batches of
// a run (and across runs sharing the same store).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL using the given connection string
// (environment variables expanded) and verifies the connection.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	expandedConnStr := util.ExpandEnvUniversal(connStr)
	pingCtx, cancel := context.WithTimeout(ctx, defaultDbTimeout)
	defer cancel()

	pool, err := pgxPoolNewFunc(pingCtx, expandedConnStr)
	if err != nil {
		masked := util.MaskCredentials(expandedConnStr)
		logging.Logf(logging.Error, "PostgresStore failed to create connection pool: %s", masked)
		return nil, fmt.Errorf("PostgresStore failed to create connection pool (using %s): %w", masked, err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		masked := util.MaskCredentials(expandedConnStr)
		return nil, fmt.Errorf("PostgresStore failed to ping database (using %s): %w", masked, err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() {
	if ps.pool != nil {
		ps.pool.Close()
	}
}

// BulkUpsert writes records to the table with insert-or-update-on-conflict
// semantics over conflictColumns. The input is deduplicated by the conflict
// columns first (first occurrence wins) so a single statement never touches
// the same conflict target twice.
func (ps *PostgresStore) BulkUpsert(ctx context.Context, table string, records []map[string]interface{}, conflictColumns []string) error {
	if len(records) == 0 {
		logging.Logf(logging.Debug, "PostgresStore: No records to upsert into table '%s'. Skipping.", table)
		return nil
	}

	records = dedupeByConflictColumns(records, conflictColumns)
	columns := unionColumns(records)
	logging.Logf(logging.Debug, "PostgresStore: Upserting %d records into table '%s' (columns: %v)", len(records), table, columns)

	opCtx, cancel := context.WithTimeout(ctx, defaultDbTimeout*2)
	defer cancel()

	sql, args := buildUpsertSQL(table, columns, conflictColumns, records)
	if _, err := ps.pool.Exec(opCtx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			logging.Logf(logging.Error, "PostgresStore upsert failed for table '%s'. PG Error Code: %s, Message: %s, Detail: %s", table, pgErr.Code, pgErr.Message, pgErr.Detail)
		} else {
			logging.Logf(logging.Error, "PostgresStore upsert failed for table '%s'. Error: %v", table, err)
		}
		return fmt.Errorf("PostgresStore failed to upsert %d records into table '%s': %w", len(records), table, err)
	}

	logging.Logf(logging.Info, "PostgresStore: Upserted %d records into table '%s'", len(records), table)
	return nil
}

// GetOrCreateID resolves value in table.column to the row's id, inserting a
// new row with a generated uuid when none exists.
func (ps *PostgresStore) GetOrCreateID(ctx context.Context, table, column, value string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultDbTimeout)
	defer cancel()

	tableIdent := pgx.Identifier{table}.Sanitize()
	columnIdent := pgx.Identifier{column}.Sanitize()

	selectSQL := fmt.Sprintf("SELECT id FROM %s WHERE %s = $1", tableIdent, columnIdent)
	var id string
	err := ps.pool.QueryRow(opCtx, selectSQL, value).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("PostgresStore lookup failed for %s.%s = '%s': %w", table, column, value, err)
	}

	// Insert-then-reselect handles the race where another connection created
	// the row between our select and insert.
	insertSQL := fmt.Sprintf("INSERT INTO %s (id, %s) VALUES ($1, $2) ON CONFLICT (%s) DO NOTHING", tableIdent, columnIdent, columnIdent)
	if _, err := ps.pool.Exec(opCtx, insertSQL, uuid.NewString(), value); err != nil {
		return "", fmt.Errorf("PostgresStore failed to create %s row for '%s': %w", table, value, err)
	}
	if err := ps.pool.QueryRow(opCtx, selectSQL, value).Scan(&id); err != nil {
		return "", fmt.Errorf("PostgresStore failed to re-read %s row for '%s': %w", table, value, err)
	}
	logging.Logf(logging.Debug, "PostgresStore: Created %s row for '%s' (id: %s)", table, value, id)
	return id, nil
}

// dedupeByConflictColumns keeps the first record for each conflict-column
// tuple, matching the gateway contract in the importer design.
func dedupeByConflictColumns(records []map[string]interface{}, conflictColumns []string) []map[string]interface{} {
	seen := make(map[string]struct{}, len(records))
	deduped := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		parts := make([]string, len(conflictColumns))
		for i, col := range conflictColumns {
			parts[i] = fmt.Sprintf("%v", rec[col])
		}
		key := strings.Join(parts, "||")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, rec)
	}
	if len(deduped) < len(records) {
		logging.Logf(logging.Debug, "PostgresStore: Dropped %d conflict-duplicate records before upsert", len(records)-len(deduped))
	}
	return deduped
}

// unionColumns returns the sorted union of field names across the records.
// Sorting keeps statement shape and parameter order deterministic.
func unionColumns(records []map[string]interface{}) []string {
	set := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			set[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(set))
	for k := range set {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

// buildUpsertSQL assembles a multi-row INSERT ... ON CONFLICT statement with
// numbered parameters. Non-conflict columns are updated from EXCLUDED; when
// every column is a conflict column the statement degrades to DO NOTHING.
func buildUpsertSQL(table string, columns, conflictColumns []string, records []map[string]interface{}) (string, []interface{}) {
	conflictSet := make(map[string]struct{}, len(conflictColumns))
	for _, c := range conflictColumns {
		conflictSet[c] = struct{}{}
	}

	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = pgx.Identifier{c}.Sanitize()
	}
	quotedConflict := make([]string, len(conflictColumns))
	for i, c := range conflictColumns {
		quotedConflict[i] = pgx.Identifier{c}.Sanitize()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", pgx.Identifier{table}.Sanitize(), strings.Join(quotedCols, ", "))

	args := make([]interface{}, 0, len(records)*len(columns))
	placeholder := 1
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", placeholder)
			placeholder++
			args = append(args, rec[col])
		}
		sb.WriteString(")")
	}

	var updates []string
	for i, col := range columns {
		if _, isConflict := conflictSet[col]; isConflict {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quotedCols[i], quotedCols[i]))
	}

	if len(updates) == 0 {
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", strings.Join(quotedConflict, ", "))
	} else {
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(quotedConflict, ", "), strings.Join(updates, ", "))
	}

	return sb.String(), args
}

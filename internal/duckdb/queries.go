package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/tinytelemetry/statwalk/internal/model"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
// Used as defense-in-depth after comment stripping and semicolon rejection.
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	// Remove block comments first.
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	// Remove line comments (-- to end of line).
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// readQuery runs fn under a read slot, the read lock and the query timeout.
func (s *Store) readQuery(fn func(ctx context.Context) error) error {
	ctx, cancel := s.queryCtx()
	defer cancel()
	release, err := s.acquireRead(ctx)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx)
}

// TotalSampleCount returns the number of stored samples.
func (s *Store) TotalSampleCount() (int64, error) {
	var count int64
	err := s.readQuery(func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&count)
	})
	return count, err
}

// DriftReport aggregates stored diagnostics by location, most frequent first.
// An empty subsystem reports every subsystem.
func (s *Store) DriftReport(subsystem string, limit int) ([]model.DriftEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	where := ""
	var args []any
	if subsystem != "" {
		where = "WHERE subsystem = ?"
		args = append(args, subsystem)
	}
	query := fmt.Sprintf(`
		SELECT subsystem, path, key, kind, COUNT(*) AS count,
			MAX(timestamp) AS last_seen,
			arg_max(detail, timestamp) AS detail
		FROM diagnostics %s
		GROUP BY subsystem, path, key, kind
		ORDER BY count DESC, subsystem, path, key
		LIMIT ?`, where)
	args = append(args, limit)

	var results []model.DriftEntry
	err := s.readQuery(func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var e model.DriftEntry
			var detail sql.NullString
			if err := rows.Scan(&e.Subsystem, &e.Path, &e.Key, &e.Kind, &e.Count, &e.LastSeen, &detail); err != nil {
				log.Printf("duckdb scan error (DriftReport): %v", err)
				continue
			}
			e.Detail = detail.String
			results = append(results, e)
		}
		return rows.Err()
	})
	return results, err
}

// LatestSamples returns the most recent value of every series for one
// subsystem, optionally narrowed to an instance, ordered by metric ID.
func (s *Store) LatestSamples(subsystem, instance string, limit int) ([]model.MetricSample, error) {
	if limit <= 0 {
		limit = 1000
	}
	conditions := []string{"subsystem = ?"}
	args := []any{subsystem}
	if instance != "" {
		conditions = append(conditions, "instance = ?")
		args = append(args, instance)
	}
	query := fmt.Sprintf(`
		SELECT timestamp, subsystem, instance, name, kind, value, CAST(labels AS VARCHAR) AS labels
		FROM samples
		WHERE %s
		QUALIFY row_number() OVER (PARTITION BY instance, metric_id ORDER BY timestamp DESC) = 1
		ORDER BY instance, metric_id
		LIMIT ?`, strings.Join(conditions, " AND "))
	args = append(args, limit)

	var results []model.MetricSample
	err := s.readQuery(func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m model.MetricSample
			var kind string
			var labelsJSON sql.NullString
			if err := rows.Scan(&m.Timestamp, &m.Subsystem, &m.Instance, &m.Name, &kind, &m.Value, &labelsJSON); err != nil {
				log.Printf("duckdb scan error (LatestSamples): %v", err)
				continue
			}
			m.Kind, _ = model.ParseMetricKind(kind)
			m.Labels = model.Labels{}
			if labelsJSON.Valid && labelsJSON.String != "" && labelsJSON.String != "{}" {
				if err := json.Unmarshal([]byte(labelsJSON.String), &m.Labels); err != nil {
					log.Printf("duckdb: bad labels for %s: %v", m.Name, err)
				}
			}
			results = append(results, m)
		}
		return rows.Err()
	})
	return results, err
}

// DeleteBefore removes samples and diagnostics older than cutoff and returns
// the number of rows deleted.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, table := range retainedTables {
		// Table names are hardcoded constants, not user input.
		res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

var retainedTables = []string{"samples", "diagnostics"}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip SQL comments so keywords hidden in comments are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	// Defense-in-depth: reject dangerous keywords after comment stripping.
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	ctx, cancel := s.queryCtx()
	defer cancel()
	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	maxRows := 1000

	for rows.Next() && len(results) < maxRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			log.Printf("duckdb scan error (ExecuteQuery): %v", err)
			continue
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable schema description for query authors.
func (s *Store) GetSchemaDescription() string {
	return `Table 'samples': timestamp (TIMESTAMP), subsystem (VARCHAR), instance (VARCHAR), ` +
		`name (VARCHAR), kind (VARCHAR: gauge/counter), value (DOUBLE), labels (JSON), ` +
		`metric_id (VARCHAR: name plus sorted labels). ` +
		`Table 'diagnostics': timestamp (TIMESTAMP), subsystem (VARCHAR), instance (VARCHAR), ` +
		`path (VARCHAR), key (VARCHAR), kind (VARCHAR: unmapped_key/type_mismatch/missing_extract_path/depth_exceeded), ` +
		`detail (VARCHAR).`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	counts := make(map[string]int64, len(retainedTables))
	err := s.readQuery(func(ctx context.Context) error {
		for _, table := range retainedTables {
			var count int64
			// Table names are hardcoded constants, not user input.
			err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
			if err != nil {
				continue
			}
			counts[table] = count
		}
		return nil
	})
	return counts, err
}

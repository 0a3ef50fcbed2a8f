package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// maxQueryRows bounds runQuery result sets fed back into the conversation.
const maxQueryRows = 200

// QueryResult is the tabular result of a runQuery operation. Columns and
// Rows feed directly into renderTable/createChart payloads.
type QueryResult struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected,omitempty"`
	Truncated    bool     `json:"truncated,omitempty"`
}

func (d Deps) runQuery(ctx context.Context, projectID string, args json.RawMessage) (any, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	path, err := d.Sandbox.DataDBPath(projectID)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open project database: %w", err)
	}
	defer conn.Close()

	if isReadQuery(params.Query) {
		return selectRows(ctx, conn, params.Query)
	}

	res, err := conn.ExecContext(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	affected, _ := res.RowsAffected()
	return &QueryResult{RowsAffected: affected}, nil
}

func isReadQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH") ||
		strings.HasPrefix(q, "PRAGMA") || strings.HasPrefix(q, "EXPLAIN")
}

func selectRows(ctx context.Context, conn *sql.DB, query string) (*QueryResult, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &QueryResult{Columns: columns}
	for rows.Next() {
		if len(result.Rows) >= maxQueryRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		// SQLite hands back []byte for text columns; convert for JSON.
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

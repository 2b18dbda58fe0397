// Package health reports database reachability and schema drift on demand.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog/log"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	CodeDBConnection = "DB_CONNECTION"
	CodeSchema       = "SCHEMA_ERROR"
)

type Column struct {
	Table  string
	Column string
}

func (c Column) String() string {
	return c.Table + "." + c.Column
}

// RequiredColumns are the columns added after the first schema revision;
// a database missing any of them predates the current feature set.
var RequiredColumns = []Column{
	{Table: "folders", Column: "parent_id"},
	{Table: "files", Column: "is_favorite"},
	{Table: "files", Column: "share_id"},
	{Table: "users", Column: "referred_by"},
	{Table: "users", Column: "credits"},
}

type Report struct {
	Status       string    `json:"status"`
	SchemaStatus string    `json:"schemaStatus"`
	SchemaIssues []string  `json:"schemaIssues"`
	Message      string    `json:"message"`
	Code         string    `json:"code,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (r Report) Healthy() bool {
	return r.Status == StatusOK && r.SchemaStatus == StatusOK
}

type Checker struct {
	db       *sql.DB
	sql      sq.StatementBuilderType
	required []Column
	timeout  time.Duration
	now      func() time.Time
}

func NewChecker(db *sql.DB) *Checker {
	return &Checker{
		db:       db,
		sql:      sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		required: RequiredColumns,
		timeout:  5 * time.Second,
		now:      time.Now,
	}
}

// Check pings the database and then compares information_schema against
// RequiredColumns.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := Report{
		Status:       StatusOK,
		SchemaStatus: StatusOK,
		SchemaIssues: []string{},
		Message:      "Database connection and schema look good",
		Timestamp:    c.now().UTC(),
	}

	if err := c.db.PingContext(ctx); err != nil {
		report.Status = StatusError
		report.SchemaStatus = "unknown"
		report.Code = CodeDBConnection
		report.Message = "Database connection failed"
		return report
	}

	missing, err := c.missingColumns(ctx)
	if err != nil {
		report.SchemaStatus = StatusError
		report.Code = CodeSchema
		report.Message = "Could not inspect database schema"
		report.SchemaIssues = []string{"schema introspection failed"}
		log.Error().Err(err).Msg("health schema check")
		return report
	}
	if len(missing) > 0 {
		report.SchemaStatus = StatusError
		report.Code = CodeSchema
		report.Message = "Database schema is missing required columns"
		for _, col := range missing {
			report.SchemaIssues = append(report.SchemaIssues, fmt.Sprintf("missing column %s", col))
		}
	}
	return report
}

func (c *Checker) missingColumns(ctx context.Context) ([]Column, error) {
	tables := make([]string, 0, len(c.required))
	seen := make(map[string]struct{})
	for _, col := range c.required {
		if _, ok := seen[col.Table]; ok {
			continue
		}
		seen[col.Table] = struct{}{}
		tables = append(tables, col.Table)
	}
	sort.Strings(tables)

	sqlStr, args, err := c.sql.Select("table_name", "column_name").
		From("information_schema.columns").
		Where("table_schema = current_schema()").
		Where(sq.Eq{"table_name": tables}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build column query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	present := make(map[Column]bool)
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Table, &col.Column); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		present[col] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	missing := make([]Column, 0)
	for _, col := range c.required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

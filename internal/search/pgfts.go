package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements ranked search using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const ftsUnion = `
	SELECT 'file'::text AS kind, f.id::text AS id, f.name,
		ts_headline('english', f.content, plainto_tsquery('english', $2), 'MaxFragments=1,MaxWords=30') AS snippet,
		f.folder_id::text AS folder_id,
		ts_rank(f.fts, plainto_tsquery('english', $2)) AS rank
	FROM files f
	WHERE f.user_id = $1 AND f.fts @@ plainto_tsquery('english', $2)
	UNION ALL
	SELECT 'folder'::text AS kind, d.id::text AS id, d.name,
		''::text AS snippet,
		d.parent_id::text AS folder_id,
		ts_rank(d.fts, plainto_tsquery('english', $2)) AS rank
	FROM folders d
	WHERE d.user_id = $1 AND d.fts @@ plainto_tsquery('english', $2)`

// Search runs one UNION ALL over files and folders owned by the caller,
// ordered by ts_rank with ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM (`+ftsUnion+`) sub`, q.UserID, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT kind, id, name, snippet, folder_id
		FROM (%s) sub
		ORDER BY rank DESC, name ASC
		LIMIT %d OFFSET %d`, ftsUnion, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, q.UserID, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind string
		var folderID sql.NullString
		if err := rows.Scan(&kind, &r.ID, &r.Name, &r.Snippet, &folderID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Kind = Kind(kind)
		if folderID.Valid {
			r.FolderID = &folderID.String
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, 'file', user_id::text, name, content, coalesce(folder_id::text, '') FROM files
		UNION ALL
		SELECT id::text, 'folder', user_id::text, name, '', coalesce(parent_id::text, '') FROM folders
	`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.UserID, &r.Name, &r.Content, &r.FolderID); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = Kind(kind)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

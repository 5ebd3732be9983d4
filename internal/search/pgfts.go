package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches active comments with plainto_tsquery and ts_rank, using
// ts_headline for snippets. Deleted comments and comments on deleted
// versions or artifacts never surface.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `c.fts @@ plainto_tsquery('english', $1)
		AND NOT c.is_deleted AND NOT v.is_deleted AND NOT a.is_deleted`
	args := []any{q.Text}
	if q.FilterArtifactID != "" {
		where += ` AND a.id = $2`
		args = append(args, q.FilterArtifactID)
	}

	countSQL := fmt.Sprintf(`
		SELECT count(*)
		FROM comments c
		JOIN artifact_versions v ON v.id = c.version_id
		JOIN artifacts a ON a.id = v.artifact_id
		WHERE %s`, where)

	dataSQL := fmt.Sprintf(`
		SELECT c.id, c.version_id, a.id,
			ts_headline('english', c.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			COALESCE(u.display_name, '') AS author
		FROM comments c
		JOIN artifact_versions v ON v.id = c.version_id
		JOIN artifacts a ON a.id = v.artifact_id
		LEFT JOIN users u ON u.id = c.created_by
		WHERE %s
		ORDER BY ts_rank(c.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.VersionID, &r.ArtifactID, &r.Snippet, &r.Author); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all active comments for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CommentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.version_id, a.id, c.content, COALESCE(u.display_name, '')
		FROM comments c
		JOIN artifact_versions v ON v.id = c.version_id
		JOIN artifacts a ON a.id = v.artifact_id
		LEFT JOIN users u ON u.id = c.created_by
		WHERE NOT c.is_deleted AND NOT v.is_deleted AND NOT a.is_deleted
	`)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	defer rows.Close()

	comments := make([]CommentRecord, 0)
	for rows.Next() {
		var c CommentRecord
		if err := rows.Scan(&c.ID, &c.VersionID, &c.ArtifactID, &c.Content, &c.Author); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	return comments, nil
}

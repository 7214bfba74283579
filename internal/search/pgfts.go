package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches chat_sessions.fts. It is always considered healthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Healthy() bool {
	return true
}

// SearchSessionIDs ranks by ts_rank and also matches project codes by prefix.
func (p *PgFTS) SearchSessionIDs(ctx context.Context, q Query) ([]string, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = MaxHits
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text
		FROM chat_sessions
		WHERE fts @@ plainto_tsquery('simple', $1)
			OR proj_code ILIKE $2
		ORDER BY ts_rank(fts, plainto_tsquery('simple', $1)) DESC, created_at DESC
		LIMIT $3
	`, text, escapeLike(text)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pgfts hit: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pgfts hits: %w", err)
	}
	return ids, nil
}

// LoadAllRecords reads every session with its effective classification for a
// full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SessionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, COALESCE(summary, ''), COALESCE(proj_code, ''), COALESCE(effective_status, ''), COALESCE(effective_category, ''), owner_name
		FROM v_effective_sessions
	`)
	if err != nil {
		return nil, fmt.Errorf("load session records: %w", err)
	}
	defer rows.Close()

	records := make([]SessionRecord, 0)
	for rows.Next() {
		var record SessionRecord
		if err := rows.Scan(&record.ID, &record.Summary, &record.ProjectCode, &record.Status, &record.Category, &record.OwnerName); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session records: %w", err)
	}
	return records, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

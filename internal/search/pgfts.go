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

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects, extraction_sessions,
// and field_validations using plainto_tsquery and ts_rank, with ts_headline
// for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.OrgID == "" {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.OrgID}
	argN := 3

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id, ''::text AS session_id,
				ts_rank(to_tsvector('english', p.name || ' ' || p.description), %s) AS rank
			FROM projects p
			WHERE p.org_id = $2
			  AND to_tsvector('english', p.name || ' ' || p.description) @@ %s`,
			tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultSession {
		where := ""
		if q.FilterProjectID != "" {
			where = fmt.Sprintf(" AND s.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'session'::text AS type, s.id, s.name AS title,
				ts_headline('english', coalesce(s.submitter_email, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.project_id, s.id AS session_id,
				ts_rank(to_tsvector('english', s.name || ' ' || s.submitter_email), %s) AS rank
			FROM extraction_sessions s
			JOIN projects p ON p.id = s.project_id
			WHERE p.org_id = $2%s
			  AND to_tsvector('english', s.name || ' ' || s.submitter_email) @@ %s`,
			tsQuery, tsQuery, where, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultValidation {
		where := ""
		if q.FilterProjectID != "" {
			where = fmt.Sprintf(" AND s.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'validation'::text AS type, fv.id, sv.value_name AS title,
				ts_headline('english', coalesce(fv.extracted_value, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.project_id, fv.session_id,
				ts_rank(to_tsvector('english', fv.extracted_value || ' ' || fv.ai_reasoning), %s) AS rank
			FROM field_validations fv
			JOIN extraction_sessions s ON s.id = fv.session_id
			JOIN projects p ON p.id = s.project_id
			JOIN step_values sv ON sv.id = fv.value_id
			WHERE p.org_id = $2%s
			  AND to_tsvector('english', fv.extracted_value || ' ' || fv.ai_reasoning) @@ %s`,
			tsQuery, tsQuery, where, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, session_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.SessionID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		r.OrgID = q.OrgID
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []SessionRecord, []ValidationRecord, error) {
	projRows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, name, description
		FROM projects
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projRows.Close()

	projects := make([]ProjectRecord, 0)
	for projRows.Next() {
		var pr ProjectRecord
		if err := projRows.Scan(&pr.ID, &pr.OrgID, &pr.Name, &pr.Description); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, pr)
	}
	if err := projRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	sessRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, p.org_id, s.project_id, s.name, s.status, s.submitter_email
		FROM extraction_sessions s
		JOIN projects p ON p.id = s.project_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load sessions: %w", err)
	}
	defer sessRows.Close()

	sessions := make([]SessionRecord, 0)
	for sessRows.Next() {
		var sr SessionRecord
		if err := sessRows.Scan(&sr.ID, &sr.OrgID, &sr.ProjectID, &sr.Name, &sr.Status, &sr.SubmitterEmail); err != nil {
			return nil, nil, nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sr)
	}
	if err := sessRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate sessions: %w", err)
	}

	valRows, err := p.db.QueryContext(ctx, `
		SELECT fv.id, p.org_id, s.project_id, fv.session_id, sv.value_name,
			fv.extracted_value, fv.ai_reasoning, fv.validation_status
		FROM field_validations fv
		JOIN extraction_sessions s ON s.id = fv.session_id
		JOIN projects p ON p.id = s.project_id
		JOIN step_values sv ON sv.id = fv.value_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load validations: %w", err)
	}
	defer valRows.Close()

	validations := make([]ValidationRecord, 0)
	for valRows.Next() {
		var vr ValidationRecord
		if err := valRows.Scan(&vr.ID, &vr.OrgID, &vr.ProjectID, &vr.SessionID, &vr.ValueName, &vr.ExtractedValue, &vr.Reasoning, &vr.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan validation: %w", err)
		}
		validations = append(validations, vr)
	}
	if err := valRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate validations: %w", err)
	}

	return projects, sessions, validations, nil
}

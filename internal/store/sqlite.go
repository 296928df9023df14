package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mediascout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The default
// backend for single-process CLI use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS searches (
	id            TEXT PRIMARY KEY,
	user_id       TEXT,
	config        TEXT NOT NULL,
	stage         TEXT NOT NULL DEFAULT 'initializing',
	progress      TEXT,
	errors        TEXT,
	aggregated    TEXT,
	cancel_reason TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS search_results (
	id         TEXT PRIMARY KEY,
	search_id  TEXT NOT NULL REFERENCES searches(id),
	payload    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id           TEXT PRIMARY KEY,
	search_id    TEXT NOT NULL REFERENCES searches(id),
	payload      TEXT NOT NULL,
	extracted_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS duplicate_groups (
	id        TEXT PRIMARY KEY,
	search_id TEXT NOT NULL REFERENCES searches(id),
	payload   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_searches_stage ON searches(stage);
CREATE INDEX IF NOT EXISTS idx_searches_user_id ON searches(user_id);
CREATE INDEX IF NOT EXISTS idx_searches_updated_at ON searches(updated_at);
CREATE INDEX IF NOT EXISTS idx_search_results_search_id ON search_results(search_id);
CREATE INDEX IF NOT EXISTS idx_contacts_search_id ON contacts(search_id);
CREATE INDEX IF NOT EXISTS idx_duplicate_groups_search_id ON duplicate_groups(search_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSearch(ctx context.Context, job *model.SearchJob) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal config")
	}
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO searches (id, user_id, config, stage, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, string(configJSON), string(job.Stage), string(progressJSON),
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert search %s", job.ID)
}

func (s *SQLiteStore) UpdateSearchStage(ctx context.Context, searchID string, stage model.SearchStage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE searches SET stage = ?, updated_at = ? WHERE id = ?`,
		string(stage), time.Now().UTC(), searchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update search stage %s", searchID)
	}
	return checkRowsAffected(res, "search", searchID)
}

func (s *SQLiteStore) UpdateSearchProgress(ctx context.Context, searchID string, progress model.SearchProgress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE searches SET progress = ?, updated_at = ? WHERE id = ?`,
		string(progressJSON), time.Now().UTC(), searchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update search progress %s", searchID)
	}
	return checkRowsAffected(res, "search", searchID)
}

func (s *SQLiteStore) AppendSearchError(ctx context.Context, searchID string, serr model.SearchError) error {
	var errorsJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT errors FROM searches WHERE id = ?`, searchID,
	).Scan(&errorsJSON)
	if err == sql.ErrNoRows {
		return eris.Errorf("search not found: %s", searchID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read search errors %s", searchID)
	}

	var errs []model.SearchError
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &errs); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal search errors")
		}
	}
	errs = append(errs, serr)

	updated, err := json.Marshal(errs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal search errors")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE searches SET errors = ?, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UTC(), searchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append search error %s", searchID)
	}
	return checkRowsAffected(res, "search", searchID)
}

func (s *SQLiteStore) CompleteSearch(ctx context.Context, job *model.SearchJob) error {
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal errors")
	}
	var aggregatedJSON []byte
	if job.Aggregated != nil {
		aggregatedJSON, err = json.Marshal(job.Aggregated)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal aggregated")
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE searches SET stage = ?, progress = ?, errors = ?, aggregated = ?,
		 cancel_reason = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(job.Stage), string(progressJSON), string(errorsJSON), nullString(aggregatedJSON),
		job.CancelReason, time.Now().UTC(), job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete search %s", job.ID)
	}
	return checkRowsAffected(res, "search", job.ID)
}

func (s *SQLiteStore) GetSearch(ctx context.Context, searchID string) (*model.SearchJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, config, stage, progress, errors, aggregated, cancel_reason,
		        created_at, updated_at, completed_at
		 FROM searches WHERE id = ?`,
		searchID,
	)
	job, err := scanSearch(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM search_results WHERE search_id = ? ORDER BY fetched_at, id`,
		searchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load results %s", searchID)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result payload")
		}
		var r model.SearchResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		job.Results = append(job.Results, r)
	}
	return job, eris.Wrap(rows.Err(), "sqlite: load results iterate")
}

func (s *SQLiteStore) ListSearches(ctx context.Context, filter SearchFilter) ([]model.SearchJob, error) {
	query := `SELECT id, user_id, config, stage, progress, errors, aggregated, cancel_reason,
	                 created_at, updated_at, completed_at
	          FROM searches WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list searches")
	}
	defer rows.Close()

	var jobs []model.SearchJob
	for rows.Next() {
		j, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list searches iterate")
}

func (s *SQLiteStore) DeleteExpiredSearches(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	terminal := []any{
		string(model.StageCompleted), string(model.StageFailed), string(model.StageCancelled),
	}

	for _, table := range []string{"search_results", "contacts", "duplicate_groups"} {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE search_id IN
			 (SELECT id FROM searches WHERE stage IN (?, ?, ?) AND updated_at <= ?)`,
			append(terminal, cutoff)...,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: delete expired %s", table)
		}
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM searches WHERE stage IN (?, ?, ?) AND updated_at <= ?`,
		append(terminal, cutoff)...,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired searches")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) SaveResults(ctx context.Context, searchID string, results []model.SearchResult) error {
	for _, r := range results {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal result")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO search_results (id, search_id, payload, fetched_at) VALUES (?, ?, ?, ?)`,
			r.ID, searchID, string(payload), r.FetchedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save result %s", r.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveContacts(ctx context.Context, searchID string, contacts []model.ExtractedContact) error {
	for _, c := range contacts {
		payload, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal contact")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO contacts (id, search_id, payload, extracted_at) VALUES (?, ?, ?, ?)`,
			c.ID, searchID, string(payload), c.ExtractedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save contact %s", c.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) GetContacts(ctx context.Context, searchID string) ([]model.ExtractedContact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM contacts WHERE search_id = ? ORDER BY id`, searchID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contacts %s", searchID)
	}
	defer rows.Close() //nolint:errcheck

	var contacts []model.ExtractedContact
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		var c model.ExtractedContact
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "sqlite: iterate contacts")
}

func (s *SQLiteStore) SaveDuplicateGroups(ctx context.Context, searchID string, groups []model.DuplicateGroup) error {
	for _, g := range groups {
		payload, err := json.Marshal(g)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal duplicate group")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO duplicate_groups (id, search_id, payload) VALUES (?, ?, ?)`,
			g.ID, searchID, string(payload),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save duplicate group %s", g.ID)
		}
	}
	return nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSearch(row scannable) (*model.SearchJob, error) {
	var (
		j                                              model.SearchJob
		userID, progress, errs, aggregated, cancelWhy sql.NullString
		completedAt                                    sql.NullTime
		configJSON                                     string
	)

	err := row.Scan(&j.ID, &userID, &configJSON, &j.Stage, &progress, &errs, &aggregated,
		&cancelWhy, &j.CreatedAt, &j.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("search not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan search")
	}

	j.UserID = userID.String
	j.CancelReason = cancelWhy.String
	if err := json.Unmarshal([]byte(configJSON), &j.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal config")
	}
	if progress.Valid && progress.String != "" {
		if err := json.Unmarshal([]byte(progress.String), &j.Progress); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal progress")
		}
	}
	if errs.Valid && errs.String != "" {
		if err := json.Unmarshal([]byte(errs.String), &j.Errors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal errors")
		}
	}
	if aggregated.Valid && aggregated.String != "" {
		j.Aggregated = &model.AggregatedSearchResult{}
		if err := json.Unmarshal([]byte(aggregated.String), j.Aggregated); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal aggregated")
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

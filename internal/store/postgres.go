package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mediascout/internal/db"
	"github.com/sells-group/mediascout/internal/model"
)

// PostgresStore implements Store using pgxpool, for deployments where
// several workers share one search backlog.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot status-transition path.
var preparedStatements = map[string]string{
	"insert_search":          `INSERT INTO searches (id, user_id, config, stage, progress, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"update_search_stage":    `UPDATE searches SET stage = $1, updated_at = $2 WHERE id = $3`,
	"update_search_progress": `UPDATE searches SET progress = $1, updated_at = $2 WHERE id = $3`,
	"append_search_error":    `UPDATE searches SET errors = COALESCE(errors, '[]'::jsonb) || $1::jsonb, updated_at = $2 WHERE id = $3`,
	"get_search":             `SELECT id, user_id, config, stage, progress, errors, aggregated, cancel_reason, created_at, updated_at, completed_at FROM searches WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS searches (
	id            TEXT PRIMARY KEY,
	user_id       TEXT,
	config        JSONB NOT NULL,
	stage         TEXT NOT NULL DEFAULT 'initializing',
	progress      JSONB,
	errors        JSONB,
	aggregated    JSONB,
	cancel_reason TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS search_results (
	id         TEXT PRIMARY KEY,
	search_id  TEXT NOT NULL REFERENCES searches(id),
	payload    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id           TEXT PRIMARY KEY,
	search_id    TEXT NOT NULL REFERENCES searches(id),
	payload      JSONB NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS duplicate_groups (
	id        TEXT PRIMARY KEY,
	search_id TEXT NOT NULL REFERENCES searches(id),
	payload   JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_searches_stage ON searches(stage);
CREATE INDEX IF NOT EXISTS idx_searches_user_id ON searches(user_id);
CREATE INDEX IF NOT EXISTS idx_searches_updated_at ON searches(updated_at);
CREATE INDEX IF NOT EXISTS idx_search_results_search_id ON search_results(search_id);
CREATE INDEX IF NOT EXISTS idx_contacts_search_id ON contacts(search_id);
CREATE INDEX IF NOT EXISTS idx_duplicate_groups_search_id ON duplicate_groups(search_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateSearch(ctx context.Context, job *model.SearchJob) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal config")
	}
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO searches (id, user_id, config, stage, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.UserID, configJSON, string(job.Stage), progressJSON,
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert search %s", job.ID)
}

func (s *PostgresStore) UpdateSearchStage(ctx context.Context, searchID string, stage model.SearchStage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE searches SET stage = $1, updated_at = $2 WHERE id = $3`,
		string(stage), time.Now().UTC(), searchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update search stage %s", searchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("search not found: %s", searchID)
	}
	return nil
}

func (s *PostgresStore) UpdateSearchProgress(ctx context.Context, searchID string, progress model.SearchProgress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE searches SET progress = $1, updated_at = $2 WHERE id = $3`,
		progressJSON, time.Now().UTC(), searchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update search progress %s", searchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("search not found: %s", searchID)
	}
	return nil
}

func (s *PostgresStore) AppendSearchError(ctx context.Context, searchID string, serr model.SearchError) error {
	errJSON, err := json.Marshal([]model.SearchError{serr})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal search error")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE searches SET errors = COALESCE(errors, '[]'::jsonb) || $1::jsonb, updated_at = $2 WHERE id = $3`,
		errJSON, time.Now().UTC(), searchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append search error %s", searchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("search not found: %s", searchID)
	}
	return nil
}

func (s *PostgresStore) CompleteSearch(ctx context.Context, job *model.SearchJob) error {
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress")
	}
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal errors")
	}
	var aggregatedJSON []byte
	if job.Aggregated != nil {
		aggregatedJSON, err = json.Marshal(job.Aggregated)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal aggregated")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE searches SET stage = $1, progress = $2, errors = $3, aggregated = $4,
		 cancel_reason = $5, updated_at = $6, completed_at = $7 WHERE id = $8`,
		string(job.Stage), progressJSON, errorsJSON, aggregatedJSON,
		job.CancelReason, time.Now().UTC(), job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete search %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("search not found: %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetSearch(ctx context.Context, searchID string) (*model.SearchJob, error) {
	var (
		j                                        model.SearchJob
		userID, cancelWhy                        *string
		configJSON                               []byte
		progressJSON, errorsJSON, aggregatedJSON *[]byte
		completedAt                              *time.Time
	)

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, config, stage, progress, errors, aggregated, cancel_reason,
		        created_at, updated_at, completed_at
		 FROM searches WHERE id = $1`,
		searchID,
	).Scan(&j.ID, &userID, &configJSON, &j.Stage, &progressJSON, &errorsJSON, &aggregatedJSON,
		&cancelWhy, &j.CreatedAt, &j.UpdatedAt, &completedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get search %s", searchID)
	}

	if err := hydrateSearch(&j, userID, cancelWhy, configJSON, progressJSON, errorsJSON, aggregatedJSON, completedAt); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM search_results WHERE search_id = $1 ORDER BY fetched_at, id`,
		searchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load results %s", searchID)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result payload")
		}
		var r model.SearchResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		j.Results = append(j.Results, r)
	}
	return &j, eris.Wrap(rows.Err(), "postgres: load results iterate")
}

func (s *PostgresStore) ListSearches(ctx context.Context, filter SearchFilter) ([]model.SearchJob, error) {
	query := `SELECT id, user_id, config, stage, progress, errors, aggregated, cancel_reason,
	                 created_at, updated_at, completed_at
	          FROM searches WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list searches")
	}
	defer rows.Close()

	var jobs []model.SearchJob
	for rows.Next() {
		var (
			j                                        model.SearchJob
			userID, cancelWhy                        *string
			configJSON                               []byte
			progressJSON, errorsJSON, aggregatedJSON *[]byte
			completedAt                              *time.Time
		)
		if err := rows.Scan(&j.ID, &userID, &configJSON, &j.Stage, &progressJSON, &errorsJSON,
			&aggregatedJSON, &cancelWhy, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search")
		}
		if err := hydrateSearch(&j, userID, cancelWhy, configJSON, progressJSON, errorsJSON, aggregatedJSON, completedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list searches iterate")
}

func (s *PostgresStore) DeleteExpiredSearches(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	for _, table := range []string{"search_results", "contacts", "duplicate_groups"} {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM `+table+` WHERE search_id IN
			 (SELECT id FROM searches WHERE stage IN ('completed', 'failed', 'cancelled') AND updated_at <= $1)`,
			cutoff,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: delete expired %s", table)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM searches WHERE stage IN ('completed', 'failed', 'cancelled') AND updated_at <= $1`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired searches")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SaveResults(ctx context.Context, searchID string, results []model.SearchResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal result")
		}
		rows = append(rows, []any{r.ID, searchID, payload, r.FetchedAt})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "search_results",
		Columns:      []string{"id", "search_id", "payload", "fetched_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrapf(err, "postgres: save results %s", searchID)
}

func (s *PostgresStore) SaveContacts(ctx context.Context, searchID string, contacts []model.ExtractedContact) error {
	rows := make([][]any, 0, len(contacts))
	for _, c := range contacts {
		payload, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal contact")
		}
		rows = append(rows, []any{c.ID, searchID, payload, c.ExtractedAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "contacts",
		[]string{"id", "search_id", "payload", "extracted_at"}, rows)
	return eris.Wrapf(err, "postgres: save contacts %s", searchID)
}

func (s *PostgresStore) GetContacts(ctx context.Context, searchID string) ([]model.ExtractedContact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM contacts WHERE search_id = $1 ORDER BY id`, searchID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contacts %s", searchID)
	}
	defer rows.Close()

	var contacts []model.ExtractedContact
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		var c model.ExtractedContact
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, eris.Wrap(err, "postgres: decode contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "postgres: iterate contacts")
}

func (s *PostgresStore) SaveDuplicateGroups(ctx context.Context, searchID string, groups []model.DuplicateGroup) error {
	rows := make([][]any, 0, len(groups))
	for _, g := range groups {
		payload, err := json.Marshal(g)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal duplicate group")
		}
		rows = append(rows, []any{g.ID, searchID, payload})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "duplicate_groups",
		Columns:      []string{"id", "search_id", "payload"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrapf(err, "postgres: save duplicate groups %s", searchID)
}

func hydrateSearch(j *model.SearchJob, userID, cancelWhy *string, configJSON []byte, progressJSON, errorsJSON, aggregatedJSON *[]byte, completedAt *time.Time) error {
	if userID != nil {
		j.UserID = *userID
	}
	if cancelWhy != nil {
		j.CancelReason = *cancelWhy
	}
	if err := json.Unmarshal(configJSON, &j.Config); err != nil {
		return eris.Wrap(err, "postgres: unmarshal config")
	}
	if progressJSON != nil {
		if err := json.Unmarshal(*progressJSON, &j.Progress); err != nil {
			return eris.Wrap(err, "postgres: unmarshal progress")
		}
	}
	if errorsJSON != nil {
		if err := json.Unmarshal(*errorsJSON, &j.Errors); err != nil {
			return eris.Wrap(err, "postgres: unmarshal errors")
		}
	}
	if aggregatedJSON != nil {
		j.Aggregated = &model.AggregatedSearchResult{}
		if err := json.Unmarshal(*aggregatedJSON, j.Aggregated); err != nil {
			return eris.Wrap(err, "postgres: unmarshal aggregated")
		}
	}
	j.CompletedAt = completedAt
	return nil
}


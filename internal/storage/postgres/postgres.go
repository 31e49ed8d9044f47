// Package postgres implements storage.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresStore implements storage.Store
var _ storage.Store = (*postgresStore)(nil)

type postgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	source_type TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}',
	headers TEXT NOT NULL DEFAULT '{}',
	method TEXT NOT NULL DEFAULT 'GET',
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	crawl_interval_ms BIGINT NOT NULL DEFAULT 0,
	timeout_ms BIGINT NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL,
	CONSTRAINT sources_name_key UNIQUE (name)
);
CREATE INDEX IF NOT EXISTS sources_type_idx ON sources (source_type, enabled);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	request JSONB NOT NULL,
	status TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	heartbeat_at TIMESTAMPTZ,
	total_collected INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	seq BIGSERIAL
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);

CREATE TABLE IF NOT EXISTS records (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	task_id TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'collected',
	collected_at TIMESTAMPTZ NOT NULL,
	deep_collected BOOLEAN NOT NULL DEFAULT FALSE,
	deep_collected_at TIMESTAMPTZ,
	UNIQUE (task_id, url)
);

CREATE TABLE IF NOT EXISTS deep_records (
	id TEXT PRIMARY KEY,
	record_id TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	ai_analysis TEXT NOT NULL DEFAULT '',
	model_used TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL,
	UNIQUE (record_id, url)
);
`

// New connects to dsn and applies the schema.
func New(ctx context.Context, dsn string) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

// args accumulates positional parameters and hands out their $n markers.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func (a *args) paginate(limit, offset int) string {
	out := ""
	if limit > 0 {
		out += " LIMIT " + a.add(limit)
	}
	if offset > 0 {
		out += " OFFSET " + a.add(offset)
	}
	return out
}

func affected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func uniqueName(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "sources_name_key" {
		return storage.ErrDuplicateName
	}
	return err
}

// ---- sources ----

const sourceColumns = `id, name, url, source_type, params, headers, method, enabled, crawl_interval_ms, timeout_ms, retry_count, description, created_at, updated_at`

func (s *postgresStore) CreateSource(ctx context.Context, src *storage.Source) error {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `INSERT INTO sources (`+sourceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		src.ID, src.Name, src.URL, src.Type, src.Params, src.Headers, src.Method, src.Enabled,
		src.CrawlInterval.Milliseconds(), src.Timeout.Milliseconds(), src.RetryCount, src.Description,
		src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create source: %w", uniqueName(err))
	}
	return nil
}

func (s *postgresStore) UpdateSource(ctx context.Context, src *storage.Source) error {
	src.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
	UPDATE sources SET name = $1, url = $2, source_type = $3, params = $4, headers = $5, method = $6, enabled = $7,
		crawl_interval_ms = $8, timeout_ms = $9, retry_count = $10, description = $11, updated_at = $12
	WHERE id = $13`,
		src.Name, src.URL, src.Type, src.Params, src.Headers, src.Method, src.Enabled,
		src.CrawlInterval.Milliseconds(), src.Timeout.Milliseconds(), src.RetryCount, src.Description,
		src.UpdatedAt, src.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update source: %w", uniqueName(err))
	}
	return affected(tag)
}

func (s *postgresStore) DeleteSource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete source: %w", err)
	}
	return affected(tag)
}

func (s *postgresStore) GetSource(ctx context.Context, id string) (*storage.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	return notFound(src, err, "get source")
}

func (s *postgresStore) GetSourceByName(ctx context.Context, name string) (*storage.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = $1`, name))
	return notFound(src, err, "get source by name")
}

func (s *postgresStore) ListSources(ctx context.Context, enabledOnly bool) ([]*storage.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE 1=1`
	if enabledOnly {
		query += ` AND enabled`
	}
	query += ` ORDER BY created_at, seq`
	return collect(ctx, s.pool, query, nil, scanSource, "list sources")
}

func scanSource(row pgx.Row) (*storage.Source, error) {
	var src storage.Source
	var intervalMs, timeoutMs int64
	err := row.Scan(&src.ID, &src.Name, &src.URL, &src.Type, &src.Params, &src.Headers, &src.Method, &src.Enabled,
		&intervalMs, &timeoutMs, &src.RetryCount, &src.Description, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	src.CrawlInterval = time.Duration(intervalMs) * time.Millisecond
	src.Timeout = time.Duration(timeoutMs) * time.Millisecond
	src.CreatedAt = src.CreatedAt.UTC()
	src.UpdatedAt = src.UpdatedAt.UTC()
	return &src, nil
}

// ---- tasks ----

const taskColumns = `id, name, request, status, created_by, created_at, started_at, finished_at, heartbeat_at, total_collected, error`

func (s *postgresStore) CreateTask(ctx context.Context, t *storage.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = storage.TaskPending
	}
	req, err := json.Marshal(t.Request)
	if err != nil {
		return fmt.Errorf("postgres: encode task request: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Name, req, string(t.Status), t.CreatedBy, t.CreatedAt,
		t.StartedAt, t.FinishedAt, t.HeartbeatAt, t.TotalCollected, t.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: create task: %w", err)
	}
	return nil
}

func (s *postgresStore) GetTask(ctx context.Context, id string) (*storage.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	return notFound(t, err, "get task")
}

func (s *postgresStore) ListTasks(ctx context.Context, f storage.TaskFilter) ([]*storage.Task, error) {
	var a args
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	if f.Status != "" {
		query += ` AND status = ` + a.add(string(f.Status))
	}
	query += ` ORDER BY created_at DESC, seq DESC` + a.paginate(f.Limit, f.Offset)
	return collect(ctx, s.pool, query, a, scanTask, "list tasks")
}

func (s *postgresStore) TransitionTask(ctx context.Context, id string, from []storage.TaskStatus, to storage.TaskStatus, upd storage.TaskUpdate) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("postgres: transition task: no source states")
	}
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx, `
	UPDATE tasks SET
		status = $1,
		started_at = COALESCE($2::timestamptz, started_at),
		finished_at = COALESCE($3::timestamptz, finished_at),
		total_collected = COALESCE($4::integer, total_collected),
		error = COALESCE($5::text, error)
	WHERE id = $6 AND status = ANY($7)`,
		string(to), upd.StartedAt, upd.FinishedAt, upd.Total, upd.Error, id, states,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: transition task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: transition task: %w", err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

func (s *postgresStore) SetTaskTotal(ctx context.Context, id string, total int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tasks SET total_collected = $1 WHERE id = $2`, total, id)
	if err != nil {
		return fmt.Errorf("postgres: set task total: %w", err)
	}
	return affected(tag)
}

func (s *postgresStore) HeartbeatTask(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tasks SET heartbeat_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("postgres: heartbeat task: %w", err)
	}
	return affected(tag)
}

func scanTask(row pgx.Row) (*storage.Task, error) {
	var t storage.Task
	var req []byte
	var status string
	err := row.Scan(&t.ID, &t.Name, &req, &status, &t.CreatedBy, &t.CreatedAt, &t.StartedAt, &t.FinishedAt, &t.HeartbeatAt, &t.TotalCollected, &t.Error)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(req, &t.Request); err != nil {
		return nil, fmt.Errorf("decode task request: %w", err)
	}
	t.Status = storage.TaskStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// ---- records ----

const recordColumns = `id, task_id, url, title, content, source, status, collected_at, deep_collected, deep_collected_at`

func (s *postgresStore) InsertRecords(ctx context.Context, recs []*storage.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert records: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.Status == "" {
			r.Status = storage.RecordCollected
		}
		if r.CollectedAt.IsZero() {
			r.CollectedAt = time.Now().UTC()
		}
		tag, err := tx.Exec(ctx, `INSERT INTO records (`+recordColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id, url) DO NOTHING`,
			r.ID, r.TaskID, r.URL, r.Title, r.Content, r.Source, r.Status, r.CollectedAt, r.DeepCollected, r.DeepCollectedAt)
		if err != nil {
			return 0, fmt.Errorf("postgres: insert record %s: %w", r.URL, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: insert records: commit: %w", err)
	}
	return inserted, nil
}

func (s *postgresStore) RecordExists(ctx context.Context, taskID, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE task_id = $1 AND url = $2)`, taskID, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: record exists: %w", err)
	}
	return exists, nil
}

func (s *postgresStore) GetRecord(ctx context.Context, id string) (*storage.Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	return notFound(r, err, "get record")
}

func recordWhere(f storage.RecordFilter, a *args) string {
	where := ` WHERE 1=1`
	if f.TaskID != "" {
		where += ` AND task_id = ` + a.add(f.TaskID)
	}
	if f.URL != "" {
		where += ` AND url = ` + a.add(f.URL)
	}
	if f.Source != "" {
		where += ` AND source = ` + a.add(f.Source)
	}
	if f.Status != "" {
		where += ` AND status = ` + a.add(f.Status)
	}
	if f.Search != "" {
		p := a.add("%" + f.Search + "%")
		where += ` AND (title ILIKE ` + p + ` OR content ILIKE ` + p + ` OR source ILIKE ` + p + `)`
	}
	if f.DeepCollected != nil {
		where += ` AND deep_collected = ` + a.add(*f.DeepCollected)
	}
	if f.Since != nil {
		where += ` AND collected_at >= ` + a.add(*f.Since)
	}
	return where
}

func (s *postgresStore) QueryRecords(ctx context.Context, f storage.RecordFilter) ([]*storage.Record, error) {
	var a args
	query := `SELECT ` + recordColumns + ` FROM records` + recordWhere(f, &a)
	if f.NewestFirst {
		query += ` ORDER BY seq DESC`
	} else {
		query += ` ORDER BY seq`
	}
	query += a.paginate(f.Limit, f.Offset)
	return collect(ctx, s.pool, query, a, scanRecord, "query records")
}

func (s *postgresStore) CountRecords(ctx context.Context, f storage.RecordFilter) (int, error) {
	var a args
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM records`+recordWhere(f, &a), a...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count records: %w", err)
	}
	return n, nil
}

func (s *postgresStore) UpdateRecordStatus(ctx context.Context, ids []string, status string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `UPDATE records SET status = $1 WHERE id = ANY($2)`, status, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: update record status: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) MarkDeepCollected(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE records SET deep_collected = TRUE, deep_collected_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("postgres: mark deep collected: %w", err)
	}
	return affected(tag)
}

func (s *postgresStore) DeleteRecords(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete records: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM deep_records WHERE record_id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("postgres: delete deep records: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM records WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: delete records: commit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (*storage.Record, error) {
	var r storage.Record
	err := row.Scan(&r.ID, &r.TaskID, &r.URL, &r.Title, &r.Content, &r.Source, &r.Status, &r.CollectedAt, &r.DeepCollected, &r.DeepCollectedAt)
	if err != nil {
		return nil, err
	}
	r.CollectedAt = r.CollectedAt.UTC()
	return &r, nil
}

// ---- deep records ----

const deepColumns = `id, record_id, url, title, content, ai_analysis, model_used, status, created_at, updated_at`

func (s *postgresStore) UpsertDeepRecord(ctx context.Context, d *storage.DeepRecord) (bool, error) {
	proposed := uuid.New().String()
	now := time.Now().UTC()

	err := s.pool.QueryRow(ctx, `INSERT INTO deep_records (`+deepColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	ON CONFLICT (record_id, url) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		ai_analysis = EXCLUDED.ai_analysis,
		model_used = EXCLUDED.model_used,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at
	RETURNING id, created_at, updated_at`,
		proposed, d.RecordID, d.URL, d.Title, d.Content, d.AIAnalysis, d.ModelUsed, d.Status, now,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: upsert deep record: %w", err)
	}
	return d.ID == proposed, nil
}

func (s *postgresStore) GetDeepRecord(ctx context.Context, id string) (*storage.DeepRecord, error) {
	d, err := scanDeep(s.pool.QueryRow(ctx, `SELECT `+deepColumns+` FROM deep_records WHERE id = $1`, id))
	return notFound(d, err, "get deep record")
}

func deepWhere(f storage.DeepFilter, a *args) string {
	where := ` WHERE 1=1`
	if f.RecordID != "" {
		where += ` AND record_id = ` + a.add(f.RecordID)
	}
	if f.Status != "" {
		where += ` AND status = ` + a.add(f.Status)
	}
	if f.Search != "" {
		p := a.add("%" + f.Search + "%")
		where += ` AND (title ILIKE ` + p + ` OR content ILIKE ` + p + ` OR ai_analysis ILIKE ` + p + `)`
	}
	return where
}

func (s *postgresStore) QueryDeepRecords(ctx context.Context, f storage.DeepFilter) ([]*storage.DeepRecord, error) {
	var a args
	query := `SELECT ` + deepColumns + ` FROM deep_records` + deepWhere(f, &a) + ` ORDER BY created_at DESC, seq DESC` + a.paginate(f.Limit, f.Offset)
	return collect(ctx, s.pool, query, a, scanDeep, "query deep records")
}

func (s *postgresStore) CountDeepRecords(ctx context.Context, f storage.DeepFilter) (int, error) {
	var a args
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deep_records`+deepWhere(f, &a), a...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count deep records: %w", err)
	}
	return n, nil
}

func (s *postgresStore) UpdateDeepRecord(ctx context.Context, d *storage.DeepRecord) error {
	d.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
	UPDATE deep_records SET title = $1, content = $2, ai_analysis = $3, model_used = $4, status = $5, updated_at = $6
	WHERE id = $7`,
		d.Title, d.Content, d.AIAnalysis, d.ModelUsed, d.Status, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update deep record: %w", err)
	}
	return affected(tag)
}

func (s *postgresStore) DeleteDeepRecord(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deep_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete deep record: %w", err)
	}
	return affected(tag)
}

func scanDeep(row pgx.Row) (*storage.DeepRecord, error) {
	var d storage.DeepRecord
	err := row.Scan(&d.ID, &d.RecordID, &d.URL, &d.Title, &d.Content, &d.AIAnalysis, &d.ModelUsed, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

// ---- helpers ----

func notFound[T any](v *T, err error, op string) (*T, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return v, nil
}

func collect[T any](ctx context.Context, pool *pgxpool.Pool, query string, a args, scan func(pgx.Row) (*T, error), op string) ([]*T, error) {
	rows, err := pool.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return out, nil
}

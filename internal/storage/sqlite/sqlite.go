// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ensure sqliteStore implements storage.Store
var _ storage.Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db *sql.DB
}

// Timestamps are stored as unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	source_type TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}',
	headers TEXT NOT NULL DEFAULT '{}',
	method TEXT NOT NULL DEFAULT 'GET',
	enabled INTEGER NOT NULL DEFAULT 1,
	crawl_interval_ms INTEGER NOT NULL DEFAULT 0,
	timeout_ms INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sources_type_idx ON sources (source_type, enabled);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	request TEXT NOT NULL,
	status TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	finished_at INTEGER,
	heartbeat_at INTEGER,
	total_collected INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);

CREATE TABLE IF NOT EXISTS records (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	task_id TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'collected',
	collected_at INTEGER NOT NULL,
	deep_collected INTEGER NOT NULL DEFAULT 0,
	deep_collected_at INTEGER,
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
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (record_id, url)
);
`

// New opens (creating if needed) the database at dsn and applies the schema.
// The pool is limited to one connection: SQLite serializes writers anyway and
// a private ":memory:" database only lives as long as its connection.
func New(dsn string) (storage.Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// ---- sources ----

const sourceColumns = `id, name, url, source_type, params, headers, method, enabled, crawl_interval_ms, timeout_ms, retry_count, description, created_at, updated_at`

func (s *sqliteStore) CreateSource(ctx context.Context, src *storage.Source) error {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.Name, src.URL, src.Type, src.Params, src.Headers, src.Method, src.Enabled,
		src.CrawlInterval.Milliseconds(), src.Timeout.Milliseconds(), src.RetryCount, src.Description,
		millis(src.CreatedAt), millis(src.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create source: %w", uniqueName(err))
	}
	return nil
}

func (s *sqliteStore) UpdateSource(ctx context.Context, src *storage.Source) error {
	src.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
	UPDATE sources SET name = ?, url = ?, source_type = ?, params = ?, headers = ?, method = ?, enabled = ?,
		crawl_interval_ms = ?, timeout_ms = ?, retry_count = ?, description = ?, updated_at = ?
	WHERE id = ?`,
		src.Name, src.URL, src.Type, src.Params, src.Headers, src.Method, src.Enabled,
		src.CrawlInterval.Milliseconds(), src.Timeout.Milliseconds(), src.RetryCount, src.Description,
		millis(src.UpdatedAt), src.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update source: %w", uniqueName(err))
	}
	return mustAffect(res, "update source")
}

func (s *sqliteStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete source: %w", err)
	}
	return mustAffect(res, "delete source")
}

func (s *sqliteStore) GetSource(ctx context.Context, id string) (*storage.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	return scanSourceRow(row, "get source")
}

func (s *sqliteStore) GetSourceByName(ctx context.Context, name string) (*storage.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)
	return scanSourceRow(row, "get source by name")
}

func (s *sqliteStore) ListSources(ctx context.Context, enabledOnly bool) ([]*storage.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE 1=1`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sources: %w", err)
	}
	defer rows.Close()

	var out []*storage.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list sources: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list sources: %w", err)
	}
	return out, nil
}

func scanSourceRow(row *sql.Row, op string) (*storage.Source, error) {
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	return src, nil
}

func scanSource(sc scanner) (*storage.Source, error) {
	var src storage.Source
	var intervalMs, timeoutMs, created, updated int64
	err := sc.Scan(&src.ID, &src.Name, &src.URL, &src.Type, &src.Params, &src.Headers, &src.Method, &src.Enabled,
		&intervalMs, &timeoutMs, &src.RetryCount, &src.Description, &created, &updated)
	if err != nil {
		return nil, err
	}
	src.CrawlInterval = time.Duration(intervalMs) * time.Millisecond
	src.Timeout = time.Duration(timeoutMs) * time.Millisecond
	src.CreatedAt = fromMillis(created)
	src.UpdatedAt = fromMillis(updated)
	return &src, nil
}

// ---- tasks ----

const taskColumns = `id, name, request, status, created_by, created_at, started_at, finished_at, heartbeat_at, total_collected, error`

func (s *sqliteStore) CreateTask(ctx context.Context, t *storage.Task) error {
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
		return fmt.Errorf("sqlite: encode task request: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, string(req), string(t.Status), t.CreatedBy, millis(t.CreatedAt),
		nullMillis(t.StartedAt), nullMillis(t.FinishedAt), nullMillis(t.HeartbeatAt), t.TotalCollected, t.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create task: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*storage.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get task: %w", err)
	}
	return t, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, f storage.TaskFilter) ([]*storage.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*storage.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list tasks: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) TransitionTask(ctx context.Context, id string, from []storage.TaskStatus, to storage.TaskStatus, upd storage.TaskUpdate) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("sqlite: transition task: no source states")
	}

	args := []any{string(to), nullMillis(upd.StartedAt), nullMillis(upd.FinishedAt), nullInt(upd.Total), nullString(upd.Error), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE tasks SET
		status = ?,
		started_at = COALESCE(?, started_at),
		finished_at = COALESCE(?, finished_at),
		total_collected = COALESCE(?, total_collected),
		error = COALESCE(?, error)
	WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("sqlite: transition task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: transition task: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: transition task: %w", err)
	}
	return false, nil
}

func (s *sqliteStore) SetTaskTotal(ctx context.Context, id string, total int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET total_collected = ? WHERE id = ?`, total, id)
	if err != nil {
		return fmt.Errorf("sqlite: set task total: %w", err)
	}
	return mustAffect(res, "set task total")
}

func (s *sqliteStore) HeartbeatTask(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET heartbeat_at = ? WHERE id = ?`, millis(at), id)
	if err != nil {
		return fmt.Errorf("sqlite: heartbeat task: %w", err)
	}
	return mustAffect(res, "heartbeat task")
}

func scanTask(sc scanner) (*storage.Task, error) {
	var t storage.Task
	var req, status string
	var created int64
	var started, finished, heartbeat sql.NullInt64
	err := sc.Scan(&t.ID, &t.Name, &req, &status, &t.CreatedBy, &created, &started, &finished, &heartbeat, &t.TotalCollected, &t.Error)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(req), &t.Request); err != nil {
		return nil, fmt.Errorf("decode task request: %w", err)
	}
	t.Status = storage.TaskStatus(status)
	t.CreatedAt = fromMillis(created)
	t.StartedAt = fromNullMillis(started)
	t.FinishedAt = fromNullMillis(finished)
	t.HeartbeatAt = fromNullMillis(heartbeat)
	return &t, nil
}

// ---- records ----

const recordColumns = `id, task_id, url, title, content, source, status, collected_at, deep_collected, deep_collected_at`

func (s *sqliteStore) InsertRecords(ctx context.Context, recs []*storage.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert records: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (task_id, url) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert records: prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range recs {
		prepareRecord(r)
		res, err := stmt.ExecContext(ctx, r.ID, r.TaskID, r.URL, r.Title, r.Content, r.Source, r.Status,
			millis(r.CollectedAt), r.DeepCollected, nullMillis(r.DeepCollectedAt))
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert record %s: %w", r.URL, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert records: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: insert records: commit: %w", err)
	}
	return inserted, nil
}

func (s *sqliteStore) RecordExists(ctx context.Context, taskID, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE task_id = ? AND url = ? LIMIT 1`, taskID, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: record exists: %w", err)
	}
	return true, nil
}

func (s *sqliteStore) GetRecord(ctx context.Context, id string) (*storage.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get record: %w", err)
	}
	return r, nil
}

func recordWhere(f storage.RecordFilter) (string, []any) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.TaskID != "" {
		where += ` AND task_id = ?`
		args = append(args, f.TaskID)
	}
	if f.URL != "" {
		where += ` AND url = ?`
		args = append(args, f.URL)
	}
	if f.Source != "" {
		where += ` AND source = ?`
		args = append(args, f.Source)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where += ` AND (title LIKE ? OR content LIKE ? OR source LIKE ?)`
		args = append(args, like, like, like)
	}
	if f.DeepCollected != nil {
		where += ` AND deep_collected = ?`
		args = append(args, *f.DeepCollected)
	}
	if f.Since != nil {
		where += ` AND collected_at >= ?`
		args = append(args, millis(*f.Since))
	}
	return where, args
}

func (s *sqliteStore) QueryRecords(ctx context.Context, f storage.RecordFilter) ([]*storage.Record, error) {
	where, args := recordWhere(f)
	query := `SELECT ` + recordColumns + ` FROM records` + where
	if f.NewestFirst {
		query += ` ORDER BY seq DESC`
	} else {
		query += ` ORDER BY seq`
	}
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query records: %w", err)
	}
	defer rows.Close()

	var out []*storage.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: query records: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query records: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) CountRecords(ctx context.Context, f storage.RecordFilter) (int, error) {
	where, args := recordWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count records: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) UpdateRecordStatus(ctx context.Context, ids []string, status string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{status}, stringArgs(ids)...)
	res, err := s.db.ExecContext(ctx, `UPDATE records SET status = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: update record status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: update record status: %w", err)
	}
	return int(n), nil
}

func (s *sqliteStore) MarkDeepCollected(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE records SET deep_collected = 1, deep_collected_at = ? WHERE id = ?`, millis(at), id)
	if err != nil {
		return fmt.Errorf("sqlite: mark deep collected: %w", err)
	}
	return mustAffect(res, "mark deep collected")
}

func (s *sqliteStore) DeleteRecords(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete records: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	in := placeholders(len(ids))
	args := stringArgs(ids)
	if _, err := tx.ExecContext(ctx, `DELETE FROM deep_records WHERE record_id IN (`+in+`)`, args...); err != nil {
		return 0, fmt.Errorf("sqlite: delete deep records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: delete records: commit: %w", err)
	}
	return int(n), nil
}

func scanRecord(sc scanner) (*storage.Record, error) {
	var r storage.Record
	var collected int64
	var deepAt sql.NullInt64
	err := sc.Scan(&r.ID, &r.TaskID, &r.URL, &r.Title, &r.Content, &r.Source, &r.Status, &collected, &r.DeepCollected, &deepAt)
	if err != nil {
		return nil, err
	}
	r.CollectedAt = fromMillis(collected)
	r.DeepCollectedAt = fromNullMillis(deepAt)
	return &r, nil
}

func prepareRecord(r *storage.Record) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = storage.RecordCollected
	}
	if r.CollectedAt.IsZero() {
		r.CollectedAt = time.Now().UTC()
	}
}

// ---- deep records ----

const deepColumns = `id, record_id, url, title, content, ai_analysis, model_used, status, created_at, updated_at`

func (s *sqliteStore) UpsertDeepRecord(ctx context.Context, d *storage.DeepRecord) (bool, error) {
	proposed := uuid.New().String()
	now := time.Now().UTC()

	var id string
	var created int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO deep_records (`+deepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (record_id, url) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		ai_analysis = excluded.ai_analysis,
		model_used = excluded.model_used,
		status = excluded.status,
		updated_at = excluded.updated_at
	RETURNING id, created_at`,
		proposed, d.RecordID, d.URL, d.Title, d.Content, d.AIAnalysis, d.ModelUsed, d.Status, millis(now), millis(now),
	).Scan(&id, &created)
	if err != nil {
		return false, fmt.Errorf("sqlite: upsert deep record: %w", err)
	}
	d.ID = id
	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(millis(now))
	return id == proposed, nil
}

func (s *sqliteStore) GetDeepRecord(ctx context.Context, id string) (*storage.DeepRecord, error) {
	d, err := scanDeep(s.db.QueryRowContext(ctx, `SELECT `+deepColumns+` FROM deep_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get deep record: %w", err)
	}
	return d, nil
}

func deepWhere(f storage.DeepFilter) (string, []any) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.RecordID != "" {
		where += ` AND record_id = ?`
		args = append(args, f.RecordID)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where += ` AND (title LIKE ? OR content LIKE ? OR ai_analysis LIKE ?)`
		args = append(args, like, like, like)
	}
	return where, args
}

func (s *sqliteStore) QueryDeepRecords(ctx context.Context, f storage.DeepFilter) ([]*storage.DeepRecord, error) {
	where, args := deepWhere(f)
	query := `SELECT ` + deepColumns + ` FROM deep_records` + where + ` ORDER BY created_at DESC, rowid DESC`
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query deep records: %w", err)
	}
	defer rows.Close()

	var out []*storage.DeepRecord
	for rows.Next() {
		d, err := scanDeep(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: query deep records: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query deep records: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) CountDeepRecords(ctx context.Context, f storage.DeepFilter) (int, error) {
	where, args := deepWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deep_records`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count deep records: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) UpdateDeepRecord(ctx context.Context, d *storage.DeepRecord) error {
	d.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
	UPDATE deep_records SET title = ?, content = ?, ai_analysis = ?, model_used = ?, status = ?, updated_at = ?
	WHERE id = ?`,
		d.Title, d.Content, d.AIAnalysis, d.ModelUsed, d.Status, millis(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update deep record: %w", err)
	}
	return mustAffect(res, "update deep record")
}

func (s *sqliteStore) DeleteDeepRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deep_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete deep record: %w", err)
	}
	return mustAffect(res, "delete deep record")
}

func scanDeep(sc scanner) (*storage.DeepRecord, error) {
	var d storage.DeepRecord
	var created, updated int64
	err := sc.Scan(&d.ID, &d.RecordID, &d.URL, &d.Title, &d.Content, &d.AIAnalysis, &d.ModelUsed, &d.Status, &created, &updated)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(updated)
	return &d, nil
}

// ---- helpers ----

type scanner interface {
	Scan(dest ...any) error
}

func mustAffect(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func uniqueName(err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed: sources.name") {
		return storage.ErrDuplicateName
	}
	return err
}

func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
		if offset > 0 {
			query += ` OFFSET ?`
			args = append(args, offset)
		}
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}
	return query, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

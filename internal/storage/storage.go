// Package storage defines the persistence boundary: sources, tasks, collected
// records and deep-collection records.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup by id matches nothing.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateName is returned when a source name is already taken.
	ErrDuplicateName = errors.New("storage: duplicate source name")
)

// TaskStatus is the lifecycle state of a collection task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskStopped   TaskStatus = "stopped"
)

// Terminal reports whether no further transition is allowed out of s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskStopped
}

// Record processing states.
const (
	RecordCollected = "collected"
	RecordSaved     = "saved"
)

// Source is a configured scraping target.
type Source struct {
	ID   string
	Name string
	URL  string
	// Type is the source-type tag that selects a collection strategy.
	Type string
	// Params and Headers hold raw JSON objects as stored; decoding happens at
	// collection time so a corrupt payload surfaces there.
	Params        string
	Headers       string
	Method        string
	Enabled       bool
	CrawlInterval time.Duration
	Timeout       time.Duration
	RetryCount    int
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TaskRequest is what the operator asked a task to collect.
type TaskRequest struct {
	Keyword     string   `json:"keyword"`
	SourceTypes []string `json:"source_types"`
	Page        int      `json:"page"`
	Limit       int      `json:"limit"`
}

// Task is one keyword collection run.
type Task struct {
	ID             string
	Name           string
	Request        TaskRequest
	Status         TaskStatus
	CreatedBy      string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	HeartbeatAt    *time.Time
	TotalCollected int
	Error          string
}

// TaskUpdate carries the optional fields written alongside a status change.
type TaskUpdate struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
	Total      *int
	Error      *string
}

// TaskFilter narrows ListTasks. Results are newest first.
type TaskFilter struct {
	Status TaskStatus
	Limit  int
	Offset int
}

// Record is one collected search result, unique per (TaskID, URL).
type Record struct {
	ID              string
	TaskID          string
	URL             string
	Title           string
	Content         string
	Source          string
	Status          string
	CollectedAt     time.Time
	DeepCollected   bool
	DeepCollectedAt *time.Time
}

// RecordFilter narrows record queries. Search matches title, content or source.
type RecordFilter struct {
	TaskID        string
	URL           string
	Source        string
	Status        string
	Search        string
	DeepCollected *bool
	Since         *time.Time
	// NewestFirst reverses the default ingestion order.
	NewestFirst bool
	Limit       int
	Offset      int
}

// DeepRecord is the result of re-fetching and analysing one record's page.
// At most one exists per (RecordID, URL).
type DeepRecord struct {
	ID         string
	RecordID   string
	URL        string
	Title      string
	Content    string
	AIAnalysis string
	ModelUsed  string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DeepFilter narrows deep record queries. Results are newest first.
type DeepFilter struct {
	RecordID string
	Status   string
	Search   string
	Limit    int
	Offset   int
}

// SourceStore persists source configurations.
type SourceStore interface {
	CreateSource(ctx context.Context, s *Source) error
	UpdateSource(ctx context.Context, s *Source) error
	DeleteSource(ctx context.Context, id string) error
	GetSource(ctx context.Context, id string) (*Source, error)
	GetSourceByName(ctx context.Context, name string) (*Source, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]*Source, error)
}

// TaskStore persists tasks. Status changes go through TransitionTask so that
// concurrent writers cannot move a task backwards.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error)
	// TransitionTask sets status to `to` only if the current status is one of
	// `from`, applying upd in the same statement. It reports whether the row
	// changed.
	TransitionTask(ctx context.Context, id string, from []TaskStatus, to TaskStatus, upd TaskUpdate) (bool, error)
	SetTaskTotal(ctx context.Context, id string, total int) error
	HeartbeatTask(ctx context.Context, id string, at time.Time) error
}

// RecordStore persists collected records.
type RecordStore interface {
	// InsertRecords writes recs in one transaction, silently skipping any whose
	// (TaskID, URL) already exists, and returns how many were written.
	InsertRecords(ctx context.Context, recs []*Record) (int, error)
	RecordExists(ctx context.Context, taskID, url string) (bool, error)
	GetRecord(ctx context.Context, id string) (*Record, error)
	QueryRecords(ctx context.Context, f RecordFilter) ([]*Record, error)
	CountRecords(ctx context.Context, f RecordFilter) (int, error)
	UpdateRecordStatus(ctx context.Context, ids []string, status string) (int, error)
	MarkDeepCollected(ctx context.Context, id string, at time.Time) error
	// DeleteRecords removes records and their deep records.
	DeleteRecords(ctx context.Context, ids []string) (int, error)
}

// DeepStore persists deep-collection records.
type DeepStore interface {
	// UpsertDeepRecord inserts d or, if one exists for (RecordID, URL),
	// overwrites it keeping its id. It reports whether a row was created and
	// sets d.ID either way.
	UpsertDeepRecord(ctx context.Context, d *DeepRecord) (bool, error)
	GetDeepRecord(ctx context.Context, id string) (*DeepRecord, error)
	QueryDeepRecords(ctx context.Context, f DeepFilter) ([]*DeepRecord, error)
	CountDeepRecords(ctx context.Context, f DeepFilter) (int, error)
	UpdateDeepRecord(ctx context.Context, d *DeepRecord) error
	DeleteDeepRecord(ctx context.Context, id string) error
}

// Store is everything the service needs from a backend.
type Store interface {
	SourceStore
	TaskStore
	RecordStore
	DeepStore
	Close() error
}

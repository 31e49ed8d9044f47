// Package tasks is the task-facing service: it creates collection tasks,
// hands them to a bounded worker pool, answers status polls and stops tasks.
// The persisted task status is the only channel between a request and the
// worker running its task.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/internal/storage"
)

// Request bounds and defaults.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 50
	// DefaultCreator is recorded on tasks started without a named operator.
	DefaultCreator = "admin"
	// DefaultResultsLimit caps the records returned by a status poll.
	DefaultResultsLimit = 500
)

// ErrInvalidRequest wraps validation failures of StartCollection.
var ErrInvalidRequest = errors.New("tasks: invalid request")

// Store is the persistence the service needs.
type Store interface {
	storage.TaskStore
	storage.RecordStore
}

// StartRequest asks for a new collection task.
type StartRequest struct {
	Keyword     string
	SourceTypes []string
	Page        int
	Limit       int
	CreatedBy   string
}

// Results is the answer to a status poll.
type Results struct {
	Task           *storage.Task
	Status         storage.TaskStatus
	Progress       int
	TotalCollected int
	Records        []*storage.Record
}

// Service manages task lifecycles.
type Service struct {
	store  Store
	pool   *Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns a Service submitting to pool.
func NewService(store Store, pool *Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, pool: pool, logger: logger, now: time.Now}
}

// Normalize trims the request, drops blank source types and clamps paging:
// page < 1 becomes 1 and a limit outside [1,50] becomes 10.
func Normalize(req StartRequest) (StartRequest, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		return req, fmt.Errorf("%w: keyword must not be empty", ErrInvalidRequest)
	}
	var types []string
	for _, t := range req.SourceTypes {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return req, fmt.Errorf("%w: at least one source type is required", ErrInvalidRequest)
	}
	req.SourceTypes = types
	if req.Page < 1 {
		req.Page = DefaultPage
	}
	if req.Limit < 1 || req.Limit > MaxLimit {
		req.Limit = DefaultLimit
	}
	if req.CreatedBy == "" {
		req.CreatedBy = DefaultCreator
	}
	return req, nil
}

// StartCollection creates a pending task and queues it, returning its id
// without waiting for it to run. If the queue is full the task is failed
// and the error returned.
func (s *Service) StartCollection(ctx context.Context, req StartRequest) (string, error) {
	req, err := Normalize(req)
	if err != nil {
		return "", err
	}

	task := &storage.Task{
		Name: "关键词采集: " + req.Keyword,
		Request: storage.TaskRequest{
			Keyword:     req.Keyword,
			SourceTypes: req.SourceTypes,
			Page:        req.Page,
			Limit:       req.Limit,
		},
		Status:    storage.TaskPending,
		CreatedBy: req.CreatedBy,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("tasks: create: %w", err)
	}

	if err := s.pool.Submit(task.ID); err != nil {
		msg := err.Error()
		finished := s.now()
		if _, terr := s.store.TransitionTask(ctx, task.ID, []storage.TaskStatus{storage.TaskPending}, storage.TaskFailed,
			storage.TaskUpdate{FinishedAt: &finished, Error: &msg}); terr != nil {
			s.logger.Error("could not fail unqueued task", "task_id", task.ID, "err", terr)
		}
		metrics.TasksTotal.WithLabelValues(string(storage.TaskFailed)).Inc()
		return task.ID, fmt.Errorf("tasks: submit %s: %w", task.ID, err)
	}

	s.logger.Info("task queued", "task_id", task.ID, "keyword", req.Keyword, "sources", req.SourceTypes)
	return task.ID, nil
}

// Progress maps a status to a coarse percentage.
func Progress(st storage.TaskStatus) int {
	switch st {
	case storage.TaskCompleted:
		return 100
	case storage.TaskRunning:
		return 50
	default:
		return 0
	}
}

// GetResults returns the task's status and its records in ingestion order.
func (s *Service) GetResults(ctx context.Context, id string) (*Results, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tasks: get %s: %w", id, err)
	}
	recs, err := s.store.QueryRecords(ctx, storage.RecordFilter{TaskID: id, Limit: DefaultResultsLimit})
	if err != nil {
		return nil, fmt.Errorf("tasks: records of %s: %w", id, err)
	}
	return &Results{
		Task:           task,
		Status:         task.Status,
		Progress:       Progress(task.Status),
		TotalCollected: task.TotalCollected,
		Records:        recs,
	}, nil
}

// Stop moves a pending or running task to stopped. Stopping a task that
// already finished is a no-op; the returned status is the task's status
// afterwards.
func (s *Service) Stop(ctx context.Context, id string) (storage.TaskStatus, error) {
	finished := s.now()
	ok, err := s.store.TransitionTask(ctx, id,
		[]storage.TaskStatus{storage.TaskPending, storage.TaskRunning}, storage.TaskStopped,
		storage.TaskUpdate{FinishedAt: &finished})
	if err != nil {
		return "", fmt.Errorf("tasks: stop %s: %w", id, err)
	}
	if ok {
		metrics.TasksTotal.WithLabelValues(string(storage.TaskStopped)).Inc()
		s.logger.Info("task stopped", "task_id", id)
		return storage.TaskStopped, nil
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return "", fmt.Errorf("tasks: stop %s: %w", id, err)
	}
	return task.Status, nil
}

// List returns tasks newest first.
func (s *Service) List(ctx context.Context, f storage.TaskFilter) ([]*storage.Task, error) {
	tasks, err := s.store.ListTasks(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("tasks: list: %w", err)
	}
	return tasks, nil
}

// Save marks records as saved and returns how many changed.
func (s *Service) Save(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no record ids", ErrInvalidRequest)
	}
	n, err := s.store.UpdateRecordStatus(ctx, ids, storage.RecordSaved)
	if err != nil {
		return 0, fmt.Errorf("tasks: save: %w", err)
	}
	return n, nil
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/tasks"
)

type startBody struct {
	Keyword  string   `json:"keyword"`
	Crawlers []string `json:"crawlers"`
	// Sources is accepted as an alias of Crawlers.
	Sources []string `json:"sources"`
	Page    flexInt  `json:"page"`
	Limit   flexInt  `json:"limit"`
}

type recordView struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	Content         string  `json:"content,omitempty"`
	Source          string  `json:"source"`
	Status          string  `json:"status"`
	Timestamp       *string `json:"timestamp"`
	DeepCollected   bool    `json:"deep_collected"`
	DeepCollectedAt *string `json:"deep_collected_at"`
}

func viewRecord(r *storage.Record, withContent bool) recordView {
	v := recordView{
		ID:              r.ID,
		TaskID:          r.TaskID,
		Title:           r.Title,
		URL:             r.URL,
		Source:          r.Source,
		Status:          r.Status,
		Timestamp:       formatTime(&r.CollectedAt),
		DeepCollected:   r.DeepCollected,
		DeepCollectedAt: formatTime(r.DeepCollectedAt),
	}
	if withContent {
		v.Content = r.Content
	}
	return v
}

func viewRecords(recs []*storage.Record, withContent bool) []recordView {
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, viewRecord(r, withContent))
	}
	return out
}

type taskView struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Keyword        string             `json:"keyword"`
	SourceTypes    []string           `json:"source_types"`
	Page           int                `json:"page"`
	Limit          int                `json:"limit"`
	Status         storage.TaskStatus `json:"status"`
	CreatedBy      string             `json:"created_by"`
	CreatedAt      *string            `json:"created_at"`
	StartedAt      *string            `json:"started_at"`
	FinishedAt     *string            `json:"finished_at"`
	TotalCollected int                `json:"total_collected"`
	Error          string             `json:"error_message,omitempty"`
}

func viewTask(t *storage.Task) taskView {
	return taskView{
		ID:             t.ID,
		Name:           t.Name,
		Keyword:        t.Request.Keyword,
		SourceTypes:    t.Request.SourceTypes,
		Page:           t.Request.Page,
		Limit:          t.Request.Limit,
		Status:         t.Status,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      formatTime(&t.CreatedAt),
		StartedAt:      formatTime(t.StartedAt),
		FinishedAt:     formatTime(t.FinishedAt),
		TotalCollected: t.TotalCollected,
		Error:          t.Error,
	}
}

func (s *server) startCollection(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	types := body.Crawlers
	if len(types) == 0 {
		types = body.Sources
	}
	id, err := s.Tasks.StartCollection(r.Context(), tasks.StartRequest{
		Keyword:     body.Keyword,
		SourceTypes: types,
		Page:        int(body.Page),
		Limit:       int(body.Limit),
	})
	if err != nil {
		if id != "" && errors.Is(err, tasks.ErrPoolFull) {
			writeJSON(w, http.StatusServiceUnavailable, envelope{"success": false, "task_id": id, "error": err.Error()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"task_id": id})
}

func (s *server) collectionResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.Tasks.GetResults(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := envelope{
		"results":         viewRecords(res.Records, false),
		"status":          res.Status,
		"progress":        res.Progress,
		"total_collected": res.TotalCollected,
	}
	if res.Task.Error != "" {
		body["error_message"] = res.Task.Error
	}
	writeOK(w, body)
}

func (s *server) stopCollection(w http.ResponseWriter, r *http.Request) {
	status, err := s.Tasks.Stop(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, ok := stopMessages[status]
	if !ok {
		msg = "采集任务状态: " + string(status)
	}
	writeOK(w, envelope{"status": status, "message": msg})
}

// stopMessages describe the status a stop request leaves a task in.
var stopMessages = map[storage.TaskStatus]string{
	storage.TaskStopped:   "采集任务已停止",
	storage.TaskCompleted: "采集任务已完成，无需停止",
	storage.TaskFailed:    "采集任务已失败，无需停止",
}

func (s *server) listTasks(w http.ResponseWriter, r *http.Request) {
	page, perPage := paging(r)
	list, err := s.Tasks.List(r.Context(), storage.TaskFilter{
		Status: storage.TaskStatus(r.URL.Query().Get("status")),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]taskView, 0, len(list))
	for _, t := range list {
		views = append(views, viewTask(t))
	}
	writeOK(w, envelope{"tasks": views, "page": page, "per_page": perPage})
}

type idsBody struct {
	DataIDs []string `json:"data_ids"`
	ModelID string   `json:"model_id"`
}

func (s *server) saveRecords(w http.ResponseWriter, r *http.Request) {
	var body idsBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.Tasks.Save(r.Context(), body.DataIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"saved": n})
}

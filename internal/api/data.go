package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FranksOps/gleaner/internal/deep"
	"github.com/FranksOps/gleaner/internal/report"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/storage/export"
)

func recordFilter(r *http.Request) storage.RecordFilter {
	q := r.URL.Query()
	f := storage.RecordFilter{
		TaskID: q.Get("task_id"),
		Source: q.Get("source"),
		Status: q.Get("status"),
		Search: q.Get("search"),
	}
	switch q.Get("deep_collected") {
	case "true":
		v := true
		f.DeepCollected = &v
	case "false":
		v := false
		f.DeepCollected = &v
	}
	return f
}

func (s *server) listRecords(w http.ResponseWriter, r *http.Request) {
	page, perPage := paging(r)
	f := recordFilter(r)
	total, err := s.Store.CountRecords(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f.NewestFirst = true
	f.Limit, f.Offset = perPage, (page-1)*perPage
	recs, err := s.Store.QueryRecords(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{
		"data":     viewRecords(recs, true),
		"total":    total,
		"page":     page,
		"per_page": perPage,
		"pages":    pages(total, perPage),
	})
}

func (s *server) exportRecords(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatCSV)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	ew, err := export.NewWriter(format, w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="records.%s"`, format))
	// Headers are sent with the first record, so errors past this point can
	// only be logged.
	n, err := export.Records(r.Context(), s.Store, recordFilter(r), ew)
	if err != nil {
		s.logger.Error("export failed", "written", n, "err", err)
	}
}

func (s *server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	n, err := s.Store.DeleteRecords(r.Context(), []string{chi.URLParam(r, "id")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if n == 0 {
		writeFail(w, http.StatusNotFound, "数据不存在")
		return
	}
	writeOK(w, envelope{"message": "数据删除成功"})
}

func (s *server) batchDeleteRecords(w http.ResponseWriter, r *http.Request) {
	var body idsBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.DataIDs) == 0 {
		writeFail(w, http.StatusBadRequest, "至少选择一条数据")
		return
	}
	n, err := s.Store.DeleteRecords(r.Context(), body.DataIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"deleted": n, "message": fmt.Sprintf("成功删除 %d 条数据", n)})
}

type deepView struct {
	ID         string  `json:"id"`
	RecordID   string  `json:"collected_data_id"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Content    string  `json:"content,omitempty"`
	AIAnalysis string  `json:"ai_analysis,omitempty"`
	ModelUsed  string  `json:"model_used,omitempty"`
	Status     string  `json:"status"`
	CreatedAt  *string `json:"created_at"`
	UpdatedAt  *string `json:"updated_at"`
}

func viewDeep(d *storage.DeepRecord) deepView {
	return deepView{
		ID:         d.ID,
		RecordID:   d.RecordID,
		URL:        d.URL,
		Title:      d.Title,
		Content:    d.Content,
		AIAnalysis: d.AIAnalysis,
		ModelUsed:  d.ModelUsed,
		Status:     d.Status,
		CreatedAt:  formatTime(&d.CreatedAt),
		UpdatedAt:  formatTime(&d.UpdatedAt),
	}
}

type deepCollectBody struct {
	ModelID string `json:"model_id"`
	URL     string `json:"url"`
}

func (s *server) deepCollect(w http.ResponseWriter, r *http.Request) {
	var body deepCollectBody
	if r.ContentLength > 0 {
		if err := decode(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	res, err := s.Deep.Collect(r.Context(), chi.URLParam(r, "id"), body.URL, body.ModelID)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		writeFail(w, code, err.Error())
		return
	}
	writeOK(w, envelope{
		"message": "AI深度采集完成",
		"action":  res.Action,
		"data": envelope{
			"id":             res.Deep.ID,
			"title":          res.Deep.Title,
			"url":            res.Deep.URL,
			"content_length": len(res.Deep.Content),
			"ai_analysis":    res.Deep.AIAnalysis != "",
			"model_used":     res.Deep.ModelUsed,
		},
	})
}

func (s *server) batchDeepCollect(w http.ResponseWriter, r *http.Request) {
	var body idsBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.DataIDs) == 0 {
		writeFail(w, http.StatusBadRequest, "至少选择一条数据")
		return
	}
	out := s.Deep.Batch(r.Context(), body.DataIDs, body.ModelID)
	ok := 0
	for _, o := range out {
		if o.Success {
			ok++
		}
	}
	writeOK(w, envelope{
		"message":       fmt.Sprintf("批量深度采集完成，成功 %d 条，失败 %d 条", ok, len(out)-ok),
		"results":       out,
		"success_count": ok,
		"error_count":   len(out) - ok,
	})
}

func (s *server) listDeep(w http.ResponseWriter, r *http.Request) {
	page, perPage := paging(r)
	q := r.URL.Query()
	list, total, err := s.Deep.List(r.Context(), storage.DeepFilter{
		RecordID: q.Get("collected_data_id"),
		Status:   q.Get("status"),
		Search:   q.Get("search"),
		Limit:    perPage,
		Offset:   (page - 1) * perPage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]deepView, 0, len(list))
	for _, d := range list {
		v := viewDeep(d)
		v.Content = ""
		views = append(views, v)
	}
	writeOK(w, envelope{"data": views, "total": total, "page": page, "per_page": perPage, "pages": pages(total, perPage)})
}

func (s *server) getDeep(w http.ResponseWriter, r *http.Request) {
	d, err := s.Deep.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"data": viewDeep(d)})
}

type deepEditBody struct {
	Title      *string `json:"title"`
	AIAnalysis *string `json:"ai_analysis"`
}

func (s *server) updateDeep(w http.ResponseWriter, r *http.Request) {
	var body deepEditBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Deep.Update(r.Context(), chi.URLParam(r, "id"), deep.Edit{Title: body.Title, AIAnalysis: body.AIAnalysis})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"message": "数据更新成功", "data": viewDeep(d)})
}

func (s *server) deleteDeep(w http.ResponseWriter, r *http.Request) {
	if err := s.Deep.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"message": "数据删除成功"})
}

func (s *server) listModels(w http.ResponseWriter, _ *http.Request) {
	type modelView struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		ModelName string `json:"model_name"`
	}
	views := []modelView{}
	if s.Models != nil {
		for _, m := range s.Models.Models() {
			views = append(views, modelView{ID: m.ID, Name: m.Name, ModelName: m.ModelName})
		}
	}
	writeOK(w, envelope{"models": views})
}

// dashboard summarizes records from the last "days" days (all when unset).
func (s *server) dashboard(w http.ResponseWriter, r *http.Request) {
	var f storage.RecordFilter
	if days := queryInt(r, "days", 0); days > 0 {
		since := time.Now().AddDate(0, 0, -days)
		f.Since = &since
	}
	summary, err := report.Load(r.Context(), s.Store, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"summary": summary})
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FranksOps/gleaner/internal/sources"
	"github.com/FranksOps/gleaner/internal/storage"
)

// sourceBody is a create or update request. Omitted fields are left alone on
// update. request_params and headers may be JSON objects or JSON text.
type sourceBody struct {
	Name          *string         `json:"name"`
	URL           *string         `json:"url"`
	SourceType    *string         `json:"source_type"`
	RequestParams json.RawMessage `json:"request_params"`
	Headers       json.RawMessage `json:"headers"`
	RequestMethod *string         `json:"request_method"`
	Enabled       *bool           `json:"enabled"`
	// CrawlInterval and Timeout are in seconds.
	CrawlInterval *int    `json:"crawl_interval"`
	Timeout       *int    `json:"timeout"`
	RetryCount    *int    `json:"retry_count"`
	Description   *string `json:"description"`
}

func (b sourceBody) patch() (sources.Patch, error) {
	p := sources.Patch{
		Name:        b.Name,
		URL:         b.URL,
		Type:        b.SourceType,
		Method:      b.RequestMethod,
		Enabled:     b.Enabled,
		RetryCount:  b.RetryCount,
		Description: b.Description,
	}
	var err error
	if p.Params, err = jsonText("request_params", b.RequestParams); err != nil {
		return p, err
	}
	if p.Headers, err = jsonText("headers", b.Headers); err != nil {
		return p, err
	}
	if b.CrawlInterval != nil {
		d := time.Duration(*b.CrawlInterval) * time.Second
		p.CrawlInterval = &d
	}
	if b.Timeout != nil {
		d := time.Duration(*b.Timeout) * time.Second
		p.Timeout = &d
	}
	return p, nil
}

// jsonText returns raw as stored JSON text: a JSON string is unwrapped, any
// other value is kept verbatim. Absent or null means unset.
func jsonText(field string, raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
		}
		return &s, nil
	}
	s := string(raw)
	return &s, nil
}

type sourceView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	URL           string          `json:"url"`
	SourceType    string          `json:"source_type"`
	RequestParams json.RawMessage `json:"request_params"`
	Headers       json.RawMessage `json:"headers"`
	RequestMethod string          `json:"request_method"`
	Enabled       bool            `json:"enabled"`
	CrawlInterval int             `json:"crawl_interval"`
	Timeout       int             `json:"timeout"`
	RetryCount    int             `json:"retry_count"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     *string         `json:"created_at"`
	UpdatedAt     *string         `json:"updated_at"`
}

func viewSource(src *storage.Source) sourceView {
	return sourceView{
		ID:            src.ID,
		Name:          src.Name,
		URL:           src.URL,
		SourceType:    src.Type,
		RequestParams: asJSON(src.Params),
		Headers:       asJSON(src.Headers),
		RequestMethod: src.Method,
		Enabled:       src.Enabled,
		CrawlInterval: int(src.CrawlInterval / time.Second),
		Timeout:       int(src.Timeout / time.Second),
		RetryCount:    src.RetryCount,
		Description:   src.Description,
		CreatedAt:     formatTime(&src.CreatedAt),
		UpdatedAt:     formatTime(&src.UpdatedAt),
	}
}

// asJSON embeds stored JSON text, or the text as a string when it is not
// valid JSON.
func asJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func (s *server) listSources(w http.ResponseWriter, r *http.Request) {
	list, err := s.Sources.List(r.Context(), r.URL.Query().Get("enabled") == "true")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]sourceView, 0, len(list))
	for _, src := range list {
		views = append(views, viewSource(src))
	}
	writeOK(w, envelope{"sources": views, "total": len(views)})
}

func (s *server) createSource(w http.ResponseWriter, r *http.Request) {
	var body sourceBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := body.patch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	src := &storage.Source{Enabled: true}
	p.Apply(src)
	if err := s.Sources.Create(r.Context(), src); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"message": "配置创建成功", "config_id": src.ID, "source": viewSource(src)})
}

func (s *server) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.Sources.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"source": viewSource(src)})
}

func (s *server) updateSource(w http.ResponseWriter, r *http.Request) {
	var body sourceBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := body.patch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := s.Sources.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"message": "配置更新成功", "source": viewSource(src)})
}

func (s *server) deleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.Sources.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"message": "配置删除成功"})
}

// importSources takes a YAML seed document as the request body.
func (s *server) importSources(w http.ResponseWriter, r *http.Request) {
	seeds, err := sources.ParseSeeds(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	res, err := s.Sources.Import(r.Context(), seeds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, envelope{"created": res.Created, "updated": res.Updated})
}

package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
	"gopkg.in/yaml.v3"
)

// Seed is one source in a YAML seed file:
//
//	sources:
//	  - name: 百度搜索
//	    url: https://www.baidu.com/s
//	    source_type: baidu_search
//	    params: {ie: utf-8}
//	    timeout: 5s
type Seed struct {
	Name          string            `yaml:"name"`
	URL           string            `yaml:"url"`
	Type          string            `yaml:"source_type"`
	Params        map[string]any    `yaml:"params"`
	Headers       map[string]string `yaml:"headers"`
	Method        string            `yaml:"method"`
	Enabled       *bool             `yaml:"enabled"`
	CrawlInterval time.Duration     `yaml:"crawl_interval"`
	Timeout       time.Duration     `yaml:"timeout"`
	RetryCount    int               `yaml:"retry_count"`
	Description   string            `yaml:"description"`
}

// SeedFile is the top level of a seed file.
type SeedFile struct {
	Sources []Seed `yaml:"sources"`
}

// ImportResult counts what Import did.
type ImportResult struct {
	Created int
	Updated int
}

// ParseSeeds decodes a seed document.
func ParseSeeds(r io.Reader) ([]Seed, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sources: parse seeds: %w", err)
	}
	return f.Sources, nil
}

// Source converts the seed to a storage.Source.
func (sd Seed) Source() (*storage.Source, error) {
	params, err := toJSON(sd.Params)
	if err != nil {
		return nil, fmt.Errorf("sources: seed %q params: %w", sd.Name, err)
	}
	headers, err := toJSON(sd.Headers)
	if err != nil {
		return nil, fmt.Errorf("sources: seed %q headers: %w", sd.Name, err)
	}
	enabled := true
	if sd.Enabled != nil {
		enabled = *sd.Enabled
	}
	return &storage.Source{
		Name:          sd.Name,
		URL:           sd.URL,
		Type:          sd.Type,
		Params:        params,
		Headers:       headers,
		Method:        sd.Method,
		Enabled:       enabled,
		CrawlInterval: sd.CrawlInterval,
		Timeout:       sd.Timeout,
		RetryCount:    sd.RetryCount,
		Description:   sd.Description,
	}, nil
}

func toJSON[M ~map[string]V, V any](m M) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Import creates each seed, or updates the existing source with the same
// name. All seeds are validated before anything is written.
func (s *Service) Import(ctx context.Context, seeds []Seed) (ImportResult, error) {
	var res ImportResult
	srcs := make([]*storage.Source, 0, len(seeds))
	for _, sd := range seeds {
		src, err := sd.Source()
		if err != nil {
			return res, err
		}
		ApplyDefaults(src)
		if err := Validate(src); err != nil {
			return res, fmt.Errorf("seed %q: %w", sd.Name, err)
		}
		srcs = append(srcs, src)
	}

	for _, src := range srcs {
		existing, err := s.store.GetSourceByName(ctx, src.Name)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if err := s.Create(ctx, src); err != nil {
				return res, err
			}
			res.Created++
		case err != nil:
			return res, fmt.Errorf("sources: import %q: %w", src.Name, err)
		default:
			src.ID = existing.ID
			src.CreatedAt = existing.CreatedAt
			if err := s.store.UpdateSource(ctx, src); err != nil {
				return res, fmt.Errorf("sources: import %q: %w", src.Name, err)
			}
			s.invalidate()
			res.Updated++
		}
	}
	return res, nil
}

// ImportFile reads seeds from path and imports them.
func (s *Service) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("sources: open seeds: %w", err)
	}
	defer f.Close()

	seeds, err := ParseSeeds(f)
	if err != nil {
		return ImportResult{}, err
	}
	return s.Import(ctx, seeds)
}

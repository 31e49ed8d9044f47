package search

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/FranksOps/gleaner/internal/scraper"
	"github.com/PuerkitoBio/goquery"
)

// Selectors locate result fields in a result page.
type Selectors struct {
	Container string
	Anchor    string
	Abstract  string
	Source    string
}

// DefaultSelectors match the engine's current result markup.
var DefaultSelectors = Selectors{
	Container: "div.c-container",
	Anchor:    "h3 a",
	Abstract:  ".c-abstract",
	Source:    ".c-color-gray",
}

// Parse extracts up to limit results from a result page in document order.
// Containers without a heading anchor, or whose anchor has no href, are
// skipped but still count toward limit.
func Parse(body []byte, sel Selectors, limit int) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: parse: %w", err)
	}

	containers := doc.Find(sel.Container)
	if limit > 0 && containers.Length() > limit {
		containers = containers.Slice(0, limit)
	}

	var results []Result
	containers.Each(func(_ int, s *goquery.Selection) {
		a := s.Find(sel.Anchor).First()
		if a.Length() == 0 {
			return
		}
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		r := Result{
			Title: scraper.CleanText(a.Text()),
			URL:   href,
		}
		if abs := s.Find(sel.Abstract).First(); abs.Length() > 0 {
			r.Abstract = scraper.CleanText(abs.Text())
		}
		if src := s.Find(sel.Source).First(); src.Length() > 0 {
			r.Source = scraper.CleanText(src.Text())
		}
		results = append(results, r)
	})
	return results, nil
}

package scraper

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// Extracted is the readable text of an HTML page.
type Extracted struct {
	Title       string
	Description string
	// Paragraphs are the non-empty <p> texts in document order.
	Paragraphs []string
	// Links are absolute http(s) hrefs with fragments removed.
	Links []string
}

// Text joins the paragraphs with newlines.
func (e *Extracted) Text() string {
	return strings.Join(e.Paragraphs, "\n")
}

// Extract parses body as HTML. Relative links are resolved against baseURL.
func Extract(baseURL string, body []byte) (*Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scraper: parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	out := &Extracted{
		Title: CleanText(doc.Find("title").First().Text()),
	}
	if d, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		out.Description = CleanText(d)
	}
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := CleanText(s.Text()); t != "" {
			out.Paragraphs = append(out.Paragraphs, t)
		}
	})
	out.Links = extractLinks(baseURL, doc)
	return out, nil
}

// CleanText removes any markup, unescapes entities and collapses whitespace.
func CleanText(s string) string {
	s = stripPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func extractLinks(baseURL string, doc *goquery.Document) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(u)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		links = append(links, resolved.String())
	})
	return links
}

package scraper

import (
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	body := []byte(`<html><head>
<title> Go &amp; 并发 </title>
<meta name="description" content="  about   goroutines ">
<script>var x = "<p>not text</p>";</script>
</head><body>
<p>First <b>paragraph</b>.</p>
<p>   </p>
<p>Second
   paragraph.</p>
<a href="/rel#frag">rel</a>
<a href="https://other.example/abs">abs</a>
<a href="mailto:a@b.c">mail</a>
<a href="javascript:void(0)">js</a>
</body></html>`)

	ext, err := Extract("http://example.com/dir/page", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ext.Title != "Go & 并发" {
		t.Errorf("unexpected title %q", ext.Title)
	}
	if ext.Description != "about goroutines" {
		t.Errorf("unexpected description %q", ext.Description)
	}
	if got := ext.Text(); got != "First paragraph.\nSecond paragraph." {
		t.Errorf("unexpected text %q", got)
	}
	want := "http://example.com/rel,https://other.example/abs"
	if got := strings.Join(ext.Links, ","); got != want {
		t.Errorf("expected links %s, got %s", want, got)
	}
}

func TestCleanText(t *testing.T) {
	if got := CleanText("  <em>hello</em>\n\t world &lt;3 "); got != "hello world <3" {
		t.Errorf("unexpected %q", got)
	}
}

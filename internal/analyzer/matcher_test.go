package analyzer

import (
	"strings"
	"testing"
)

func TestFind(t *testing.T) {
	m := Find("Golang servers are simple. I like golang! Rust is fine.", "GoLang")
	if m.Count != 2 {
		t.Errorf("Count = %d, want 2", m.Count)
	}
	want := "Golang servers are simple.|I like golang!"
	if got := strings.Join(m.Sentences, "|"); got != want {
		t.Errorf("Sentences = %q", got)
	}

	if m := Find("", "go"); m.Count != 0 || m.Sentences != nil {
		t.Errorf("empty content matched: %+v", m)
	}
	if m := Find("text", "  "); m.Count != 0 {
		t.Errorf("blank keyword matched: %+v", m)
	}
}

func TestMatchingSentencesCJK(t *testing.T) {
	content := "Python 是一种编程语言。它很流行！学习python需要多久？Go 也不错。"

	got := MatchingSentences(content, "Python", 0)
	want := []string{"Python 是一种编程语言。", "学习python需要多久？"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := MatchingSentences(content, "Python", 1); len(got) != 1 {
		t.Errorf("expected 1 sentence with max, got %q", got)
	}
	if got := MatchingSentences(content, "Rust", 0); got != nil {
		t.Errorf("expected nil, got %q", got)
	}
}

func TestSplitIntoSentences(t *testing.T) {
	got := splitIntoSentences("采集完成；共 3 条。Version 1.22 ships at go.dev today. Done")
	var parts []string
	for _, s := range got {
		parts = append(parts, s.original)
	}
	want := []string{"采集完成；", "共 3 条。", "Version 1.22 ships at go.dev today.", "Done"}
	if strings.Join(parts, "|") != strings.Join(want, "|") {
		t.Errorf("got %q, want %q", parts, want)
	}
}

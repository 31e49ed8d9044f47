// Package analyzer finds where keywords occur in page text.
package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mention is where a keyword occurs in a text.
type Mention struct {
	Keyword string
	// Count is the number of case-insensitive occurrences.
	Count     int
	Sentences []string
}

type sentence struct {
	original string
	lower    string
}

// Find returns the mentions of keyword in content, matching case-insensitively.
// A blank keyword never matches.
func Find(content, keyword string) Mention {
	m := Mention{Keyword: keyword}
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if content == "" || needle == "" {
		return m
	}
	if m.Count = strings.Count(strings.ToLower(content), needle); m.Count == 0 {
		return m
	}
	for _, s := range splitIntoSentences(content) {
		if strings.Contains(s.lower, needle) {
			m.Sentences = append(m.Sentences, s.original)
		}
	}
	return m
}

// MatchingSentences returns up to max sentences of content that mention
// keyword (all of them when max <= 0).
func MatchingSentences(content, keyword string, max int) []string {
	s := Find(content, keyword).Sentences
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

// isTerminal reports whether r always ends a sentence. ASCII '.', '!' and
// '?' only end one when followed by whitespace or the end of the text, so
// decimals and hostnames stay intact.
func isTerminal(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '\n':
		return true
	}
	return false
}

func isASCIITerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitIntoSentences splits text into trimmed, non-empty sentences, keeping
// the delimiter at the end of each.
func splitIntoSentences(text string) []sentence {
	if len(text) == 0 {
		return nil
	}

	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}
	sentences := make([]sentence, 0, estimated)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, sentence{original: s, lower: strings.ToLower(s)})
		}
	}

	start := 0
	for i, r := range text {
		end := i + utf8.RuneLen(r)
		switch {
		case isTerminal(r):
		case isASCIITerminal(r):
			if end < len(text) {
				next, _ := utf8.DecodeRuneInString(text[end:])
				if !unicode.IsSpace(next) {
					continue
				}
			}
		default:
			continue
		}
		add(text[start:end])
		start = end
	}
	if start < len(text) {
		add(text[start:])
	}
	return sentences
}

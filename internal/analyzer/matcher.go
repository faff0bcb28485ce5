// Package analyzer measures how well a text excerpt matches free-form
// relevance criteria using term occurrence.
package analyzer

import (
	"strings"
	"unicode"
)

// TermMatch represents occurrences of a criteria term within a text.
type TermMatch struct {
	Term      string   `json:"term"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences"`
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"for": true, "from": true, "in": true, "is": true, "it": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "with": true, "about": true, "any": true,
	"documents": true, "document": true, "related": true, "relevant": true, "should": true, "must": true,
}

// Terms splits criteria into lower-cased search terms. Comma, semicolon or
// newline separated phrases are kept whole; otherwise the text is split into
// words. Stop words, single characters and repeats are dropped.
func Terms(criteria string) []string {
	sep := func(r rune) bool { return r == ',' || r == ';' || r == '\n' }
	parts := strings.FieldsFunc(criteria, sep)
	if len(parts) <= 1 {
		parts = strings.FieldsFunc(criteria, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
		})
	}

	seen := make(map[string]bool, len(parts))
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.ToLower(strings.Join(strings.Fields(p), " "))
		if len([]rune(t)) < 2 || stopWords[t] || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return terms
}

// FindTermMatches scans content for each term (case-insensitive) and returns
// one TermMatch per term that occurs, with the sentences containing it.
func FindTermMatches(content string, terms []string) []TermMatch {
	if len(content) == 0 || len(terms) == 0 {
		return nil
	}

	results := make([]TermMatch, 0, len(terms))
	lowerContent := strings.ToLower(content)

	sentences := splitIntoSentences(content)

	for _, term := range terms {
		lowerTerm := strings.ToLower(term)
		count := strings.Count(lowerContent, lowerTerm)
		if count == 0 {
			continue
		}

		var matched []string
		for _, sd := range sentences {
			if strings.Contains(sd.lower, lowerTerm) {
				matched = append(matched, sd.original)
			}
		}

		results = append(results, TermMatch{
			Term:      term,
			Count:     count,
			Sentences: matched,
		})
	}
	return results
}

// Relevance is the keyword-based judgement of one excerpt.
type Relevance struct {
	Score    float64
	Coverage float64
	Matches  []TermMatch
}

// occurrences per term at which the density component saturates
const saturation = 3

// Score rates content against terms. Coverage (share of terms present) weighs
// 0.7 and occurrence density 0.3; the result is within [0, 1].
func Score(content string, terms []string) Relevance {
	if len(terms) == 0 {
		return Relevance{}
	}
	matches := FindTermMatches(content, terms)

	total := 0
	for _, m := range matches {
		total += m.Count
	}
	coverage := float64(len(matches)) / float64(len(terms))
	density := float64(total) / float64(len(terms)*saturation)
	if density > 1 {
		density = 1
	}
	return Relevance{
		Score:    0.7*coverage + 0.3*density,
		Coverage: coverage,
		Matches:  matches,
	}
}

// Summary joins up to max distinct matched sentences.
func (r Relevance) Summary(max int) string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range r.Matches {
		for _, s := range m.Sentences {
			if len(out) >= max {
				return strings.Join(out, " ")
			}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return strings.Join(out, " ")
}

// sentenceData holds original and lowercase versions together
type sentenceData struct {
	original string
	lower    string
}

// splitIntoSentences splits on '.', '!', '?' and their CJK full-width forms,
// keeping the delimiter, and returns original and lowercase forms in one pass.
func splitIntoSentences(text string) []sentenceData {
	if len(text) == 0 {
		return nil
	}

	// Estimate sentence count: roughly 1 sentence per 50 chars average
	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}

	sentences := make([]sentenceData, 0, estimated)
	start := 0

	appendSentence := func(s string) {
		orig := strings.TrimSpace(s)
		if orig == "" {
			return
		}
		sentences = append(sentences, sentenceData{
			original: orig,
			lower:    strings.ToLower(orig),
		})
	}

	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？' {
			end := i + len(string(r))
			for end < len(text) && unicode.IsSpace(rune(text[end])) {
				end++
			}
			appendSentence(text[start:end])
			start = end
		}
	}

	// Capture any trailing text
	if start < len(text) {
		appendSentence(text[start:])
	}

	return sentences
}

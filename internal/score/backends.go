package score

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/FranksOps/docsweep/internal/analyzer"
	"github.com/FranksOps/docsweep/internal/llm"
)

// Keyword scores by criteria term coverage and density.
type Keyword struct{}

var _ Backend = Keyword{}

// relevantAt is the keyword score from which a document counts as relevant.
const relevantAt = 0.5

func (Keyword) Name() string { return "keyword" }

// Judge matches the criteria terms against the excerpt text, or against the
// file name when the type carries no text.
func (Keyword) Judge(ctx context.Context, excerpt Excerpt, criteria string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	terms := analyzer.Terms(criteria)
	if len(terms) == 0 {
		return Outcome{}, ErrNoCriteria
	}

	content := excerpt.Text
	if content == "" {
		name := filepath.Base(excerpt.Path)
		content = strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSuffix(name, filepath.Ext(name)))
	}
	rel := analyzer.Score(content, terms)

	out := Outcome{
		Score:    rel.Score,
		Summary:  rel.Summary(3),
		Relevant: rel.Score >= relevantAt,
		Reason:   fmt.Sprintf("%d of %d criteria terms found", len(rel.Matches), len(terms)),
	}
	for _, m := range rel.Matches {
		out.KeyPoints = append(out.KeyPoints, fmt.Sprintf("%s (%d)", m.Term, m.Count))
	}
	return out, nil
}

// LLM asks a chat model for a JSON verdict.
type LLM struct {
	completer llm.Completer
}

var _ Backend = (*LLM)(nil)

// NewLLM creates an LLM backend.
func NewLLM(completer llm.Completer) *LLM {
	return &LLM{completer: completer}
}

func (b *LLM) Name() string { return "openai" }

const judgePrompt = `You rate how relevant a document is to search criteria.
Reply with one JSON object and nothing else:
{"relevant": true|false, "score": 0.0-1.0, "summary": "brief summary of the content", "reason": "why it is or is not relevant", "key_points": ["point", "..."]}`

type judgement struct {
	Relevant  bool     `json:"relevant"`
	Score     *float64 `json:"score"`
	Summary   string   `json:"summary"`
	Reason    string   `json:"reason"`
	KeyPoints []string `json:"key_points"`
}

// Judge sends the criteria and the excerpt reference in one completion.
func (b *LLM) Judge(ctx context.Context, excerpt Excerpt, criteria string) (Outcome, error) {
	user := "SEARCH CRITERIA: " + criteria + "\n\nCONTENT:\n" + excerpt.Reference()
	reply, err := b.completer.Complete(ctx, judgePrompt, user)
	if err != nil {
		return Outcome{}, fmt.Errorf("scoring backend: %w", err)
	}
	return parseJudgement(reply)
}

func parseJudgement(reply string) (Outcome, error) {
	body := llm.StripCodeFence(reply)
	if start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}'); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var j judgement
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if j.Score == nil {
		return Outcome{}, fmt.Errorf("%w: missing score", ErrMalformedResponse)
	}
	return Outcome{
		Score:     *j.Score,
		Summary:   strings.TrimSpace(j.Summary),
		Relevant:  j.Relevant,
		Reason:    strings.TrimSpace(j.Reason),
		KeyPoints: j.KeyPoints,
	}, nil
}

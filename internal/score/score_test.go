package score

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FranksOps/docsweep/internal/config"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestReadExcerpt_HTML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "page.html", `<html><head><style>body{}</style><script>var x = 1;</script></head>
<body><h1>Solar   report</h1><p>Panel efficiency rose.</p></body></html>`)

	ex, err := ReadExcerpt(p, 100)
	require.NoError(t, err)
	assert.Equal(t, "html", ex.FileType)
	assert.Contains(t, ex.Text, "Solar report")
	assert.Contains(t, ex.Text, "Panel efficiency rose.")
	assert.NotContains(t, ex.Text, "var x")
}

func TestReadExcerpt_TruncatesText(t *testing.T) {
	p := writeFile(t, t.TempDir(), "notes.txt", strings.Repeat("日本語", 100))

	ex, err := ReadExcerpt(p, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, len([]rune(ex.Text)))
}

func TestReadExcerpt_XLSX(t *testing.T) {
	p := filepath.Join(t.TempDir(), "data.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"region", "capacity"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"north", 42}))
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	ex, err := ReadExcerpt(p, 1000)
	require.NoError(t, err)
	assert.Equal(t, "region capacity\nnorth 42", ex.Text)
}

func TestReadExcerpt_DOCX(t *testing.T) {
	p := filepath.Join(t.TempDir(), "memo.docx")
	out, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Heat pumps</w:t></w:r><w:r><w:t xml:space="preserve"> in winter</w:t></w:r></w:p>
<w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	ex, err := ReadExcerpt(p, 1000)
	require.NoError(t, err)
	assert.Equal(t, "Heat pumps in winter\nSecond paragraph", ex.Text)
}

func TestReadExcerpt_PDFIsReferencedByName(t *testing.T) {
	p := writeFile(t, t.TempDir(), "solar_panel_report.pdf", "%PDF-1.7 binary")

	ex, err := ReadExcerpt(p, 1000)
	require.NoError(t, err)
	assert.Empty(t, ex.Text)
	assert.Equal(t, "file: solar_panel_report.pdf", ex.Reference())
}

func TestReadExcerpt_Missing(t *testing.T) {
	_, err := ReadExcerpt(filepath.Join(t.TempDir(), "gone.pdf"), 100)
	assert.Error(t, err)
}

func TestKeywordScorer(t *testing.T) {
	dir := t.TempDir()
	hit := writeFile(t, dir, "hit.txt", "Solar panel efficiency improved. Solar farms grew. Panel costs fell.")
	miss := writeFile(t, dir, "miss.txt", "Recipes for sourdough bread.")
	named := writeFile(t, dir, "solar_panel.pdf", "%PDF")

	s := New(Keyword{}, Options{})
	criteria := "solar panel efficiency"

	out, err := s.Score(context.Background(), hit, criteria)
	require.NoError(t, err)
	assert.True(t, out.Relevant)
	assert.Greater(t, out.Score, 0.7)
	assert.LessOrEqual(t, out.Score, 1.0)
	assert.Contains(t, out.Summary, "Solar panel efficiency improved.")

	out, err = s.Score(context.Background(), miss, criteria)
	require.NoError(t, err)
	assert.False(t, out.Relevant)
	assert.Zero(t, out.Score)

	out, err = s.Score(context.Background(), named, criteria)
	require.NoError(t, err)
	assert.InDelta(t, 0.7*2.0/3.0+0.3*2.0/9.0, out.Score, 1e-9)

	_, err = s.Score(context.Background(), hit, "   ")
	assert.ErrorIs(t, err, ErrNoCriteria)
}

type fakeCompleter struct {
	reply string
	err   error
	calls atomic.Int32
	user  atomic.Value
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls.Add(1)
	f.user.Store(user)
	return f.reply, f.err
}

func TestLLMScorer(t *testing.T) {
	p := writeFile(t, t.TempDir(), "doc.txt", "Wind turbine blade recycling.")

	fc := &fakeCompleter{reply: "```json\n{\"relevant\": true, \"score\": 0.82, \"summary\": \"Blade recycling study\", \"reason\": \"on topic\", \"key_points\": [\"recycling\"]}\n```"}
	s := New(NewLLM(fc), Options{})

	out, err := s.Score(context.Background(), p, "wind turbine recycling")
	require.NoError(t, err)
	assert.InDelta(t, 0.82, out.Score, 1e-9)
	assert.Equal(t, "Blade recycling study", out.Summary)
	assert.True(t, out.Relevant)
	assert.Equal(t, []string{"recycling"}, out.KeyPoints)

	user := fc.user.Load().(string)
	assert.Contains(t, user, "SEARCH CRITERIA: wind turbine recycling")
	assert.Contains(t, user, "Wind turbine blade recycling.")
}

func TestLLMScorer_ClampsScore(t *testing.T) {
	p := writeFile(t, t.TempDir(), "doc.txt", "x")
	s := New(NewLLM(&fakeCompleter{reply: `Sure! {"score": 7, "summary": "ok"}`}), Options{})

	out, err := s.Score(context.Background(), p, "anything")
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Score)
}

func TestLLMScorer_Failures(t *testing.T) {
	p := writeFile(t, t.TempDir(), "doc.txt", "x")

	s := New(NewLLM(&fakeCompleter{reply: "I cannot help with that"}), Options{})
	_, err := s.Score(context.Background(), p, "anything")
	assert.ErrorIs(t, err, ErrMalformedResponse)

	s = New(NewLLM(&fakeCompleter{reply: `{"summary": "no score"}`}), Options{})
	_, err = s.Score(context.Background(), p, "anything")
	assert.ErrorIs(t, err, ErrMalformedResponse)

	backendDown := errors.New("503 from backend")
	s = New(NewLLM(&fakeCompleter{err: backendDown}), Options{})
	_, err = s.Score(context.Background(), p, "anything")
	assert.ErrorIs(t, err, backendDown)
}

func TestScoreBatch_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "solar solar solar")
	b := writeFile(t, dir, "b.txt", "nothing here")
	missing := filepath.Join(dir, "missing.txt")

	s := New(Keyword{}, Options{Concurrency: 2})
	got := s.ScoreBatch(context.Background(), []string{a, missing, b}, "solar")

	require.Len(t, got, 3)
	assert.NoError(t, got[a].Err)
	assert.Equal(t, 1.0, got[a].Outcome.Score)
	assert.Error(t, got[missing].Err)
	assert.NoError(t, got[b].Err)
	assert.Zero(t, got[b].Outcome.Score)
}

func TestNewFromConfig(t *testing.T) {
	s, err := NewFromConfig(config.ScoringConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, s, "disabled scoring builds no scorer")

	s, err = NewFromConfig(config.ScoringConfig{Enabled: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "keyword", s.Backend())

	s, err = NewFromConfig(config.ScoringConfig{Enabled: true, Backend: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", s.Backend())

	_, err = NewFromConfig(config.ScoringConfig{Enabled: true, Backend: "bert"}, nil)
	var cerr *config.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "scoring.backend", cerr.Field)
}

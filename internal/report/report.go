package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/FranksOps/docsweep/internal/storage"
)

// Summary contains aggregated figures about one search session.
type Summary struct {
	SessionID    string
	Query        string
	Status       storage.SessionStatus
	Error        string
	Languages    []string
	TotalResults int

	Downloaded int
	Failed     int
	Skipped    int
	Unresolved int

	FailureReasons map[string]int
	ByEngine       map[string]int
	ByLanguage     map[string]int
	ByFileType     map[string]int
	TotalBytes     int64

	Scored    int
	MeanScore float64
	Top       []TopResult

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// TopResult is one of the best scored downloads.
type TopResult struct {
	Title    string
	URL      string
	FilePath string
	Score    float64
}

// topN is how many scored results a summary lists.
const topN = 5

// GenerateSummary aggregates a session and its results.
func GenerateSummary(session *storage.Session) Summary {
	s := Summary{
		SessionID:      session.ID,
		Query:          session.Query,
		Status:         session.Status,
		Error:          session.Error,
		Languages:      session.Languages,
		TotalResults:   session.TotalResults,
		FailureReasons: make(map[string]int),
		ByEngine:       make(map[string]int),
		ByLanguage:     make(map[string]int),
		ByFileType:     make(map[string]int),
		StartTime:      session.CreatedAt,
		EndTime:        session.UpdatedAt,
	}
	if s.EndTime.After(s.StartTime) {
		s.Duration = s.EndTime.Sub(s.StartTime)
	}

	var scoreSum float64
	for _, r := range session.Results {
		s.ByEngine[r.Engine]++
		s.ByLanguage[r.Language]++

		switch r.Status {
		case storage.StatusDownloaded:
			s.Downloaded++
			s.TotalBytes += r.FileSize
			if r.FileType != "" {
				s.ByFileType[r.FileType]++
			}
		case storage.StatusFailed:
			s.Failed++
			s.FailureReasons[r.FailureReason]++
		case storage.StatusSkipped:
			s.Skipped++
			s.FailureReasons[r.FailureReason]++
		default:
			s.Unresolved++
		}

		if r.Score != nil {
			s.Scored++
			scoreSum += *r.Score
			s.Top = append(s.Top, TopResult{Title: r.Title, URL: r.URL, FilePath: r.FilePath, Score: *r.Score})
		}
	}

	if s.Scored > 0 {
		s.MeanScore = scoreSum / float64(s.Scored)
	}
	sort.SliceStable(s.Top, func(i, j int) bool { return s.Top[i].Score > s.Top[j].Score })
	if len(s.Top) > topN {
		s.Top = s.Top[:topN]
	}
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `docsweep session {{.SessionID}}
------------------
Query:         {{.Query}}
Status:        {{.Status}}{{if .Error}} ({{.Error}}){{end}}
Languages:     {{join .Languages ", "}}
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Results:       {{.TotalResults}}
Downloaded:    {{.Downloaded}} ({{.TotalBytes}} bytes)
Failed:        {{.Failed}}
Skipped:       {{.Skipped}}

Reasons:
{{- range $reason, $count := .FailureReasons}}
  {{$reason}}: {{$count}}
{{- else}}
  None
{{- end}}

Engines:
{{- range $engine, $count := .ByEngine}}
  {{$engine}}: {{$count}}
{{- else}}
  None
{{- end}}

Languages:
{{- range $lang, $count := .ByLanguage}}
  {{$lang}}: {{$count}}
{{- else}}
  None
{{- end}}
{{- if .Scored}}

Scored: {{.Scored}} (mean {{printf "%.2f" .MeanScore}})
{{- range .Top}}
  {{printf "%.2f" .Score}}  {{.Title}}  {{.URL}}
{{- end}}
{{- end}}
`

	t, err := template.New("textReport").Funcs(template.FuncMap{"join": strings.Join}).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>docsweep session {{.SessionID}}</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>{{.Query}}</h1>
  <p><strong>Status:</strong> {{.Status}}{{if .Error}} ({{.Error}}){{end}}</p>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Results</div>
    <div class="stat-val">{{.TotalResults}}</div>
  </div>
  <div class="stat-card">
    <div>Downloaded</div>
    <div class="stat-val" style="color: green;">{{.Downloaded}}</div>
  </div>
  <div class="stat-card">
    <div>Failed</div>
    <div class="stat-val" style="color: {{if gt .Failed 0}}red{{else}}green{{end}};">{{.Failed}}</div>
  </div>
  <div class="stat-card">
    <div>Skipped</div>
    <div class="stat-val">{{.Skipped}}</div>
  </div>
  <div class="stat-card">
    <div>Total Bytes</div>
    <div class="stat-val">{{.TotalBytes}}</div>
  </div>

  <h3>Reasons</h3>
  <table>
    <tr><th>Reason</th><th>Count</th></tr>
    {{- range $reason, $count := .FailureReasons}}
    <tr><td>{{$reason}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Engines</h3>
  <table>
    <tr><th>Engine</th><th>Results</th></tr>
    {{- range $engine, $count := .ByEngine}}
    <tr><td>{{$engine}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  {{- if .Top}}
  <h3>Most Relevant</h3>
  <table>
    <tr><th>Score</th><th>Title</th></tr>
    {{- range .Top}}
    <tr><td>{{printf "%.2f" .Score}}</td><td><a href="{{.URL}}">{{.Title}}</a></td></tr>
    {{- end}}
  </table>
  {{- end}}
</body>
</html>
`
	t, err := htmltemplate.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}

	return nil
}

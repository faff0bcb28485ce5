package filestore

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/xuri/excelize/v2"
	"go.yaml.in/yaml/v3"
)

// Export formats.
const (
	FormatCSV   = "csv"
	FormatExcel = "xlsx"
	FormatJSON  = "json"
)

// exportHeaders defines the column order of CSV and Excel exports.
var exportHeaders = []string{
	"title",
	"url",
	"language",
	"search_engine",
	"file_path",
	"download_status",
	"created_at",
}

func exportRow(r *storage.Result) []string {
	return []string{
		r.Title,
		r.URL,
		r.Language,
		r.Engine,
		r.FilePath,
		string(r.Status),
		r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Exportable returns the results that made it to disk, in stored order.
func Exportable(session *storage.Session) []*storage.Result {
	var out []*storage.Result
	for _, r := range session.Results {
		if r.Status == storage.StatusDownloaded && r.FilePath != "" {
			out = append(out, r)
		}
	}
	return out
}

// ExportCSV writes the downloaded results of session as UTF-8 CSV with a leading BOM.
func (m *Manager) ExportCSV(w io.Writer, session *storage.Session) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeaders); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range Exportable(session) {
		if err := cw.Write(exportRow(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

const excelSheet = "Results"

// ExportExcel writes the downloaded results of session as an .xlsx workbook.
func (m *Manager) ExportExcel(w io.Writer, session *storage.Session) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", excelSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(excelSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}

	for i, r := range Exportable(session) {
		cells := exportRow(r)
		row := make([]any, len(cells))
		for j, c := range cells {
			row[j] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(excelSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(excelSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

type jsonResult struct {
	ID              string   `json:"id" yaml:"id"`
	Title           string   `json:"title" yaml:"title"`
	URL             string   `json:"url" yaml:"url"`
	Language        string   `json:"language" yaml:"language"`
	TranslatedQuery string   `json:"translated_query,omitempty" yaml:"translated_query,omitempty"`
	Engine          string   `json:"search_engine" yaml:"search_engine"`
	Rank            int      `json:"rank" yaml:"rank"`
	Status          string   `json:"download_status" yaml:"download_status"`
	FailureReason   string   `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	FilePath        string   `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	FileType        string   `json:"file_type,omitempty" yaml:"file_type,omitempty"`
	FileSize        int64    `json:"file_size,omitempty" yaml:"file_size,omitempty"`
	Score           *float64 `json:"relevance_score,omitempty" yaml:"relevance_score,omitempty"`
	Summary         string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	CreatedAt       string   `json:"created_at" yaml:"created_at"`
}

type jsonSession struct {
	ID           string       `json:"id" yaml:"id"`
	Query        string       `json:"query" yaml:"query"`
	Criteria     string       `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Languages    []string     `json:"languages" yaml:"languages"`
	Status       string       `json:"status" yaml:"status"`
	Error        string       `json:"error,omitempty" yaml:"error,omitempty"`
	TotalResults int          `json:"total_results" yaml:"total_results"`
	StoragePath  string       `json:"storage_path,omitempty" yaml:"storage_path,omitempty"`
	CreatedAt    string       `json:"created_at" yaml:"created_at"`
	UpdatedAt    string       `json:"updated_at" yaml:"updated_at"`
	Results      []jsonResult `json:"results" yaml:"results"`
}

func toJSONSession(s *storage.Session) jsonSession {
	out := jsonSession{
		ID:           s.ID,
		Query:        s.Query,
		Criteria:     s.Criteria,
		Languages:    s.Languages,
		Status:       string(s.Status),
		Error:        s.Error,
		TotalResults: s.TotalResults,
		StoragePath:  s.StoragePath,
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    s.UpdatedAt.UTC().Format(time.RFC3339),
		Results:      make([]jsonResult, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		out.Results = append(out.Results, jsonResult{
			ID:              r.ID,
			Title:           r.Title,
			URL:             r.URL,
			Language:        r.Language,
			TranslatedQuery: r.TranslatedQuery,
			Engine:          r.Engine,
			Rank:            r.Rank,
			Status:          string(r.Status),
			FailureReason:   r.FailureReason,
			FilePath:        r.FilePath,
			FileType:        r.FileType,
			FileSize:        r.FileSize,
			Score:           r.Score,
			Summary:         r.Summary,
			CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// ExportJSON writes the full session, every result included, as indented JSON.
func (m *Manager) ExportJSON(w io.Writer, session *storage.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toJSONSession(session)); err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return nil
}

// ManifestName is the file WriteManifest creates in the session directory.
const ManifestName = "session.yaml"

// WriteManifest records the session and all of its results as YAML in the
// session directory and returns the manifest path.
func (m *Manager) WriteManifest(session *storage.Session) (string, error) {
	dir, err := m.EnsureSessionDir(session)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(toJSONSession(session))
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	p := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return p, nil
}

// ExportFile writes session in format to dest, defaulting to
// results_<session-id>.<format> inside the session directory.
func (m *Manager) ExportFile(session *storage.Session, format, dest string) (string, error) {
	format = strings.ToLower(format)
	var write func(io.Writer, *storage.Session) error
	switch format {
	case FormatCSV:
		write = m.ExportCSV
	case FormatExcel, "excel":
		format, write = FormatExcel, m.ExportExcel
	case FormatJSON:
		write = m.ExportJSON
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}

	if dest == "" {
		dir, err := m.EnsureSessionDir(session)
		if err != nil {
			return "", err
		}
		dest = filepath.Join(dir, fmt.Sprintf("results_%s.%s", session.ID, format))
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := write(f, session); err != nil {
		f.Close()
		_ = os.Remove(dest)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return dest, nil
}

// QueryRecord is one query a session searched with.
type QueryRecord struct {
	OriginalQuery string
	Query         string
	Language      string
	Kind          string
	Confidence    float64
	Reasoning     string
}

var queryHeaders = []string{"original_query", "optimized_query", "language", "type", "confidence", "reasoning"}

// QueriesFileName is the CSV WriteQueries creates in the session directory.
func QueriesFileName(session *storage.Session) string {
	return fmt.Sprintf("optimized_queries_%s.csv", session.ID)
}

// WriteQueries records the queries of session as UTF-8 CSV with a leading BOM
// in the session directory and returns the file path.
func (m *Manager) WriteQueries(session *storage.Session, records []QueryRecord) (string, error) {
	dir, err := m.EnsureSessionDir(session)
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, QueriesFileName(session))
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("create queries file: %w", err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, "\ufeff"); err != nil {
		return "", fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(queryHeaders); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, q := range records {
		row := []string{q.OriginalQuery, q.Query, q.Language, q.Kind, strconv.FormatFloat(q.Confidence, 'f', 2, 64), q.Reasoning}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return p, f.Close()
}

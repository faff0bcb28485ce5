package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/docsweep/internal/report"
	"github.com/FranksOps/docsweep/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored search sessions",
	RunE:  runSessions,
}

var showCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Summarize one session",
	Long: `Show prints the summary of a stored session: result counts by status,
reason, engine and language, and the best scored documents. With --results
every result is listed as well.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	sessionsCmd.Flags().Bool("json", false, "output sessions as JSON")

	showCmd.Flags().String("format", "text", "summary format: text, json or html")
	showCmd.Flags().Bool("results", false, "list every result after the summary")

	rootCmd.AddCommand(sessionsCmd, showCmd)
}

type sessionRow struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	Status       string    `json:"status"`
	Languages    []string  `json:"languages"`
	TotalResults int       `json:"total_results"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func runSessions(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.repo.ListSessions(cmd.Context())
	if err != nil {
		return err
	}

	rows := make([]sessionRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, sessionRow{
			ID:           s.ID,
			Query:        s.Query,
			Status:       string(s.Status),
			Languages:    s.Languages,
			TotalResults: s.TotalResults,
			Error:        s.Error,
			CreatedAt:    s.CreatedAt,
		})
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tRESULTS\tLANGUAGES\tQUERY")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Status, r.TotalResults,
			strings.Join(r.Languages, ","), r.Query)
	}
	return tw.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	listResults, _ := cmd.Flags().GetBool("results")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.repo.GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := writeReport(os.Stdout, format, report.GenerateSummary(session)); err != nil {
		return err
	}
	if listResults {
		return writeResults(os.Stdout, session.Results)
	}
	return nil
}

func writeReport(w io.Writer, format string, summary report.Summary) error {
	switch format {
	case "text", "":
		return report.WriteText(w, summary)
	case "json":
		return report.WriteJSON(w, summary)
	case "html":
		return report.WriteHTML(w, summary)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func writeResults(w io.Writer, results []*storage.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nENGINE\tLANG\tSTATUS\tREASON\tSCORE\tURL")
	for _, r := range results {
		scoreCol := "-"
		if r.Score != nil {
			scoreCol = fmt.Sprintf("%.2f", *r.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Engine, r.Language, r.Status, r.FailureReason, scoreCol, r.URL)
	}
	return tw.Flush()
}

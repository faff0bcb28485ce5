package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/docsweep/internal/filestore"
	"github.com/FranksOps/docsweep/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export [session-id]",
	Short: "Export the downloaded results of a session",
	Long: `Export writes the downloaded results of a session as CSV (UTF-8 with BOM),
an Excel workbook, or JSON. CSV and Excel carry title, url, language,
search_engine, file_path, download_status and created_at; JSON carries every
result with all of its fields.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage usage and session counts",
	RunE:  runStats,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove downloaded files older than a given age",
	RunE:  runCleanup,
}

func init() {
	exportCmd.Flags().String("format", filestore.FormatCSV, "export format: csv, xlsx or json")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: inside the session directory)")

	statsCmd.Flags().Bool("json", false, "output stats as JSON")

	cleanupCmd.Flags().Duration("older-than", 30*24*time.Hour, "remove session directories older than this")

	rootCmd.AddCommand(exportCmd, statsCmd, cleanupCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.repo.GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	path, err := a.files.ExportFile(session, format, output)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d result(s) to %s\n", len(filestore.Exportable(session)), path)
	return nil
}

type statsOutput struct {
	Root     string          `json:"root"`
	Storage  filestore.Stats `json:"storage"`
	Sessions map[string]int  `json:"sessions"`
}

func runStats(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.files.StorageStats()
	if err != nil {
		return err
	}
	sessions, err := a.repo.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	out := statsOutput{Root: a.files.Root(), Storage: st, Sessions: map[string]int{}}
	for _, s := range sessions {
		out.Sessions[string(s.Status)]++
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Printf("Storage root:     %s\n", out.Root)
	fmt.Printf("Date directories: %d\n", st.DateDirectories)
	fmt.Printf("Session dirs:     %d\n", st.Sessions)
	fmt.Printf("Files:            %d\n", st.Files)
	fmt.Printf("Total size:       %d bytes\n", st.Bytes)
	fmt.Printf("Sessions:         %d total, %d completed, %d failed, %d running\n",
		len(sessions), out.Sessions[string(storage.SessionCompleted)],
		out.Sessions[string(storage.SessionFailed)], out.Sessions[string(storage.SessionRunning)])
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	files := filestore.New(cfg.Storage.Root, logger)
	removed, err := files.Cleanup(olderThan)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d director(ies) older than %s\n", removed, olderThan)
	return nil
}

package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"fetchbridge/core"
	"fetchbridge/database"
	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/spf13/cobra"
)

var (
	logsListKind   string
	logsListStage  string
	logsListMethod string
	logsListSearch string
	logsListTabID  int
	logsListLimit  int
	logsListPage   int

	logsExportFormat string
	logsExportOutput string

	logsClearForce bool
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	Short:   "View and manage the persisted audit log",
	Long:    `Lists, shows, exports and clears the audit entries the bridge recorded for mediated requests.`,
	Aliases: []string{"log"},
}

func printBody(w io.Writer, body, contentType string) {
	if body == "" {
		return
	}
	if strings.Contains(strings.ToLower(contentType), "json") {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, []byte(body), "", "  "); err == nil {
			fmt.Fprintln(w, pretty.String())
			return
		}
		logger.Debug("Failed to pretty-print JSON body, printing as string.")
	}
	fmt.Fprintln(w, strings.ToValidUTF8(body, ""))
}

func sortedHeaderNames(h map[string]string) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

var logsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List audit entries, newest first",
	Aliases: []string{"ls"},
	Example: `  # The 30 most recent entries
  fetchbridge logs list

  # Failed socket sessions on page 2
  fetchbridge logs list --kind socket --stage network-error --page 2

  # Entries from tab 12 that mention openai
  fetchbridge logs list --tab 12 --search openai`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsListPage < 1 {
			logsListPage = 1
		}
		if logsListLimit < 1 {
			logger.Info("Invalid limit %d provided, using default 30", logsListLimit)
			logsListLimit = 30
		}
		filters := models.LogFilters{
			Kind:   models.LogKind(logsListKind),
			Stage:  models.Stage(logsListStage),
			Method: logsListMethod,
			Search: logsListSearch,
			Limit:  logsListLimit,
			Offset: (logsListPage - 1) * logsListLimit,
		}
		if cmd.Flags().Changed("tab") {
			filters.TabID = &logsListTabID
		}

		entries, total, err := database.ListBridgeLogs(filters)
		if err != nil {
			logger.Error("Failed to query audit log: %v", err)
			return fmt.Errorf("retrieving audit log: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No matching audit entries found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tKIND\tMETHOD\tSTATUS\tSTAGE\tTIME\tTAB\tURL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%dms\t%d\t%s\n",
				e.ID, e.StartedAt.Local().Format(time.DateTime), e.Kind, e.Method,
				e.Status, e.Stage, e.ElapsedMs, e.TabID, truncate(e.URL, 80))
		}
		w.Flush()

		totalPages := int64(math.Ceil(float64(total) / float64(logsListLimit)))
		fmt.Fprintf(out, "\nPage %d of %d (%d entries)\n", logsListPage, totalPages, total)
		return nil
	},
}

var logsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one audit entry with headers and previews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := database.GetBridgeLog(args[0])
		if errors.Is(err, database.ErrBridgeLogNotFound) {
			return fmt.Errorf("audit entry %s not found", args[0])
		}
		if err != nil {
			logger.Error("Failed to fetch audit entry %s: %v", args[0], err)
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:       %s\n", e.ID)
		fmt.Fprintf(out, "Request:  %s\n", e.RequestID)
		fmt.Fprintf(out, "Kind:     %s\n", e.Kind)
		fmt.Fprintf(out, "Stage:    %s\n", e.Stage)
		fmt.Fprintf(out, "Tab:      %d\n", e.TabID)
		fmt.Fprintf(out, "Origin:   %s\n", e.PageOrigin)
		fmt.Fprintf(out, "Started:  %s\n", e.StartedAt.Local().Format(time.RFC3339))
		fmt.Fprintf(out, "Elapsed:  %dms\n", e.ElapsedMs)
		if e.Attempts > 1 {
			fmt.Fprintf(out, "Attempts: %d\n", e.Attempts)
		}
		if e.Cached {
			fmt.Fprintln(out, "Cached:   yes")
		}
		if e.Kind == models.LogKindSocket {
			fmt.Fprintf(out, "Frames:   %d out / %d in (%d / %d bytes), close code %d\n",
				e.FramesOut, e.FramesIn, e.BytesOut, e.BytesIn, e.CloseCode)
		}
		if e.Error != "" {
			fmt.Fprintf(out, "Error:    %s\n", e.Error)
		}

		fmt.Fprintf(out, "\n--- Request ---\n%s %s\n", e.Method, e.URL)
		for _, name := range sortedHeaderNames(e.RequestHeaders) {
			fmt.Fprintf(out, "%s: %s\n", name, e.RequestHeaders[name])
		}
		if e.RequestBodyPreview != "" {
			fmt.Fprintln(out)
			printBody(out, e.RequestBodyPreview, e.RequestHeaders["content-type"])
		}

		fmt.Fprintf(out, "\n--- Response ---\n%d %s\n", e.Status, e.StatusText)
		for _, name := range sortedHeaderNames(e.ResponseHeaders) {
			fmt.Fprintf(out, "%s: %s\n", name, e.ResponseHeaders[name])
		}
		if e.ResponseBodyPreview != "" {
			fmt.Fprintln(out)
			printBody(out, e.ResponseBodyPreview, e.ResponseHeaders["content-type"])
		}
		return nil
	},
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit log as JSON or HAR",
	Example: `  fetchbridge logs export --format har -o session.har
  fetchbridge logs export --format json > audit.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsExportFormat != core.ExportJSON && logsExportFormat != core.ExportHAR {
			return fmt.Errorf("--format must be %q or %q", core.ExportJSON, core.ExportHAR)
		}
		entries, _, err := database.ListBridgeLogs(models.LogFilters{Limit: -1})
		if err != nil {
			logger.Error("Failed to read audit log for export: %v", err)
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if logsExportOutput != "" && logsExportOutput != "-" {
			f, err := os.Create(logsExportOutput)
			if err != nil {
				return fmt.Errorf("creating %s: %w", logsExportOutput, err)
			}
			defer f.Close()
			w = f
		}
		if err := core.WriteExport(w, logsExportFormat, entries); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		if logsExportOutput != "" && logsExportOutput != "-" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d entries to %s\n", len(entries), logsExportOutput)
		}
		return nil
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every persisted audit entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !logsClearForce {
			fmt.Fprint(cmd.OutOrStdout(), "This deletes the entire audit log. Continue? (yes/no): ")
			answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}
		if err := database.ClearBridgeLogs(); err != nil {
			logger.Error("Failed to clear audit log: %v", err)
			return err
		}
		logger.Info("Audit log cleared from CLI")
		fmt.Fprintln(cmd.OutOrStdout(), "Audit log cleared.")
		return nil
	},
}

func init() {
	logsListCmd.Flags().StringVar(&logsListKind, "kind", "", "filter by kind: fetch, stream, socket")
	logsListCmd.Flags().StringVar(&logsListStage, "stage", "", "filter by stage (e.g. success, blocked, timeout)")
	logsListCmd.Flags().StringVarP(&logsListMethod, "method", "m", "", "filter by HTTP method")
	logsListCmd.Flags().StringVarP(&logsListSearch, "search", "s", "", "substring match on URL, origin and error")
	logsListCmd.Flags().IntVar(&logsListTabID, "tab", 0, "filter by browser tab id")
	logsListCmd.Flags().IntVarP(&logsListLimit, "limit", "l", 30, "entries per page")
	logsListCmd.Flags().IntVarP(&logsListPage, "page", "p", 1, "page number")

	logsExportCmd.Flags().StringVarP(&logsExportFormat, "format", "f", core.ExportHAR, "export format: json or har")
	logsExportCmd.Flags().StringVarP(&logsExportOutput, "output", "o", "", "output file (default stdout)")

	logsClearCmd.Flags().BoolVarP(&logsClearForce, "force", "f", false, "skip the confirmation prompt")

	logsCmd.AddCommand(logsListCmd, logsShowCmd, logsExportCmd, logsClearCmd)
	rootCmd.AddCommand(logsCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/facturaelec/emitrack/internal/db"
)

var (
	historyLimit  int
	historyKind   string
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded stage and connection events",
	Long: `Show the most recent events recorded by track and emit, newest first.

Examples:
  emitrack history
  emitrack history --kind connections --limit 10
  emitrack history --format yaml`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of events")
	historyCmd.Flags().StringVar(&historyKind, "kind", "stages", "Event kind: stages or connections")
	historyCmd.Flags().StringVar(&historyFormat, "format", "table", "Output format: table, json or yaml")
}

func runHistory(cmd *cobra.Command, args []string) error {
	switch historyFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", historyFormat)
	}

	store, err := db.Open()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch historyKind {
	case "stages":
		events, err := store.RecentStages(ctx, historyLimit)
		if err != nil {
			return err
		}
		if historyFormat != "table" {
			return encode(out, historyFormat, events)
		}
		return printStages(out, events)
	case "connections":
		events, err := store.RecentConnections(ctx, historyLimit)
		if err != nil {
			return err
		}
		if historyFormat != "table" {
			return encode(out, historyFormat, events)
		}
		return printConnections(out, events)
	default:
		return fmt.Errorf("unknown kind %q (want stages or connections)", historyKind)
	}
}

func encode(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStages(out io.Writer, events []db.StageEvent) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No stage events recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tATTEMPT\tCONNECTION\tSTAGE\tTEXT")
	fmt.Fprintln(w, "----\t-------\t----------\t-----\t----")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format("2006-01-02 15:04:05"),
			shortID(e.AttemptID),
			orDash(e.ConnectionID),
			e.StageName,
			orDash(e.Text))
	}
	return w.Flush()
}

func printConnections(out io.Writer, events []db.ConnectionEvent) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No connection events recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tCONNECTION\tDETAIL")
	fmt.Fprintln(w, "----\t-----\t----------\t------")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.At.Local().Format("2006-01-02 15:04:05"),
			e.Event,
			orDash(e.ConnectionID),
			orDash(e.Detail))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

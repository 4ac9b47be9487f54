package commands

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/analyzer"
)

// analyzeExecutor runs one analysis pass against a wired analyzer.
type analyzeExecutor func(ctx context.Context, opts *rootOptions) (analyzer.Report, error)

// AnalyzeCommand holds the flags for the analyze command.
type AnalyzeCommand struct {
	opts   *rootOptions
	format string

	exec analyzeExecutor
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(opts *rootOptions) *cobra.Command {
	return newAnalyzeCommandWithDeps(opts, runAnalyze)
}

func newAnalyzeCommandWithDeps(opts *rootOptions, exec analyzeExecutor) *cobra.Command {
	ac := &AnalyzeCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze coordination state and classify bottlenecks",
		Args:  exactArgs(0),
		RunE:  ac.run,
	}

	cmd.Flags().StringVar(&ac.format, "format", formatTable, "output format: table, json, or yaml")

	return cmd
}

func (ac *AnalyzeCommand) run(cmd *cobra.Command, _ []string) error {
	rep, err := ac.exec(cmd.Context(), ac.opts)
	if err != nil {
		return err
	}

	switch ac.format {
	case formatTable:
		return renderAnalysis(cmd.OutOrStdout(), rep)
	case formatJSON:
		return printJSON(cmd.OutOrStdout(), rep)
	case formatYAML:
		return printYAML(cmd.OutOrStdout(), rep)
	default:
		return fmt.Errorf("%w: %q", errUnknownFormat, ac.format)
	}
}

func runAnalyze(ctx context.Context, opts *rootOptions) (analyzer.Report, error) {
	var rep analyzer.Report

	err := withApp(ctx, opts, func(app *App) error {
		var opErr error
		rep, opErr = app.analyzer().Run(ctx)

		return opErr
	})

	return rep, err
}

func renderAnalysis(w io.Writer, rep analyzer.Report) error {
	if _, err := fmt.Fprintf(w, "Coordination Metrics\n%s\n\n", renderMetricsTable(rep)); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "Bottlenecks\n%s\n", renderBottleneckTable(rep.Bottlenecks))

	return err
}

func renderMetricsTable(rep analyzer.Report) string {
	tbl := newDashboardTable()
	tbl.AppendHeader(table.Row{"METRIC", "VALUE"})

	tbl.AppendRows([]table.Row{
		{"work items", fmt.Sprintf("%d total, %d active, %d completed", rep.TotalWork, rep.ActiveWork, rep.CompletedWork)},
		{"agents", fmt.Sprintf("%d total, %d active", rep.TotalAgents, rep.ActiveAgents)},
		{"work per agent", fmt.Sprintf("%.2f", rep.WorkPerAgent)},
		{"completion rate", fmt.Sprintf("%.1f%%", rep.CompletionRate*100)},
		{"team load", renderTeamLoad(rep.TeamLoad)},
		{"team load variance", fmt.Sprintf("%.2f", rep.TeamLoadVariance)},
		{"priority inflation", fmt.Sprintf("%.1f%%", rep.PriorityInflationRatio*100)},
		{"work fragmentation", fmt.Sprintf("%.1f%%", rep.WorkTypeFragmentationRatio*100)},
		{"coordination latency", fmt.Sprintf("%.1fms", rep.CoordinationLatencyMS)},
		{"telemetry volume", fmt.Sprintf("%d spans", rep.TelemetryVolume)},
		{"stale work", fmt.Sprintf("%d items", rep.StaleWorkCount)},
	})

	return tbl.Render()
}

func renderBottleneckTable(bottlenecks []analyzer.Bottleneck) string {
	if len(bottlenecks) == 0 {
		return color.New(color.FgGreen).Sprint("none detected")
	}

	tbl := newDashboardTable()
	tbl.AppendHeader(table.Row{"KIND", "SEVERITY", "DETAIL"})

	for _, b := range bottlenecks {
		tbl.AppendRow(table.Row{string(b.Kind), colorSeverity(b.Severity), b.Detail})
	}

	return tbl.Render()
}

// renderTeamLoad flattens the per-team counts in team name order.
func renderTeamLoad(load map[string]int) string {
	if len(load) == 0 {
		return "none"
	}

	teams := make([]string, 0, len(load))
	for team := range load {
		teams = append(teams, team)
	}

	sort.Strings(teams)

	out := ""

	for i, team := range teams {
		if i > 0 {
			out += ", "
		}

		out += fmt.Sprintf("%s=%d", team, load[team])
	}

	return out
}

func colorSeverity(s analyzer.Severity) string {
	switch s {
	case analyzer.SeverityHigh:
		return color.New(color.FgRed).Sprint(string(s))
	case analyzer.SeverityMedium:
		return color.New(color.FgYellow).Sprint(string(s))
	default:
		return string(s)
	}
}

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/model"
)

// dashboardData is the read-only aggregation the dashboard renders.
type dashboardData struct {
	GeneratedAt model.Time       `json:"generated_at"`
	Work        []model.WorkItem `json:"work"`
	Agents      []model.Agent    `json:"agents"`
}

// dashboardExecutor snapshots the store for rendering.
type dashboardExecutor func(ctx context.Context, opts *rootOptions) (dashboardData, error)

// DashboardCommand holds the flags for the dashboard command.
type DashboardCommand struct {
	opts   *rootOptions
	format string

	exec dashboardExecutor
}

// NewDashboardCommand creates the dashboard command.
func NewDashboardCommand(opts *rootOptions) *cobra.Command {
	return newDashboardCommandWithDeps(opts, runDashboard)
}

func newDashboardCommandWithDeps(opts *rootOptions, exec dashboardExecutor) *cobra.Command {
	dc := &DashboardCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show current work items and agents",
		Args:  exactArgs(0),
		RunE:  dc.run,
	}

	cmd.Flags().StringVar(&dc.format, "format", formatTable, "output format: table, json, or yaml")

	return cmd
}

func (dc *DashboardCommand) run(cmd *cobra.Command, _ []string) error {
	data, err := dc.exec(cmd.Context(), dc.opts)
	if err != nil {
		return err
	}

	switch dc.format {
	case formatTable:
		return renderDashboard(cmd.OutOrStdout(), data)
	case formatJSON:
		return printJSON(cmd.OutOrStdout(), data)
	case formatYAML:
		return printYAML(cmd.OutOrStdout(), data)
	default:
		return fmt.Errorf("%w: %q", errUnknownFormat, dc.format)
	}
}

func runDashboard(ctx context.Context, opts *rootOptions) (dashboardData, error) {
	var data dashboardData

	err := withApp(ctx, opts, func(app *App) error {
		work, err := app.Store.Work().Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot work: %w", err)
		}

		agents, err := app.Store.Agents().Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot agents: %w", err)
		}

		data = dashboardData{GeneratedAt: model.Now(), Work: work, Agents: agents}

		return nil
	})

	return data, err
}

func renderDashboard(w io.Writer, data dashboardData) error {
	if _, err := fmt.Fprintf(w, "Work Items\n%s\n\n", renderWorkTable(data.Work)); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "Agents\n%s\n", renderAgentTable(data.Agents))

	return err
}

func renderWorkTable(items []model.WorkItem) string {
	tbl := newDashboardTable()
	tbl.AppendHeader(table.Row{"WORK ID", "TYPE", "PRIORITY", "TEAM", "AGENT", "STATUS", "PROGRESS", "AGE"})

	open := 0

	for _, item := range items {
		if item.Open() {
			open++
		}

		tbl.AppendRow(table.Row{
			item.WorkID,
			item.WorkType,
			string(item.Priority),
			item.Team,
			item.AgentID,
			colorWorkStatus(item.Status),
			fmt.Sprintf("%d%%", item.ProgressPercent),
			age(item.ClaimedAt),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d items (%d open)", len(items), open)})

	return tbl.Render()
}

func renderAgentTable(agents []model.Agent) string {
	tbl := newDashboardTable()
	tbl.AppendHeader(table.Row{"AGENT ID", "TEAM", "SPECIALIZATION", "LOAD", "STATUS", "LAST SEEN"})

	active := 0

	for _, agent := range agents {
		if agent.Status == model.AgentActive {
			active++
		}

		tbl.AppendRow(table.Row{
			agent.AgentID,
			agent.Team,
			agent.Specialization,
			fmt.Sprintf("%d/%d", agent.CurrentWorkload, agent.CapacityMax),
			colorAgentStatus(agent.Status),
			age(agent.LastHeartbeat),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d agents (%d active)", len(agents), active)})

	return tbl.Render()
}

func newDashboardTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

func age(t model.Time) string {
	if t.IsZero() {
		return ""
	}

	return humanize.Time(t.Time)
}

func colorWorkStatus(s model.WorkStatus) string {
	switch s {
	case model.StatusCompleted:
		return color.New(color.FgGreen).Sprint(string(s))
	case model.StatusFailed:
		return color.New(color.FgRed).Sprint(string(s))
	case model.StatusActive, model.StatusInProgress:
		return color.New(color.FgYellow).Sprint(string(s))
	default:
		return string(s)
	}
}

func colorAgentStatus(s model.AgentStatus) string {
	switch s {
	case model.AgentActive:
		return color.New(color.FgGreen).Sprint(string(s))
	case model.AgentDraining:
		return color.New(color.FgYellow).Sprint(string(s))
	default:
		return string(s)
	}
}

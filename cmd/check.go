package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"parcelhub/internal/locator"
	"parcelhub/internal/observability"
	"parcelhub/internal/transform"
	"parcelhub/internal/ui"
	"parcelhub/pkg/errors"
)

// errCheckFailed signals that at least one component is down; the report has
// already been printed.
var errCheckFailed = stderrors.New("preflight check failed")

func newCheckCmd(global *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the data source, SQL scripts and warehouse connection",
		Long: `Run the preflight checks without loading anything:

  data_source   the data directory can be listed and holds at least one parcels file
  sql_scripts   every catalog step has its script
  warehouse     the credentials open a session that answers SELECT 1

The command fails when any component is DOWN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(cmd, global)
			if err != nil {
				return err
			}

			hm := observability.NewHealthManager(timeout, env.logger)
			hm.RegisterCheck(observability.CheckFunc{Label: "data_source", Fn: env.checkDataSource})
			hm.RegisterCheck(observability.CheckFunc{Label: "sql_scripts", Fn: env.checkScripts})
			hm.RegisterCheck(observability.CheckFunc{Label: "warehouse", Fn: env.checkWarehouse})

			report := hm.CheckHealth(commandContext(cmd))
			printHealthReport(cmd, report)
			if report.Status == observability.HealthStatusDown {
				return errCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time allowed for all checks")
	return cmd
}

func (e *environment) checkDataSource(ctx context.Context) observability.HealthResult {
	src, err := e.source(ctx)
	if err != nil {
		return observability.Down(errors.Summarize(err))
	}
	dates, err := locator.New(src, e.cfg.Project, e.cfg.StagingDataset).DiscoverDates(ctx)
	if err != nil {
		return observability.Down(errors.Summarize(err))
	}
	if len(dates) == 0 {
		return observability.HealthResult{
			Status:  observability.HealthStatusDegraded,
			Message: "no parcels files in " + e.cfg.DataDir,
		}
	}
	return observability.Up(fmt.Sprintf("%d dates, latest %s", len(dates), dates[len(dates)-1]))
}

func (e *environment) checkScripts(ctx context.Context) observability.HealthResult {
	catalog, err := transform.DefaultCatalog(e.cfg.SQLDir)
	if err != nil {
		return observability.Down(errors.Summarize(err))
	}
	var missing []string
	for _, step := range catalog {
		if _, err := os.Stat(step.Script); err != nil {
			missing = append(missing, step.Name+".sql")
		}
	}
	if len(missing) > 0 {
		return observability.Down("missing " + strings.Join(missing, ", "))
	}
	return observability.Up(fmt.Sprintf("%d scripts", len(catalog)))
}

func (e *environment) checkWarehouse(ctx context.Context) observability.HealthResult {
	gw, err := e.connect(ctx)
	if err != nil {
		return observability.Down(errors.Summarize(err))
	}
	defer gw.Close()

	if _, err := gw.RunQuery(ctx, "SELECT 1"); err != nil {
		return observability.Down(errors.Summarize(err))
	}
	return observability.Up("SELECT 1 succeeded")
}

func printHealthReport(cmd *cobra.Command, report observability.HealthReport) {
	out := cmd.OutOrStdout()

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Component", "Status", "Time", "Message"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, c := range report.Components {
		table.Append([]string{c.Name, healthLabel(c.Status), c.Duration.Round(time.Millisecond).String(), c.Message})
	}
	table.Render()

	fmt.Fprintf(out, "\n%s %s\n", ui.ColorBold("Overall:"), healthLabel(report.Status))

	switch report.Status {
	case observability.HealthStatusUp:
		ui.ShowSuccess(out, "ready to run")
	case observability.HealthStatusDegraded:
		var degraded []string
		for _, c := range report.Components {
			if c.Status != observability.HealthStatusUp {
				degraded = append(degraded, c.Name)
			}
		}
		ui.ShowWarning(out, "runs may load nothing until "+strings.Join(degraded, ", ")+" recovers")
	}
}

func healthLabel(s observability.HealthStatus) string {
	switch s {
	case observability.HealthStatusUp:
		return ui.ColorSuccess(s.String())
	case observability.HealthStatusDown:
		return ui.ColorError(s.String())
	}
	return ui.ColorWarning(s.String())
}

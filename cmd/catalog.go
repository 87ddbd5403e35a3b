package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"parcelhub/internal/transform"
	"parcelhub/internal/ui"
)

func newCatalogCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the transformation steps in execution order",
		Long: `Show the transformation catalog: each step, the steps it depends on and
whether its script exists in the SQL directory. Scripts in the directory that
no step refers to are listed separately; they are never executed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(cmd, global)
			if err != nil {
				return err
			}
			catalog, err := transform.DefaultCatalog(env.cfg.SQLDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"#", "Step", "Depends on", "Script"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			for i, step := range catalog {
				script := ui.ColorSuccess("present")
				if _, err := os.Stat(step.Script); err != nil {
					script = ui.ColorError("missing")
				}
				table.Append([]string{
					fmt.Sprintf("%d", i+1),
					step.Name,
					strings.Join(step.DependsOn, ", "),
					script,
				})
			}
			table.Render()

			unlisted, err := catalog.Unlisted(env.cfg.SQLDir)
			if err != nil {
				return err
			}
			if len(unlisted) > 0 {
				fmt.Fprintf(out, "\n%s %s\n", ui.ColorWarning("Not in catalog:"), strings.Join(unlisted, ", "))
			}
			return nil
		},
	}
}

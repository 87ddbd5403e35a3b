package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"parcelhub/internal/locator"
	"parcelhub/pkg/errors"
)

func newDatesCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dates",
		Short: "List the processing dates found in the data directory",
		Long: `List every date for which a parcels_YYYYMMDD.csv file exists, oldest first.
These are the dates a run without --processing_date would process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(cmd, global)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			src, err := env.source(ctx)
			if err != nil {
				return err
			}
			dates, err := locator.New(src, env.cfg.Project, env.cfg.StagingDataset).DiscoverDates(ctx)
			if err != nil {
				return err
			}
			if len(dates) == 0 {
				return errors.New(errors.ErrCodeNoDates, "No parcels files found in "+env.cfg.DataDir).
					WithContext("data_dir", env.cfg.DataDir)
			}

			for _, d := range dates {
				fmt.Fprintln(cmd.OutOrStdout(), d.String())
			}
			return nil
		},
	}
}

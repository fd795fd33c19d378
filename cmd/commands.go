package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"machine_monitor/internal/models"
	"machine_monitor/internal/repository"
	"machine_monitor/internal/service"
)

func buildReportCommand() *cobra.Command {
	var from, to, view, scale string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a utilization overview as JSON",
		Long: `Computes the same overview as GET /api/v1/reports/overview from the
interval history. Bounds default to today in the report timezone; a date-only
--to includes that whole day.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			start, end, err := service.ResolveRange(from, to, a.cfg.Location(), time.Now())
			if err != nil {
				return err
			}
			services := service.NewService(a.repos, service.Deps{Config: a.cfg, Log: a.log})
			ov, err := services.Overview(cmd.Context(), service.OverviewParams{
				Start: start,
				End:   end,
				View:  models.ReportView(view),
				Scale: models.TimeScale(scale),
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ov)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start of range (RFC3339, 'YYYY-MM-DD HH:MM:SS' or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end of range")
	cmd.Flags().StringVar(&view, "view", string(models.ViewAll), "series grouping: all, group or machine")
	cmd.Flags().StringVar(&scale, "scale", "", "bucket size override: HOUR, DAY, WEEK, MONTH, QUARTER or YEAR")
	return cmd
}

func buildCloseIntervalsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close-intervals",
		Short: "Close every open interval, e.g. after an unclean shutdown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			services := service.NewService(a.repos, service.Deps{Config: a.cfg, Log: a.log})
			ids, err := services.History.CloseAll(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("closed open intervals of %d machine(s)\n", len(ids))
			return nil
		},
	}
}

func buildSeedCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert machines from a YAML seed file into the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if file == "" {
				file = a.cfg.Machines.SeedFile
			}
			n, err := repository.Seed(cmd.Context(), a.repos.Machines, file)
			if err != nil {
				return err
			}
			cmd.Printf("seeded %d machine(s) from %s\n", n, file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file (default machines.seed_file from config)")
	return cmd
}

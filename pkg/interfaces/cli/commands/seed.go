package commands

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vsinha/affect/pkg/infrastructure/repositories/csv"
)

func newSeedCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed DIR",
		Short: "Load projects, groups, positions, budgets and sections from CSV files",
		Long: "Load the CSV files of DIR into the store in one transaction. projects.csv is required; " +
			"groups.csv, positions.csv, categories.csv, position_budgets.csv, project_budgets.csv, " +
			"hourly_costs.csv, sections.csv and expense_lines.csv are read when present.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(a *app) error {
				dataset, err := csv.NewLoader().LoadDir(args[0])
				if err != nil {
					return err
				}
				if a.cfg.Budget.AutoDistribute {
					for _, section := range dataset.Sections {
						section.AutoDistribute = true
					}
				}
				if err := dataset.Apply(cmd.Context(), a.store); err != nil {
					return fmt.Errorf("seeding %s: %w", args[0], err)
				}

				counts := dataset.Counts()
				files := make([]string, 0, len(counts))
				fields := logrus.Fields{"dir": args[0]}
				for file, n := range counts {
					files = append(files, file)
					fields[file] = n
				}
				a.log.WithFields(fields).Info("seeded store")

				sort.Strings(files)
				for _, file := range files {
					if counts[file] == 0 {
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-22s %d\n", file, counts[file])
				}
				return nil
			})
		},
	}
}

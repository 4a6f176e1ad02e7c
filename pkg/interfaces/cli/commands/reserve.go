package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/interfaces/cli/output"
)

func newReserveCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Read and write the budget reservations of a section",
	}
	cmd.AddCommand(
		newReserveShowCommand(opts),
		newReservePopulateCommand(opts),
		newReserveWriteCommand(opts),
		newReserveRemoveCommand(opts),
		newReserveLaunchesCommand(opts),
		newReserveStateCommand(opts),
	)
	return cmd
}

// sectionCommand builds a subcommand whose first argument is a section ref
func sectionCommand(opts *Options, use, short string, nargs int, fn func(cmd *cobra.Command, a *app, section entities.Ref, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, err := parseRefArg("section", args[0])
			if err != nil {
				return err
			}
			if !section.Kind.IsSection() {
				return fmt.Errorf("%s is not a section", section)
			}
			return opts.run(cmd, func(a *app) error {
				return fn(cmd, a, section, args[1:])
			})
		},
	}
}

func newReserveShowCommand(opts *Options) *cobra.Command {
	return sectionCommand(opts, "show SECTION", "Show available, reserved, expense and gain per category", 1,
		func(cmd *cobra.Command, a *app, section entities.Ref, _ []string) error {
			summary, err := a.budget.Summary(cmd.Context(), section)
			if err != nil {
				return err
			}
			return output.Summary(summary, a.out)
		})
}

func newReservePopulateCommand(opts *Options) *cobra.Command {
	return sectionCommand(opts, "populate SECTION",
		"Create one reservation row per consumer and category, distributing expense when enabled", 1,
		func(cmd *cobra.Command, a *app, section entities.Ref, _ []string) error {
			result, err := a.budget.Populate(cmd.Context(), section)
			if err != nil {
				return err
			}
			return output.Populated(result, a.out)
		})
}

func newReserveWriteCommand(opts *Options) *cobra.Command {
	return sectionCommand(opts, "write SECTION CATEGORY CONSUMER AMOUNT",
		"Reserve AMOUNT of a category budget of a launch or project", 4,
		func(cmd *cobra.Command, a *app, section entities.Ref, args []string) error {
			categoryID, err := parseIDArg("category", args[0])
			if err != nil {
				return err
			}
			consumer, err := parseRefArg("consumer", args[1])
			if err != nil {
				return err
			}
			amount, err := parseDecimalArg("amount", args[2])
			if err != nil {
				return err
			}
			edge, err := a.budget.WriteReservation(cmd.Context(), section, categoryID, consumer, amount)
			if err != nil {
				return err
			}
			return printEdge(cmd.Context(), a, edge.ID)
		})
}

func newReserveRemoveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove EDGE",
		Short: "Remove a zero reservation row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg("edge", args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(a *app) error {
				if err := a.budget.RemoveReservation(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reservation %d removed\n", id)
				return nil
			})
		},
	}
}

func newReserveLaunchesCommand(opts *Options) *cobra.Command {
	return sectionCommand(opts, "launches SECTION IDS",
		"Select the launches a section consumes (comma separated ids, empty for the project)", 2,
		func(cmd *cobra.Command, a *app, section entities.Ref, args []string) error {
			ids, err := parseIDList("launch", args[0])
			if err != nil {
				return err
			}
			result, err := a.budget.SelectLaunches(cmd.Context(), section, ids)
			if err != nil {
				return err
			}
			return output.Populated(result, a.out)
		})
}

func newReserveStateCommand(opts *Options) *cobra.Command {
	return sectionCommand(opts, "state SECTION draft|confirmed|done|cancelled",
		"Move a section through its lifecycle", 2,
		func(cmd *cobra.Command, a *app, section entities.Ref, args []string) error {
			state, err := entities.ParseSectionState(args[0])
			if err != nil {
				return err
			}
			n, err := a.budget.SetSectionState(cmd.Context(), section, state)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s (%d reservations refreshed)\n", section, state, n)
			return nil
		})
}

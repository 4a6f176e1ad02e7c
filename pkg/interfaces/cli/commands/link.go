package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLinkCommand(opts *Options) *cobra.Command {
	var list, shortcut, unlinkAll bool
	cmd := &cobra.Command{
		Use:   "link OWNER [PARENT...]",
		Short: "Set the parent groups of a phase or launch",
		Long: "Set the parents of OWNER to exactly PARENT...: lots for a phase (phase:20 lot:10), phases for a " +
			"launch (launch:30 phase:20). New parents provision zero edges, dropped parents retract them. " +
			"With --shortcut the parents are added and every provisioned edge is allocated in full.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseRefArg("owner", args[0])
			if err != nil {
				return err
			}
			parents, err := parseRefArgs("parent", args[1:])
			if err != nil {
				return err
			}
			if !list && len(parents) == 0 && !unlinkAll {
				return fmt.Errorf("no parents given; pass --clear to unlink %s from every parent", owner)
			}

			return opts.run(cmd, func(a *app) error {
				ctx := cmd.Context()
				switch {
				case list:
					linked, err := a.hierarchy.LinkedParents(ctx, owner)
					if err != nil {
						return err
					}
					for _, p := range linked {
						fmt.Fprintln(cmd.OutOrStdout(), p)
					}
					return nil
				case shortcut:
					result, err := a.staging.Shortcut(ctx, owner, parents)
					if err != nil {
						return err
					}
					if err := printLink(a, result.Link); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d edges allocated\n", result.Allocated)
					return nil
				default:
					result, err := a.hierarchy.LinkParents(ctx, owner, parents)
					if err != nil {
						return err
					}
					return printLink(a, result)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "Print the current parents instead of changing them")
	cmd.Flags().BoolVar(&shortcut, "shortcut", false, "Add the parents and allocate every provisioned edge")
	cmd.Flags().BoolVar(&unlinkAll, "clear", false, "Allow unlinking every parent")
	return cmd
}

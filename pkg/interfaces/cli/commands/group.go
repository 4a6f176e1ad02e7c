package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newGroupCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Change groups and positions and propagate the change onto their edges",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "sequence REF N",
			Short: "Resequence a group, position, category or section",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ref, err := parseRefArg("entity", args[0])
				if err != nil {
					return err
				}
				sequence, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid sequence %q", args[1])
				}
				return opts.run(cmd, func(a *app) error {
					n, err := a.hierarchy.Resequence(cmd.Context(), ref, sequence)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s sequence %d (%d edges updated)\n", ref, sequence, n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "active REF on|off",
			Short: "Archive or restore an entity",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ref, err := parseRefArg("entity", args[0])
				if err != nil {
					return err
				}
				active, err := parseSwitch(args[1])
				if err != nil {
					return err
				}
				return opts.run(cmd, func(a *app) error {
					n, err := a.hierarchy.SetActive(cmd.Context(), ref, active)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t (%d edges updated)\n", ref, active, n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "quantity POSITION QUANTITY",
			Short: "Change the physical quantity of a position",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseIDArg("position", args[0])
				if err != nil {
					return err
				}
				quantity, err := parseDecimalArg("quantity", args[1])
				if err != nil {
					return err
				}
				return opts.run(cmd, func(a *app) error {
					if err := a.hierarchy.SetPositionQuantity(cmd.Context(), id, quantity); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "position %d quantity %s\n", id, quantity)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "affectable OWNER PARENT",
			Short: "Count the consumers under PARENT that OWNER may still allocate",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := parseRefArg("owner", args[0])
				if err != nil {
					return err
				}
				parent, err := parseRefArg("parent", args[1])
				if err != nil {
					return err
				}
				return opts.run(cmd, func(a *app) error {
					n, err := a.hierarchy.AffectableCount(cmd.Context(), owner, parent)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n)
					return nil
				})
			},
		},
	)
	return cmd
}

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vsinha/affect/pkg/application/services/hierarchy"
	"github.com/vsinha/affect/pkg/application/services/ledger"
	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
	"github.com/vsinha/affect/pkg/interfaces/cli/output"
)

func newWriteCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "write EDGE QUANTITY",
		Short: "Set the quantity of a phase or reservation edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg("edge", args[0])
			if err != nil {
				return err
			}
			quantity, err := parseDecimalArg("quantity", args[1])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(a *app) error {
				if _, err := a.ledger.WriteQuantity(cmd.Context(), id, quantity); err != nil {
					return err
				}
				return printEdge(cmd.Context(), a, id)
			})
		},
	}
}

func newToggleCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle EDGE on|off",
		Short: "Claim or release a launch edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg("edge", args[0])
			if err != nil {
				return err
			}
			value, err := parseSwitch(args[1])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(a *app) error {
				if _, err := a.ledger.ToggleAffected(cmd.Context(), id, value); err != nil {
					return err
				}
				return printEdge(cmd.Context(), a, id)
			})
		},
	}
}

func newDeleteCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete EDGE",
		Short: "Retract an edge and its non-affected dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg("edge", args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(a *app) error {
				if err := a.ledger.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "edge %d retracted\n", id)
				return nil
			})
		},
	}
}

func newStateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "state EDGE",
		Short: "Show an edge with its remaining quantity and lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg("edge", args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(a *app) error {
				err := printEdge(cmd.Context(), a, id)
				if errors.Is(err, repositories.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "edge %d: %s\n", id, entities.StateRetracted)
					return nil
				}
				return err
			})
		},
	}
}

func printEdge(ctx context.Context, a *app, id int64) error {
	var view output.EdgeView
	err := a.ledger.View(ctx, func(ctx context.Context, w *ledger.Writer) error {
		edge, err := w.Load(ctx, id)
		if err != nil {
			return err
		}
		remaining, err := w.Remaining(ctx, edge)
		if err != nil {
			return err
		}
		affectable, err := w.IsAffectable(ctx, id)
		if err != nil {
			return err
		}
		state, err := w.State(ctx, edge)
		if err != nil {
			return err
		}
		view = output.NewEdgeView(edge, remaining, affectable, state)
		return nil
	})
	if err != nil {
		return err
	}
	return output.Edge(view, a.out)
}

func printLink(a *app, result *hierarchy.LinkResult) error {
	if result == nil {
		return nil
	}
	return output.Link(result, a.out)
}

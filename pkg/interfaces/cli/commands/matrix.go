package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vsinha/affect/pkg/application/services/staging"
	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/interfaces/cli/output"
)

func newMatrixCommand(opts *Options) *cobra.Command {
	var (
		projectID int64
		section   string
		owners    []string
		consumers []string
		sets      []string
	)
	cmd := &cobra.Command{
		Use:   "matrix phase|launch|reservation",
		Short: "Show or edit allocations as an owner x consumer grid",
		Long: "Project the edges of one mode as a dense grid. Each --set OWNER/CONSUMER=VALUE edits one cell " +
			"(a quantity, or on/off for launches); all edits are reconciled in one transaction and the " +
			"resulting grid is printed.",
		Example: "  affect matrix phase --project 1 --set phase:20/position:1=2\n" +
			"  affect matrix launch --project 1 --set launch:30/edge:1=on\n" +
			"  affect matrix reservation --project 1 --section purchase:500 --set category:1/project:1=60",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := entities.ParseMode(args[0])
			if err != nil {
				return err
			}
			req := staging.Request{Mode: mode, ProjectID: projectID}
			if section != "" {
				if req.Section, err = parseRefArg("section", section); err != nil {
					return err
				}
			}
			if req.Owners, err = parseRefArgs("owner", owners); err != nil {
				return err
			}
			if req.Consumers, err = parseRefArgs("consumer", consumers); err != nil {
				return err
			}

			return opts.run(cmd, func(a *app) error {
				ctx := cmd.Context()
				matrix, err := a.staging.ProjectToDense(ctx, req)
				if err != nil {
					return err
				}
				if len(sets) == 0 {
					return output.Matrix(matrix, a.out)
				}

				edits, err := parseEdits(matrix, sets)
				if err != nil {
					return err
				}
				report, err := a.staging.Reconcile(ctx, matrix, edits)
				if err != nil {
					return err
				}
				if a.out.Format != output.FormatText {
					return output.Report(report, a.out)
				}
				if err := output.Report(report, a.out); err != nil {
					return err
				}
				if matrix, err = a.staging.ProjectToDense(ctx, req); err != nil {
					return err
				}
				return output.Matrix(matrix, a.out)
			})
		},
	}
	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "Project id (required)")
	cmd.Flags().StringVarP(&section, "section", "s", "", "Section of reservation or phase cells, e.g. purchase:500")
	cmd.Flags().StringSliceVar(&owners, "owners", nil, "Restrict the rows, e.g. phase:20,phase:21")
	cmd.Flags().StringSliceVar(&consumers, "consumers", nil, "Restrict the columns, e.g. position:1")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Edit a cell: OWNER/CONSUMER=VALUE (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// parseEdits resolves OWNER/CONSUMER=VALUE assignments to cell tokens
func parseEdits(matrix *staging.Matrix, sets []string) (map[uuid.UUID]staging.Edit, error) {
	edits := make(map[uuid.UUID]staging.Edit, len(sets))
	for _, set := range sets {
		pair, value, ok := strings.Cut(set, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected OWNER/CONSUMER=VALUE", set)
		}
		ownerPart, consumerPart, ok := strings.Cut(pair, "/")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected OWNER/CONSUMER=VALUE", set)
		}
		owner, err := parseRefArg("owner", ownerPart)
		if err != nil {
			return nil, err
		}
		consumer, err := parseRefArg("consumer", consumerPart)
		if err != nil {
			return nil, err
		}
		cell, ok := matrix.At(owner, consumer)
		if !ok {
			return nil, fmt.Errorf("no %s cell for %s/%s", matrix.Mode, owner, consumer)
		}

		var edit staging.Edit
		if matrix.Mode.Quantitative() {
			if edit.Quantity, err = parseDecimalArg("quantity", value); err != nil {
				return nil, err
			}
		} else if edit.Affected, err = parseSwitch(value); err != nil {
			return nil, err
		}
		edits[cell.Token] = edit
	}
	return edits, nil
}

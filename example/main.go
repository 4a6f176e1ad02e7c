package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/budget"
	"github.com/vsinha/affect/pkg/application/services/ledger"
	"github.com/vsinha/affect/pkg/application/services/shared"
	"github.com/vsinha/affect/pkg/application/services/staging"
	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/infrastructure/repositories/csv"
	"github.com/vsinha/affect/pkg/infrastructure/repositories/memory"
	"github.com/vsinha/affect/pkg/interfaces/cli/output"
)

func main() {
	dataDir := flag.String("data", "example/data", "Directory with the seed CSV files")
	flag.Parse()

	if err := run(context.Background(), *dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dataDir string) error {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	dataset, err := csv.NewLoader().LoadDir(dataDir)
	if err != nil {
		return err
	}
	store := memory.NewStore()
	if err := dataset.Apply(ctx, store); err != nil {
		return err
	}

	l := ledger.NewLedgerWithConfig(store, ledger.Config{Logger: log, Registry: shared.NewRegistry()})
	stage := staging.NewService(l)
	budgets := budget.NewService(l, budget.Config{Logger: log, Precision: entities.DefaultPrecision})

	structure := entities.NewRef(entities.KindPhase, 20)
	launchA := entities.NewRef(entities.KindLaunch, 30)

	// Structure takes every position of the ground floor, launch A claims all of it
	steps := []struct {
		owner  entities.Ref
		parent entities.Ref
	}{
		{structure, entities.NewRef(entities.KindLot, 10)},
		{launchA, structure},
	}
	for _, step := range steps {
		result, err := stage.Shortcut(ctx, step.owner, []entities.Ref{step.parent})
		if err != nil {
			return fmt.Errorf("shortcut %s: %w", step.owner, err)
		}
		fmt.Printf("%s -> %s: %d edges created, %d allocated\n",
			step.owner, step.parent, result.Link.Created, result.Allocated)
	}
	fmt.Println()

	matrix, err := stage.ProjectToDense(ctx, staging.Request{Mode: entities.ModePhase, ProjectID: 1})
	if err != nil {
		return err
	}
	fmt.Print(output.RenderMatrix(matrix))
	fmt.Println()

	workOrder := entities.NewRef(entities.KindWorkOrder, 501)
	populated, err := budgets.Populate(ctx, workOrder)
	if err != nil {
		return fmt.Errorf("populate %s: %w", workOrder, err)
	}
	fmt.Printf("%s: %d reservation rows\n\n", workOrder, populated.Created)

	summary, err := budgets.Summary(ctx, workOrder)
	if err != nil {
		return err
	}
	fmt.Print(output.RenderSummary(summary))
	return nil
}

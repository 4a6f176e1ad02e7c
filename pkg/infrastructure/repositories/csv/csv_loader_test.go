package csv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
	"github.com/vsinha/affect/pkg/infrastructure/repositories/memory"
)

const carpentryDir = "testdata/carpentry"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDir(t *testing.T) {
	dataset, err := NewLoader().LoadDir(carpentryDir)
	if err != nil {
		t.Fatalf("Failed to load dataset: %v", err)
	}

	expected := map[string]int{
		ProjectsFile:        1,
		GroupsFile:          7,
		PositionsFile:       3,
		CategoriesFile:      3,
		PositionBudgetsFile: 4,
		ProjectBudgetsFile:  2,
		HourlyCostsFile:     1,
		SectionsFile:        3,
		ExpenseLinesFile:    4,
	}
	counts := dataset.Counts()
	for file, want := range expected {
		if counts[file] != want {
			t.Errorf("Expected %d records in %s, got %d", want, file, counts[file])
		}
	}

	shared := dataset.Groups[6]
	if shared.Kind != entities.KindLaunch || !shared.AllowManyToMany {
		t.Errorf("Expected the shared launch to allow many-to-many, got %+v", shared)
	}
	workOrder := dataset.Sections[1]
	if workOrder.Kind != entities.KindWorkOrder || len(workOrder.LaunchIDs) != 2 || !workOrder.AutoDistribute {
		t.Errorf("Expected an auto work order on two launches, got %+v", workOrder)
	}
	if workOrder.State != entities.SectionConfirmed {
		t.Errorf("Expected confirmed, got %s", workOrder.State)
	}
	if !dataset.HourlyCosts[0].DateTo.IsZero() {
		t.Error("Expected an open hourly cost period")
	}
	if !dataset.ExpenseLines[3].Excluded {
		t.Error("Expected the last expense line to be excluded")
	}
}

func TestLoadDirRequiresProjects(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, GroupsFile, "kind,id,project_id,name,sequence,allow_many_to_many\nlot,1,1,Lot,1,false\n")
	if _, err := NewLoader().LoadDir(dir); err == nil {
		t.Error("Expected an error without projects.csv")
	}
}

func TestLoadErrorsNameFileAndRow(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		contains string
	}{
		{
			name:     "header mismatch",
			file:     PositionsFile,
			content:  "id,name\n1,W1\n",
			contains: "positions.csv header mismatch",
		},
		{
			name:     "bad decimal",
			file:     PositionsFile,
			content:  "id,project_id,lot_id,name,sequence,quantity\n1,1,10,W1,1,four\n",
			contains: "positions.csv row 2: invalid quantity",
		},
		{
			name:     "unknown group kind",
			file:     GroupsFile,
			content:  "kind,id,project_id,name,sequence,allow_many_to_many\nlot,1,1,Lot,1,false\nfloor,2,1,Floor,2,false\n",
			contains: "groups.csv row 3",
		},
		{
			name:     "bad launch list",
			file:     SectionsFile,
			content:  "kind,id,project_id,name,state,launch_ids,category_ids,auto_distribute\npurchase,1,1,PO,draft,30;x,,false\n",
			contains: "sections.csv row 2: invalid launch_ids",
		},
		{
			name:     "header only",
			file:     ProjectBudgetsFile,
			content:  "project_id,category_id,amount\n",
			contains: "must have header and at least one data row",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, ProjectsFile, "id,name,date_start,date_end\n1,Villa Rosa,,\n")
			writeFile(t, dir, tt.file, tt.content)
			_, err := NewLoader().LoadDir(dir)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Expected error containing %q, got %q", tt.contains, err.Error())
			}
		})
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	dataset, err := NewLoader().LoadDir(carpentryDir)
	if err != nil {
		t.Fatalf("Failed to load dataset: %v", err)
	}
	store := memory.NewStore()
	if err := dataset.Apply(ctx, store); err != nil {
		t.Fatalf("Failed to apply dataset: %v", err)
	}

	err = store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		sums, err := tx.SumAvailable(ctx, repositories.AvailableFilter{ProjectID: 1})
		if err != nil {
			return err
		}
		key := entities.BudgetKey{ProjectID: 1, Consumer: entities.NewRef(entities.KindProject, 1), CategoryID: 2}
		if !sums[key].Equal(decimal.NewFromInt(150)) {
			t.Errorf("Expected installation grant 150, got %s", sums[key])
		}
		lines, err := tx.ListExpenseLines(ctx, entities.NewRef(entities.KindWorkOrder, 501))
		if err != nil {
			return err
		}
		if len(lines) != 3 {
			t.Errorf("Expected 3 work order lines, got %d", len(lines))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to read back: %v", err)
	}
}

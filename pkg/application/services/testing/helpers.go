package testing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
	"github.com/vsinha/affect/pkg/infrastructure/repositories/memory"
)

// Identifiers of the carpentry fixture
const (
	ProjectID int64 = 1

	GroundFloorLot int64 = 10
	FirstFloorLot  int64 = 11

	StructurePhase int64 = 20
	FinishingPhase int64 = 21

	LaunchA int64 = 30
	LaunchB int64 = 31
	// SharedLaunch allows many-to-many claims
	SharedLaunch int64 = 32

	WindowW1 int64 = 100
	DoorD1   int64 = 101
	WindowW2 int64 = 102

	OtherCategory        int64 = 1
	InstallationCategory int64 = 2
	WorkshopCategory     int64 = 3

	PurchaseOrder int64 = 500
	BalanceSheet  int64 = 600
)

// D parses a decimal literal, panicking on malformed input
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Ref is shorthand for entities.NewRef
func Ref(kind entities.Kind, id int64) entities.Ref {
	return entities.NewRef(kind, id)
}

// mustCreateGroup is a helper for tests - panics on validation error
func mustCreateGroup(kind entities.Kind, id int64, name string, sequence int) *entities.Group {
	group, err := entities.NewGroup(kind, id, ProjectID, name, sequence)
	if err != nil {
		panic(err)
	}
	return group
}

// mustCreatePosition is a helper for tests - panics on validation error
func mustCreatePosition(id, lotID int64, name string, sequence int, quantity string) *entities.Position {
	position, err := entities.NewPosition(id, ProjectID, lotID, name, sequence, D(quantity))
	if err != nil {
		panic(err)
	}
	return position
}

// mustCreateCategory is a helper for tests - panics on validation error
func mustCreateCategory(id int64, name, code string, unit entities.BudgetUnit, sequence int) *entities.BudgetCategory {
	category, err := entities.NewBudgetCategory(id, name, code, unit)
	if err != nil {
		panic(err)
	}
	category.Sequence = sequence
	return category
}

// mustCreateSection is a helper for tests - panics on validation error
func mustCreateSection(kind entities.Kind, id int64, name string) *entities.Section {
	section, err := entities.NewSection(kind, id, ProjectID, name)
	if err != nil {
		panic(err)
	}
	return section
}

// MustRun runs fn in a transaction of store and panics when it fails
func MustRun(store repositories.Store, fn func(ctx context.Context, tx repositories.Tx) error) {
	if err := store.RunInTx(context.Background(), fn); err != nil {
		panic(err)
	}
}

// BuildCarpentryTestData builds a small joinery project:
//
//	ground floor lot: window W1 (4), door D1 (2)
//	first floor lot:  window W2 (3)
//	phases: structure, finishing; launches: A, B and a shared launch
//	categories: other and installation (currency), workshop (hours)
//	project grants: other 100, installation 150
//	unitary budgets: W1 other 50 + workshop 2h, D1 other 80, W2 other 40
//
// No group is linked yet, so no edge exists.
func BuildCarpentryTestData() *memory.Store {
	store := memory.NewStore()
	SeedCarpentry(store)
	return store
}

// SeedCarpentry writes the carpentry fixture into any store
func SeedCarpentry(store repositories.Store) {
	project, err := entities.NewProject(ProjectID, "Villa Rosa",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		panic(err)
	}

	groups := []*entities.Group{
		mustCreateGroup(entities.KindLot, GroundFloorLot, "Ground floor", 1),
		mustCreateGroup(entities.KindLot, FirstFloorLot, "First floor", 2),
		mustCreateGroup(entities.KindPhase, StructurePhase, "Structure", 1),
		mustCreateGroup(entities.KindPhase, FinishingPhase, "Finishing", 2),
		mustCreateGroup(entities.KindLaunch, LaunchA, "Launch A", 1),
		mustCreateGroup(entities.KindLaunch, LaunchB, "Launch B", 2),
		mustCreateGroup(entities.KindLaunch, SharedLaunch, "Shared launch", 3),
	}
	groups[len(groups)-1].AllowManyToMany = true

	positions := []*entities.Position{
		mustCreatePosition(WindowW1, GroundFloorLot, "Window W1", 1, "4"),
		mustCreatePosition(DoorD1, GroundFloorLot, "Door D1", 2, "2"),
		mustCreatePosition(WindowW2, FirstFloorLot, "Window W2", 3, "3"),
	}

	categories := []*entities.BudgetCategory{
		mustCreateCategory(OtherCategory, "Other", "OTH", entities.UnitCurrency, 1),
		mustCreateCategory(InstallationCategory, "Installation", "INS", entities.UnitCurrency, 2),
		mustCreateCategory(WorkshopCategory, "Workshop", "WKS", entities.UnitHours, 3),
	}

	MustRun(store, func(ctx context.Context, tx repositories.Tx) error {
		if err := tx.SaveProject(ctx, project); err != nil {
			return err
		}
		for _, g := range groups {
			if err := tx.SaveGroup(ctx, g); err != nil {
				return err
			}
		}
		for _, p := range positions {
			if err := tx.SavePosition(ctx, p); err != nil {
				return err
			}
		}
		for _, c := range categories {
			if err := tx.SaveCategory(ctx, c); err != nil {
				return err
			}
		}
		for _, b := range []*entities.PositionBudget{
			{PositionID: WindowW1, CategoryID: OtherCategory, Amount: D("50")},
			{PositionID: WindowW1, CategoryID: WorkshopCategory, Amount: D("2")},
			{PositionID: DoorD1, CategoryID: OtherCategory, Amount: D("80")},
			{PositionID: WindowW2, CategoryID: OtherCategory, Amount: D("40")},
		} {
			if err := tx.SavePositionBudget(ctx, b); err != nil {
				return err
			}
		}
		for _, b := range []*entities.ProjectBudget{
			{ProjectID: ProjectID, CategoryID: OtherCategory, Amount: D("100")},
			{ProjectID: ProjectID, CategoryID: InstallationCategory, Amount: D("150")},
		} {
			if err := tx.SaveProjectBudget(ctx, b); err != nil {
				return err
			}
		}
		return tx.SaveHourlyCost(ctx, &entities.HourlyCost{
			CategoryID: WorkshopCategory,
			DateFrom:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			Cost:       D("45"),
		})
	})
}

// AddSection stores a section of the fixture project with its expense lines,
// given as category id -> amount.
func AddSection(store repositories.Store, kind entities.Kind, id int64, launchIDs []int64, auto bool, expense map[int64]string) *entities.Section {
	section := mustCreateSection(kind, id, kind.String())
	section.LaunchIDs = launchIDs
	section.AutoDistribute = auto
	MustRun(store, func(ctx context.Context, tx repositories.Tx) error {
		if err := tx.SaveSection(ctx, section); err != nil {
			return err
		}
		for categoryID, amount := range expense {
			line, err := entities.NewExpenseLine(0, section.Ref(), categoryID, D(amount), false)
			if err != nil {
				return err
			}
			if err := tx.SaveExpenseLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	return section
}

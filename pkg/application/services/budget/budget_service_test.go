package budget_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/vsinha/affect/pkg/application/services/budget"
	"github.com/vsinha/affect/pkg/application/services/hierarchy"
	"github.com/vsinha/affect/pkg/application/services/ledger"
	testinghelpers "github.com/vsinha/affect/pkg/application/services/testing"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
	"github.com/vsinha/affect/pkg/infrastructure/repositories/memory"
)

var d = testinghelpers.D
var ref = testinghelpers.Ref

var (
	launchA = ref(entities.KindLaunch, testinghelpers.LaunchA)
	launchB = ref(entities.KindLaunch, testinghelpers.LaunchB)
)

type fixture struct {
	store  *memory.Store
	ledger *ledger.Ledger
	budget *budget.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store := testinghelpers.BuildCarpentryTestData()
	config := ledger.DefaultConfig()
	config.Logger = logger
	l := ledger.NewLedgerWithConfig(store, config)
	return &fixture{
		store:  store,
		ledger: l,
		budget: budget.NewService(l, budget.Config{Logger: logger}),
	}
}

// withLaunchBudgets affects window W1 (4) to launch A and door D1 (2) to
// launch B, granting A 200 other + 8 workshop hours and B 160 other.
func (f *fixture) withLaunchBudgets(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	h := hierarchy.NewService(f.ledger)
	structure := ref(entities.KindPhase, testinghelpers.StructurePhase)
	if _, err := h.LinkParents(ctx, structure, []entities.Ref{ref(entities.KindLot, testinghelpers.GroundFloorLot)}); err != nil {
		t.Fatalf("Failed to link phase: %v", err)
	}
	quantities := map[int64]string{testinghelpers.WindowW1: "4", testinghelpers.DoorD1: "2"}
	claims := map[int64]entities.Ref{testinghelpers.WindowW1: launchA, testinghelpers.DoorD1: launchB}

	phaseEdges := make(map[int64]*entities.AllocationEdge)
	for position, qty := range quantities {
		edge := f.find(t, entities.ModePhase, structure, ref(entities.KindPosition, position), ref(entities.KindLot, testinghelpers.GroundFloorLot))
		if _, err := f.ledger.WriteQuantity(ctx, edge.ID, d(qty)); err != nil {
			t.Fatalf("Failed to write phase quantity: %v", err)
		}
		phaseEdges[position] = edge
	}
	for _, launch := range []entities.Ref{launchA, launchB} {
		if _, err := h.LinkParents(ctx, launch, []entities.Ref{structure}); err != nil {
			t.Fatalf("Failed to link launch: %v", err)
		}
	}
	for position, launch := range claims {
		edge := f.find(t, entities.ModeLaunch, launch, phaseEdges[position].Ref(), structure)
		if _, err := f.ledger.ToggleAffected(ctx, edge.ID, true); err != nil {
			t.Fatalf("Failed to affect: %v", err)
		}
	}
}

func (f *fixture) find(t *testing.T, mode entities.Mode, owner, consumer, section entities.Ref) *entities.AllocationEdge {
	t.Helper()
	var edge *entities.AllocationEdge
	err := f.ledger.View(context.Background(), func(ctx context.Context, w *ledger.Writer) error {
		var err error
		edge, err = w.Tx().FindEdge(ctx, mode, entities.EdgeKey{Owner: owner, Consumer: consumer, Section: section})
		return err
	})
	if err != nil {
		t.Fatalf("Failed to find edge: %v", err)
	}
	return edge
}

func reservedOn(t *testing.T, edges []*entities.AllocationEdge, consumer entities.Ref, categoryID int64) decimal.Decimal {
	t.Helper()
	for _, e := range edges {
		if e.Consumer == consumer && e.Owner.ID == categoryID {
			return e.Quantity
		}
	}
	t.Fatalf("No reservation of category %d on %s", categoryID, consumer)
	return decimal.Zero
}

func TestPopulateProjectCapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	section := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder, nil, true,
		map[int64]string{testinghelpers.OtherCategory: "300"})

	if _, err := f.budget.Populate(ctx, section.Ref()); err != nil {
		t.Fatalf("Failed to populate: %v", err)
	}
	summary, err := f.budget.Summary(ctx, section.Ref())
	if err != nil {
		t.Fatalf("Failed to summarize: %v", err)
	}
	if !summary.TotalReserved.Equal(d("100")) {
		t.Errorf("Expected 100 reserved, got %s", summary.TotalReserved)
	}
	if !summary.Gain.Equal(d("-200")) {
		t.Errorf("Expected gain -200, got %s", summary.Gain)
	}
	remaining, err := f.budget.RemainingBudget(ctx, section.Ref(), testinghelpers.OtherCategory)
	if err != nil {
		t.Fatalf("Failed to read remaining: %v", err)
	}
	if !remaining.IsZero() {
		t.Errorf("Expected nothing remaining, got %s", remaining)
	}
}

func TestPopulateAcrossCategories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	section := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder, nil, true,
		map[int64]string{testinghelpers.OtherCategory: "250", testinghelpers.InstallationCategory: "50"})

	if _, err := f.budget.Populate(ctx, section.Ref()); err != nil {
		t.Fatalf("Failed to populate: %v", err)
	}
	summary, err := f.budget.Summary(ctx, section.Ref())
	if err != nil {
		t.Fatalf("Failed to summarize: %v", err)
	}
	if got := summary.Category(testinghelpers.OtherCategory).Reserved; !got.Equal(d("100")) {
		t.Errorf("Expected 100 reserved on other, got %s", got)
	}
	if got := summary.Category(testinghelpers.InstallationCategory).Reserved; !got.Equal(d("50")) {
		t.Errorf("Expected 50 reserved on installation, got %s", got)
	}
	if !summary.TotalReserved.Equal(d("150")) || !summary.Gain.Equal(d("-150")) {
		t.Errorf("Expected 150 reserved and gain -150, got %s and %s", summary.TotalReserved, summary.Gain)
	}
}

func TestPopulateSplitsAcrossLaunches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withLaunchBudgets(t)
	first := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder,
		[]int64{testinghelpers.LaunchA, testinghelpers.LaunchB}, true,
		map[int64]string{testinghelpers.OtherCategory: "180"})

	available, err := f.budget.AvailableBudget(ctx, first.Ref(), testinghelpers.OtherCategory)
	if err != nil {
		t.Fatalf("Failed to read available: %v", err)
	}
	if !available.Equal(d("360")) {
		t.Errorf("Expected 360 available, got %s", available)
	}

	if _, err := f.budget.Populate(ctx, first.Ref()); err != nil {
		t.Fatalf("Failed to populate: %v", err)
	}
	edges, err := f.budget.ReservationEdges(ctx, first.Ref())
	if err != nil {
		t.Fatalf("Failed to list reservations: %v", err)
	}
	if got := reservedOn(t, edges, launchA, testinghelpers.OtherCategory); !got.Equal(d("100")) {
		t.Errorf("Expected 100 on launch A, got %s", got)
	}
	if got := reservedOn(t, edges, launchB, testinghelpers.OtherCategory); !got.Equal(d("80")) {
		t.Errorf("Expected 80 on launch B, got %s", got)
	}

	// a second section only finds what the first left on launch A
	second := testinghelpers.AddSection(f.store, entities.KindWorkOrder, 501,
		[]int64{testinghelpers.LaunchA}, true,
		map[int64]string{testinghelpers.OtherCategory: "150"})
	if _, err := f.budget.Populate(ctx, second.Ref()); err != nil {
		t.Fatalf("Failed to populate second section: %v", err)
	}
	gain, err := f.budget.Gain(ctx, second.Ref())
	if err != nil {
		t.Fatalf("Failed to read gain: %v", err)
	}
	if !gain.Equal(d("-50")) {
		t.Errorf("Expected gain -50, got %s", gain)
	}

	// cancelling the first section releases its budget
	if _, err := f.budget.SetSectionState(ctx, first.Ref(), entities.SectionCancelled); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}
	if _, err := f.budget.Populate(ctx, second.Ref()); err != nil {
		t.Fatalf("Failed to repopulate: %v", err)
	}
	reserved, err := f.budget.TotalReserved(ctx, second.Ref())
	if err != nil {
		t.Fatalf("Failed to read reserved: %v", err)
	}
	if !reserved.Equal(d("150")) {
		t.Errorf("Expected 150 reserved after release, got %s", reserved)
	}

	_, err = f.budget.SetSectionState(ctx, first.Ref(), entities.SectionDraft)
	if !errors.Is(err, domainerr.ErrOverconsumption) {
		t.Errorf("Expected reactivation to overconsume launch A, got %v", err)
	}
	if _, err := f.budget.Populate(ctx, first.Ref()); !errors.Is(err, domainerr.ErrInvalidTransition) {
		t.Errorf("Expected cancelled section to refuse populate, got %v", err)
	}
}

func TestWriteReservationOverconsumption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withLaunchBudgets(t)
	section := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder,
		[]int64{testinghelpers.LaunchA}, false, nil)

	if _, err := f.budget.WriteReservation(ctx, section.Ref(), testinghelpers.OtherCategory, launchA, d("200")); err != nil {
		t.Fatalf("Failed to reserve: %v", err)
	}
	_, err := f.budget.WriteReservation(ctx, section.Ref(), testinghelpers.OtherCategory, launchA, d("200.01"))
	var over *domainerr.OverconsumptionError
	if !errors.As(err, &over) {
		t.Fatalf("Expected OverconsumptionError, got %v", err)
	}
	if !over.Overconsumption.Equal(d("0.01")) {
		t.Errorf("Expected overconsumption 0.01, got %s", over.Overconsumption)
	}
}

func TestDeselectedReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withLaunchBudgets(t)
	section := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder,
		[]int64{testinghelpers.LaunchA, testinghelpers.LaunchB}, false,
		map[int64]string{testinghelpers.OtherCategory: "10"})

	row, err := f.budget.WriteReservation(ctx, section.Ref(), testinghelpers.OtherCategory, launchB, d("50"))
	if err != nil {
		t.Fatalf("Failed to reserve: %v", err)
	}
	if err := f.budget.RemoveReservation(ctx, row.ID); !errors.Is(err, domainerr.ErrDependencyProtected) {
		t.Errorf("Expected a held reservation to be protected, got %v", err)
	}

	_, err = f.budget.SelectLaunches(ctx, section.Ref(), []int64{testinghelpers.LaunchA})
	if !errors.Is(err, domainerr.ErrDependencyProtected) {
		t.Fatalf("Expected manual reservation to block deselection, got %v", err)
	}

	// switching the section to auto mode zeroes then drops the row
	f.setAuto(t, section.Ref())
	result, err := f.budget.SelectLaunches(ctx, section.Ref(), []int64{testinghelpers.LaunchA})
	if err != nil {
		t.Fatalf("Failed to deselect in auto mode: %v", err)
	}
	if result.Removed != 1 {
		t.Errorf("Expected 1 row removed, got %d", result.Removed)
	}
	edges, err := f.budget.ReservationEdges(ctx, section.Ref())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(edges) != 1 || edges[0].Consumer != launchA || !edges[0].Quantity.Equal(d("10")) {
		t.Errorf("Expected a single 10 reservation on launch A, got %+v", edges)
	}
}

func (f *fixture) setAuto(t *testing.T, section entities.Ref) {
	t.Helper()
	testinghelpers.MustRun(f.store, func(ctx context.Context, tx repositories.Tx) error {
		s, err := tx.GetSection(ctx, section)
		if err != nil {
			return err
		}
		s.AutoDistribute = true
		return tx.SaveSection(ctx, s)
	})
}

func TestPopulateRemovesGhostRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withLaunchBudgets(t)
	section := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder,
		[]int64{testinghelpers.LaunchA}, false,
		map[int64]string{testinghelpers.OtherCategory: "10", testinghelpers.InstallationCategory: "10"})

	ghost, err := f.budget.WriteReservation(ctx, section.Ref(), testinghelpers.InstallationCategory, launchA, decimal.Zero)
	if err != nil {
		t.Fatalf("Failed to provision a ghost row: %v", err)
	}
	result, err := f.budget.Populate(ctx, section.Ref())
	if err != nil {
		t.Fatalf("Failed to populate: %v", err)
	}
	if result.Removed != 1 || result.Created != 1 {
		t.Errorf("Expected 1 created and 1 removed, got %d and %d", result.Created, result.Removed)
	}
	if state, err := f.ledger.State(ctx, ghost.ID); err != nil || state != entities.StateRetracted {
		t.Errorf("Expected ghost retracted, got %s (%v)", state, err)
	}
}

func TestBalanceSectionReservesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withLaunchBudgets(t)
	section := testinghelpers.AddSection(f.store, entities.KindBalance, testinghelpers.BalanceSheet,
		[]int64{testinghelpers.LaunchA}, false, nil)

	if _, err := f.budget.Populate(ctx, section.Ref()); err != nil {
		t.Fatalf("Failed to populate: %v", err)
	}
	summary, err := f.budget.Summary(ctx, section.Ref())
	if err != nil {
		t.Fatalf("Failed to summarize: %v", err)
	}
	if got := summary.Category(testinghelpers.OtherCategory).Reserved; !got.Equal(d("200")) {
		t.Errorf("Expected 200 other reserved, got %s", got)
	}
	workshop := summary.Category(testinghelpers.WorkshopCategory)
	if !workshop.Reserved.Equal(d("8")) {
		t.Errorf("Expected 8 workshop hours reserved, got %s", workshop.Reserved)
	}
	if !workshop.ValuedGain.Equal(d("360")) {
		t.Errorf("Expected workshop gain valued at 360, got %s", workshop.ValuedGain)
	}
	if !summary.ValuedGain.Equal(d("560")) {
		t.Errorf("Expected valued gain 560, got %s", summary.ValuedGain)
	}
}

func TestShrinkingLaunchBudgetUnderReservation(t *testing.T) {
	structure := ref(entities.KindPhase, testinghelpers.StructurePhase)
	groundFloor := ref(entities.KindLot, testinghelpers.GroundFloorLot)
	window := ref(entities.KindPosition, testinghelpers.WindowW1)

	tests := []struct {
		name            string
		shrink          func(ctx context.Context, f *fixture, phaseEdge, claim *entities.AllocationEdge) error
		overconsumption string
	}{
		{
			name: "release the claim",
			shrink: func(ctx context.Context, f *fixture, _, claim *entities.AllocationEdge) error {
				_, err := f.ledger.ToggleAffected(ctx, claim.ID, false)
				return err
			},
			overconsumption: "150",
		},
		{
			name: "delete the claim",
			shrink: func(ctx context.Context, f *fixture, _, claim *entities.AllocationEdge) error {
				return f.ledger.Delete(ctx, claim.ID)
			},
			overconsumption: "150",
		},
		{
			name: "lower the phase quantity",
			shrink: func(ctx context.Context, f *fixture, phaseEdge, _ *entities.AllocationEdge) error {
				_, err := f.ledger.WriteQuantity(ctx, phaseEdge.ID, d("1"))
				return err
			},
			overconsumption: "100",
		},
		{
			name: "archive the position",
			shrink: func(ctx context.Context, f *fixture, _, _ *entities.AllocationEdge) error {
				_, err := hierarchy.NewService(f.ledger).SetActive(ctx, window, false)
				return err
			},
			overconsumption: "150",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.withLaunchBudgets(t)
			section := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder,
				[]int64{testinghelpers.LaunchA}, false, nil)
			if _, err := f.budget.WriteReservation(ctx, section.Ref(), testinghelpers.OtherCategory, launchA, d("150")); err != nil {
				t.Fatalf("Failed to reserve: %v", err)
			}
			phaseEdge := f.find(t, entities.ModePhase, structure, window, groundFloor)
			claim := f.find(t, entities.ModeLaunch, launchA, phaseEdge.Ref(), structure)

			err := tt.shrink(ctx, f, phaseEdge, claim)
			var over *domainerr.OverconsumptionError
			if !errors.As(err, &over) {
				t.Fatalf("Expected OverconsumptionError, got %v", err)
			}
			if !errors.Is(err, domainerr.ErrOverconsumption) {
				t.Errorf("Expected error to match the overconsumption code")
			}
			if !over.Overconsumption.Equal(d(tt.overconsumption)) {
				t.Errorf("Expected overconsumption %s, got %s", tt.overconsumption, over.Overconsumption)
			}

			remaining, err := f.budget.RemainingBudget(ctx, section.Ref(), testinghelpers.OtherCategory)
			if err != nil {
				t.Fatalf("Failed to read remaining: %v", err)
			}
			if !remaining.Equal(d("50")) {
				t.Errorf("Expected rolled back remaining 50, got %s", remaining)
			}
			stored, err := f.ledger.Get(ctx, claim.ID)
			if err != nil {
				t.Fatalf("Failed to reload claim: %v", err)
			}
			if !stored.Affected || !stored.Active || !stored.Quantity.Equal(d("4")) {
				t.Errorf("Expected the claim untouched, got affected=%v active=%v quantity=%s",
					stored.Affected, stored.Active, stored.Quantity)
			}
		})
	}
}

func TestArchivingLaunchArchivesItsReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withLaunchBudgets(t)
	section := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder,
		[]int64{testinghelpers.LaunchA}, false, nil)
	row, err := f.budget.WriteReservation(ctx, section.Ref(), testinghelpers.OtherCategory, launchA, d("150"))
	if err != nil {
		t.Fatalf("Failed to reserve: %v", err)
	}

	h := hierarchy.NewService(f.ledger)
	if _, err := h.SetActive(ctx, launchA, false); err != nil {
		t.Fatalf("Failed to archive launch: %v", err)
	}
	stored, err := f.ledger.Get(ctx, row.ID)
	if err != nil {
		t.Fatalf("Failed to reload reservation: %v", err)
	}
	if stored.Active || !stored.Quantity.Equal(d("150")) {
		t.Errorf("Expected an inactive 150 reservation, got active=%v quantity=%s", stored.Active, stored.Quantity)
	}

	if _, err := h.SetActive(ctx, launchA, true); err != nil {
		t.Fatalf("Failed to restore launch: %v", err)
	}
	remaining, err := f.budget.RemainingBudget(ctx, section.Ref(), testinghelpers.OtherCategory)
	if err != nil {
		t.Fatalf("Failed to read remaining: %v", err)
	}
	if !remaining.Equal(d("50")) {
		t.Errorf("Expected remaining 50 after restore, got %s", remaining)
	}
}

func TestReservationWithoutBudgetIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withLaunchBudgets(t)
	section := testinghelpers.AddSection(f.store, entities.KindPurchaseOrder, testinghelpers.PurchaseOrder,
		[]int64{testinghelpers.LaunchA}, false, nil)
	ghost, err := f.budget.WriteReservation(ctx, section.Ref(), testinghelpers.OtherCategory, launchA, decimal.Zero)
	if err != nil {
		t.Fatalf("Failed to provision a zero row: %v", err)
	}
	structure := ref(entities.KindPhase, testinghelpers.StructurePhase)
	phaseEdge := f.find(t, entities.ModePhase, structure, ref(entities.KindPosition, testinghelpers.WindowW1),
		ref(entities.KindLot, testinghelpers.GroundFloorLot))
	claim := f.find(t, entities.ModeLaunch, launchA, phaseEdge.Ref(), structure)

	if _, err := f.ledger.ToggleAffected(ctx, claim.ID, false); err != nil {
		t.Fatalf("Expected releasing an unreserved budget to succeed, got %v", err)
	}
	if state, err := f.ledger.State(ctx, ghost.ID); err != nil || state != entities.StateRetracted {
		t.Errorf("Expected the zero row retracted, got %s (%v)", state, err)
	}
	edges, err := f.budget.ReservationEdges(ctx, section.Ref())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("Expected no reservation left, got %d", len(edges))
	}
}

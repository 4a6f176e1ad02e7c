package hierarchy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/vsinha/affect/pkg/application/services/hierarchy"
	"github.com/vsinha/affect/pkg/application/services/ledger"
	testinghelpers "github.com/vsinha/affect/pkg/application/services/testing"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

var d = testinghelpers.D
var ref = testinghelpers.Ref

var (
	structure   = ref(entities.KindPhase, testinghelpers.StructurePhase)
	groundFloor = ref(entities.KindLot, testinghelpers.GroundFloorLot)
	firstFloor  = ref(entities.KindLot, testinghelpers.FirstFloorLot)
	launchA     = ref(entities.KindLaunch, testinghelpers.LaunchA)
)

func newService(t *testing.T) (*hierarchy.Service, *ledger.Ledger) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	config := ledger.DefaultConfig()
	config.Logger = logger
	l := ledger.NewLedgerWithConfig(testinghelpers.BuildCarpentryTestData(), config)
	return hierarchy.NewService(l), l
}

func listEdges(t *testing.T, l *ledger.Ledger, filter repositories.EdgeFilter) []*entities.AllocationEdge {
	t.Helper()
	var edges []*entities.AllocationEdge
	err := l.View(context.Background(), func(ctx context.Context, w *ledger.Writer) error {
		var err error
		edges, err = w.Tx().ListEdges(ctx, filter)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to list edges: %v", err)
	}
	return edges
}

func phaseEdgeOf(t *testing.T, l *ledger.Ledger, position int64) *entities.AllocationEdge {
	t.Helper()
	edges := listEdges(t, l, repositories.EdgeFilter{
		Mode:      entities.ModePhase,
		Owners:    []entities.Ref{structure},
		Consumers: []entities.Ref{ref(entities.KindPosition, position)},
	})
	if len(edges) != 1 {
		t.Fatalf("Expected one phase edge for position %d, got %d", position, len(edges))
	}
	return edges[0]
}

func TestLinkParentsProvisionsAndRetracts(t *testing.T) {
	ctx := context.Background()
	svc, l := newService(t)

	result, err := svc.LinkParents(ctx, structure, []entities.Ref{groundFloor, firstFloor})
	if err != nil {
		t.Fatalf("Failed to link: %v", err)
	}
	if result.Created != 3 {
		t.Errorf("Expected 3 edges created, got %d", result.Created)
	}
	parents, err := svc.LinkedParents(ctx, structure)
	if err != nil {
		t.Fatalf("Failed to read linked parents: %v", err)
	}
	if len(parents) != 2 || parents[0] != groundFloor || parents[1] != firstFloor {
		t.Errorf("Expected both lots linked, got %v", parents)
	}

	// linking again is a no-op
	result, err = svc.LinkParents(ctx, structure, []entities.Ref{groundFloor, firstFloor})
	if err != nil {
		t.Fatalf("Failed to relink: %v", err)
	}
	if result.Created != 0 || result.Deleted != 0 {
		t.Errorf("Expected no change on relink, got %d created %d deleted", result.Created, result.Deleted)
	}

	result, err = svc.LinkParents(ctx, structure, []entities.Ref{groundFloor})
	if err != nil {
		t.Fatalf("Failed to unlink: %v", err)
	}
	if result.Deleted != 1 || len(result.Unlinked) != 1 || result.Unlinked[0] != firstFloor {
		t.Errorf("Expected first floor unlinked with 1 edge, got %+v", result)
	}
	edges := listEdges(t, l, repositories.EdgeFilter{Mode: entities.ModePhase, Owners: []entities.Ref{structure}})
	if len(edges) != 2 {
		t.Errorf("Expected 2 remaining edges, got %d", len(edges))
	}
}

func TestLinkParentsValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	tests := []struct {
		name    string
		owner   entities.Ref
		parents []entities.Ref
	}{
		{"phase linked to phase", structure, []entities.Ref{ref(entities.KindPhase, testinghelpers.FinishingPhase)}},
		{"launch linked to lot", launchA, []entities.Ref{groundFloor}},
		{"category linked", ref(entities.KindCategory, testinghelpers.OtherCategory), []entities.Ref{structure}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.LinkParents(ctx, tt.owner, tt.parents)
			if !errors.Is(err, domainerr.ErrInvalidArgument) {
				t.Errorf("Expected invalid argument, got %v", err)
			}
		})
	}

	_, err := svc.LinkParents(ctx, structure, []entities.Ref{ref(entities.KindLot, 999)})
	if !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected not found for an unknown lot, got %v", err)
	}
}

func TestUnlinkProtectedByAffectedLaunch(t *testing.T) {
	ctx := context.Background()
	svc, l := newService(t)
	if _, err := svc.LinkParents(ctx, structure, []entities.Ref{groundFloor}); err != nil {
		t.Fatalf("Failed to link: %v", err)
	}
	window := phaseEdgeOf(t, l, testinghelpers.WindowW1)
	if _, err := l.WriteQuantity(ctx, window.ID, d("2")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if _, err := svc.LinkParents(ctx, launchA, []entities.Ref{structure}); err != nil {
		t.Fatalf("Failed to link launch: %v", err)
	}
	claims := listEdges(t, l, repositories.EdgeFilter{Mode: entities.ModeLaunch, Owners: []entities.Ref{launchA}})
	if len(claims) != 1 {
		t.Fatalf("Expected 1 launch edge, got %d", len(claims))
	}
	if _, err := l.ToggleAffected(ctx, claims[0].ID, true); err != nil {
		t.Fatalf("Failed to affect: %v", err)
	}

	_, err := svc.LinkParents(ctx, structure, nil)
	if !errors.Is(err, domainerr.ErrDependencyProtected) {
		t.Fatalf("Expected dependency protection, got %v", err)
	}
	edges := listEdges(t, l, repositories.EdgeFilter{Mode: entities.ModePhase, Owners: []entities.Ref{structure}})
	if len(edges) != 2 {
		t.Errorf("Expected the whole unlink rolled back, got %d edges", len(edges))
	}

	count, err := svc.AffectableCount(ctx, ref(entities.KindLaunch, testinghelpers.LaunchB), structure)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no affectable phase edge for launch B, got %d", count)
	}
}

func TestAddPositionProvisionsLinkedPhases(t *testing.T) {
	ctx := context.Background()
	svc, l := newService(t)
	if _, err := svc.LinkParents(ctx, structure, []entities.Ref{groundFloor}); err != nil {
		t.Fatalf("Failed to link: %v", err)
	}

	position, err := entities.NewPosition(103, testinghelpers.ProjectID, testinghelpers.GroundFloorLot, "Door D2", 4, d("1"))
	if err != nil {
		t.Fatalf("Failed to create position: %v", err)
	}
	created, err := svc.AddPosition(ctx, position)
	if err != nil {
		t.Fatalf("Failed to add position: %v", err)
	}
	if created != 1 {
		t.Errorf("Expected 1 edge created, got %d", created)
	}
	edge := phaseEdgeOf(t, l, 103)
	if edge.SequenceConsumer != 4 {
		t.Errorf("Expected consumer sequence 4, got %d", edge.SequenceConsumer)
	}
}

func TestSetPositionQuantity(t *testing.T) {
	ctx := context.Background()
	svc, l := newService(t)
	if _, err := svc.LinkParents(ctx, structure, []entities.Ref{groundFloor}); err != nil {
		t.Fatalf("Failed to link: %v", err)
	}
	window := phaseEdgeOf(t, l, testinghelpers.WindowW1)
	if _, err := l.WriteQuantity(ctx, window.ID, d("3")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	err := svc.SetPositionQuantity(ctx, testinghelpers.WindowW1, d("2"))
	var over *domainerr.OverconsumptionError
	if !errors.As(err, &over) {
		t.Fatalf("Expected OverconsumptionError, got %v", err)
	}
	if !over.Overconsumption.Equal(d("1")) {
		t.Errorf("Expected overconsumption 1, got %s", over.Overconsumption)
	}
	if over.Owner != structure {
		t.Errorf("Expected owner %s, got %s", structure, over.Owner)
	}

	if err := svc.SetPositionQuantity(ctx, testinghelpers.WindowW1, d("6")); err != nil {
		t.Fatalf("Failed to raise quantity: %v", err)
	}
	count, err := svc.AffectableCount(ctx, structure, groundFloor)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 affectable positions, got %d", count)
	}
}

func TestResequenceAndSetActivePropagate(t *testing.T) {
	ctx := context.Background()
	svc, l := newService(t)
	if _, err := svc.LinkParents(ctx, structure, []entities.Ref{groundFloor}); err != nil {
		t.Fatalf("Failed to link: %v", err)
	}
	window := phaseEdgeOf(t, l, testinghelpers.WindowW1)
	if _, err := l.WriteQuantity(ctx, window.ID, d("1")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if _, err := svc.LinkParents(ctx, launchA, []entities.Ref{structure}); err != nil {
		t.Fatalf("Failed to link launch: %v", err)
	}

	updated, err := svc.Resequence(ctx, ref(entities.KindPosition, testinghelpers.WindowW1), 9)
	if err != nil {
		t.Fatalf("Failed to resequence: %v", err)
	}
	if updated != 2 {
		t.Errorf("Expected phase and launch edges updated, got %d", updated)
	}
	launchEdges := listEdges(t, l, repositories.EdgeFilter{Mode: entities.ModeLaunch, Owners: []entities.Ref{launchA}})
	if len(launchEdges) != 1 || launchEdges[0].SequenceConsumer != 9 {
		t.Errorf("Expected launch edge consumer sequence 9, got %+v", launchEdges)
	}

	if _, err := svc.SetActive(ctx, ref(entities.KindPosition, testinghelpers.WindowW1), false); err != nil {
		t.Fatalf("Failed to archive: %v", err)
	}
	if edge := phaseEdgeOf(t, l, testinghelpers.WindowW1); edge.Active {
		t.Errorf("Expected phase edge inactive")
	}
	launchEdges = listEdges(t, l, repositories.EdgeFilter{Mode: entities.ModeLaunch, Owners: []entities.Ref{launchA}})
	if launchEdges[0].Active {
		t.Errorf("Expected launch edge inactive")
	}
}

func TestAffectableCount(t *testing.T) {
	ctx := context.Background()
	svc, l := newService(t)
	if _, err := svc.LinkParents(ctx, structure, []entities.Ref{groundFloor}); err != nil {
		t.Fatalf("Failed to link: %v", err)
	}
	if _, err := l.WriteQuantity(ctx, phaseEdgeOf(t, l, testinghelpers.WindowW1).ID, d("4")); err != nil {
		t.Fatalf("Failed to write window: %v", err)
	}
	if _, err := l.WriteQuantity(ctx, phaseEdgeOf(t, l, testinghelpers.DoorD1).ID, d("1")); err != nil {
		t.Fatalf("Failed to write door: %v", err)
	}
	if _, err := svc.LinkParents(ctx, launchA, []entities.Ref{structure}); err != nil {
		t.Fatalf("Failed to link launch: %v", err)
	}
	claims := listEdges(t, l, repositories.EdgeFilter{
		Mode:      entities.ModeLaunch,
		Owners:    []entities.Ref{launchA},
		Consumers: []entities.Ref{phaseEdgeOf(t, l, testinghelpers.WindowW1).Ref()},
	})
	if len(claims) != 1 {
		t.Fatalf("Expected 1 launch edge on the window, got %d", len(claims))
	}
	if _, err := l.ToggleAffected(ctx, claims[0].ID, true); err != nil {
		t.Fatalf("Failed to affect: %v", err)
	}

	tests := []struct {
		name     string
		owner    entities.Ref
		parent   entities.Ref
		expected int
	}{
		{"fully allocated position excluded", structure, groundFloor, 1},
		{"untouched lot", structure, firstFloor, 1},
		{"own claim stays affectable", launchA, structure, 2},
		{"claimed by another exclusive launch", ref(entities.KindLaunch, testinghelpers.LaunchB), structure, 1},
		{"many-to-many launch ignores claims", ref(entities.KindLaunch, testinghelpers.SharedLaunch), structure, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := svc.AffectableCount(ctx, tt.owner, tt.parent)
			if err != nil {
				t.Fatalf("Failed to count: %v", err)
			}
			if count != tt.expected {
				t.Errorf("Expected %d affectable consumers, got %d", tt.expected, count)
			}
		})
	}

	if _, err := svc.AffectableCount(ctx, groundFloor, structure); !errors.Is(err, domainerr.ErrInvalidArgument) {
		t.Errorf("Expected invalid argument for a lot owner, got %v", err)
	}
}

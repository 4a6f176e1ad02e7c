package entities

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode tells which relation an edge belongs to
type Mode int

const (
	ModeUnknown Mode = iota
	// ModePhase edges give a quantity of a position to a phase
	ModePhase
	// ModeLaunch edges claim a phase edge into a launch
	ModeLaunch
	// ModeReservation edges reserve a category budget of a launch or project for a section
	ModeReservation
)

// String method for Mode enum
func (m Mode) String() string {
	switch m {
	case ModePhase:
		return "phase"
	case ModeLaunch:
		return "launch"
	case ModeReservation:
		return "reservation"
	default:
		return "unknown"
	}
}

// ParseMode parses the String form of a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "phase":
		return ModePhase, nil
	case "launch":
		return ModeLaunch, nil
	case "reservation", "budget":
		return ModeReservation, nil
	default:
		return ModeUnknown, fmt.Errorf("unknown mode %q", s)
	}
}

// Quantitative reports whether edges of the mode carry a quantity rather than a flag
func (m Mode) Quantitative() bool {
	return m == ModePhase || m == ModeReservation
}

// OwnerKind returns the kind of entity owning edges of the mode
func (m Mode) OwnerKind() Kind {
	switch m {
	case ModePhase:
		return KindPhase
	case ModeLaunch:
		return KindLaunch
	case ModeReservation:
		return KindCategory
	default:
		return KindNone
	}
}

// EdgeKey is the unique identity of an edge within its mode
type EdgeKey struct {
	Owner    Ref
	Consumer Ref
	Section  Ref
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("(%s, %s, %s)", k.Owner, k.Consumer, k.Section)
}

// AllocationEdge links an owner to a consumer, optionally within a section,
// with a quantity or an affected flag.
type AllocationEdge struct {
	ID               int64
	Mode             Mode
	ProjectID        int64
	Owner            Ref
	Consumer         Ref
	Section          Ref
	Quantity         decimal.Decimal
	Affected         bool
	Active           bool
	Exclusive        bool
	SequenceOwner    int
	SequenceConsumer int
	SequenceSection  int
}

// NewAllocationEdge creates a validated, provisioned edge
func NewAllocationEdge(mode Mode, projectID int64, owner, consumer, section Ref) (*AllocationEdge, error) {
	if mode == ModeUnknown {
		return nil, fmt.Errorf("edge mode cannot be unknown")
	}
	if owner.IsZero() {
		return nil, fmt.Errorf("edge owner cannot be empty")
	}
	if consumer.IsZero() {
		return nil, fmt.Errorf("edge consumer cannot be empty")
	}
	if owner.Kind != mode.OwnerKind() {
		return nil, fmt.Errorf("%s edge cannot be owned by %s", mode, owner)
	}
	return &AllocationEdge{
		Mode:      mode,
		ProjectID: projectID,
		Owner:     owner,
		Consumer:  consumer,
		Section:   section,
		Quantity:  decimal.Zero,
		Active:    true,
		Exclusive: mode == ModeLaunch,
	}, nil
}

// Key returns the unique identity of the edge
func (e *AllocationEdge) Key() EdgeKey {
	return EdgeKey{Owner: e.Owner, Consumer: e.Consumer, Section: e.Section}
}

// Ref returns the reference used when this edge is itself a consumer
func (e *AllocationEdge) Ref() Ref { return Ref{Kind: KindEdge, ID: e.ID} }

// Clone returns a copy of the edge
func (e *AllocationEdge) Clone() *AllocationEdge {
	c := *e
	return &c
}

func (e *AllocationEdge) String() string {
	return fmt.Sprintf("%s edge %d %s", e.Mode, e.ID, e.Key())
}

// EdgeState represents where an edge is in its lifecycle
type EdgeState int

const (
	StateProvisioned EdgeState = iota
	StatePartiallyAllocated
	StateFullyAllocated
	StateRetracted
)

// String method for EdgeState enum
func (s EdgeState) String() string {
	switch s {
	case StateProvisioned:
		return "provisioned"
	case StatePartiallyAllocated:
		return "partially-allocated"
	case StateFullyAllocated:
		return "fully-allocated"
	case StateRetracted:
		return "retracted"
	default:
		return "unknown"
	}
}

// StateOf derives the lifecycle state of a live edge from its quantity and
// the remaining quantity of its scope after the write.
func StateOf(quantity, remaining decimal.Decimal) EdgeState {
	switch {
	case quantity.IsZero():
		return StateProvisioned
	case remaining.Sign() <= 0:
		return StateFullyAllocated
	default:
		return StatePartiallyAllocated
	}
}

// CanTransition reports whether an edge may move from one state to another.
// Retracted is terminal; every live state may be re-written or retracted.
func CanTransition(from, to EdgeState) bool {
	if from == StateRetracted {
		return false
	}
	return to >= StateProvisioned && to <= StateRetracted
}

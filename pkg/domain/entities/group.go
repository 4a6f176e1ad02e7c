package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Project is the root of a group hierarchy
type Project struct {
	ID        int64
	Name      string
	Sequence  int
	Active    bool
	DateStart time.Time
	DateEnd   time.Time
}

// NewProject creates a validated Project
func NewProject(id int64, name string, dateStart, dateEnd time.Time) (*Project, error) {
	if id <= 0 {
		return nil, fmt.Errorf("project id must be positive, got %d", id)
	}
	if name == "" {
		return nil, fmt.Errorf("project name cannot be empty")
	}
	if !dateStart.IsZero() && !dateEnd.IsZero() && dateEnd.Before(dateStart) {
		return nil, fmt.Errorf("project end %s is before start %s",
			dateEnd.Format(time.DateOnly), dateStart.Format(time.DateOnly))
	}
	return &Project{ID: id, Name: name, Active: true, DateStart: dateStart, DateEnd: dateEnd}, nil
}

// Ref returns the polymorphic reference of the project
func (p *Project) Ref() Ref { return Ref{Kind: KindProject, ID: p.ID} }

// Group is a Lot, Phase or Launch of a project
type Group struct {
	ID              int64
	Kind            Kind
	ProjectID       int64
	Name            string
	Sequence        int
	Active          bool
	AllowManyToMany bool
}

// NewGroup creates a validated Group
func NewGroup(kind Kind, id, projectID int64, name string, sequence int) (*Group, error) {
	switch kind {
	case KindLot, KindPhase, KindLaunch:
	default:
		return nil, fmt.Errorf("group kind must be lot, phase or launch, got %s", kind)
	}
	if id <= 0 {
		return nil, fmt.Errorf("%s id must be positive, got %d", kind, id)
	}
	if projectID <= 0 {
		return nil, fmt.Errorf("%s %d has no project", kind, id)
	}
	if name == "" {
		return nil, fmt.Errorf("%s name cannot be empty", kind)
	}
	return &Group{
		ID:        id,
		Kind:      kind,
		ProjectID: projectID,
		Name:      name,
		Sequence:  sequence,
		Active:    true,
	}, nil
}

// Ref returns the polymorphic reference of the group
func (g *Group) Ref() Ref { return Ref{Kind: g.Kind, ID: g.ID} }

// Position is a physical element of a lot, consumed by phases
type Position struct {
	ID        int64
	ProjectID int64
	LotID     int64
	Name      string
	Sequence  int
	Quantity  decimal.Decimal
	Active    bool
}

// NewPosition creates a validated Position
func NewPosition(id, projectID, lotID int64, name string, sequence int, quantity decimal.Decimal) (*Position, error) {
	if id <= 0 {
		return nil, fmt.Errorf("position id must be positive, got %d", id)
	}
	if projectID <= 0 {
		return nil, fmt.Errorf("position %d has no project", id)
	}
	if lotID <= 0 {
		return nil, fmt.Errorf("position %d has no lot", id)
	}
	if name == "" {
		return nil, fmt.Errorf("position name cannot be empty")
	}
	if quantity.IsNegative() {
		return nil, fmt.Errorf("position quantity cannot be negative, got %s", quantity)
	}
	return &Position{
		ID:        id,
		ProjectID: projectID,
		LotID:     lotID,
		Name:      name,
		Sequence:  sequence,
		Quantity:  quantity,
		Active:    true,
	}, nil
}

// Ref returns the polymorphic reference of the position
func (p *Position) Ref() Ref { return Ref{Kind: KindPosition, ID: p.ID} }

// LotRef returns the reference of the lot holding the position
func (p *Position) LotRef() Ref { return Ref{Kind: KindLot, ID: p.LotID} }
